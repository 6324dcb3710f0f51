package transport

import (
	"context"
	"sync"
)

// Fake is an in-memory Transport double for tests: it records every write
// and lets the test inject inbound bytes and errors directly.
type Fake struct {
	mu      sync.Mutex
	opened  bool
	closed  bool
	written [][]byte

	cbMu    sync.RWMutex
	onData  func([]byte)
	onError func(kind ErrorKind, message string)

	OpenErr error
}

var _ Transport = (*Fake)(nil)

// NewFake creates a ready-to-use Fake.
func NewFake() *Fake { return &Fake{} }

func (f *Fake) SetOnData(fn func([]byte)) {
	f.cbMu.Lock()
	f.onData = fn
	f.cbMu.Unlock()
}

func (f *Fake) SetOnError(fn func(kind ErrorKind, message string)) {
	f.cbMu.Lock()
	f.onError = fn
	f.cbMu.Unlock()
}

func (f *Fake) Open(_ context.Context) error {
	f.mu.Lock()
	if f.OpenErr == nil {
		f.opened = true
	}
	f.mu.Unlock()
	return f.OpenErr
}

// Inject feeds bytes to the registered onData callback, simulating an
// inbound chunk from the device.
func (f *Fake) Inject(data []byte) {
	f.cbMu.RLock()
	onData := f.onData
	f.cbMu.RUnlock()
	if onData != nil {
		onData(data)
	}
}

// InjectError fires the registered onError callback.
func (f *Fake) InjectError(kind ErrorKind, msg string) {
	f.cbMu.RLock()
	onError := f.onError
	f.cbMu.RUnlock()
	if onError != nil {
		onError(kind, msg)
	}
}

func (f *Fake) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), data...)
	f.written = append(f.written, cp)
	return nil
}

// Written returns every chunk passed to Write so far, in order.
func (f *Fake) Written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

func (f *Fake) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}
