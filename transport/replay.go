package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// replayRecordHeaderLen is the fixed header preceding each captured chunk:
// delay_ms(4) | len(4).
const replayRecordHeaderLen = 8

// ReplayTransport replays a prerecorded capture file's inbound bytes at a
// speed multiplier instead of talking to real hardware. Used by
// cmd/hostlinkctl; the client tests use the in-memory Fake instead.
// Writes are discarded.
//
// Capture format: a sequence of (delay_ms uint32 LE, len uint32 LE,
// data[len]) records. delay_ms is the gap observed before this chunk
// arrived during the original capture.
type ReplayTransport struct {
	path      string
	speedMult float64

	sessionID uuid.UUID

	mu     sync.Mutex
	cancel context.CancelFunc

	cbMu    sync.RWMutex
	onData  func([]byte)
	onError func(kind ErrorKind, message string)
}

var _ Transport = (*ReplayTransport)(nil)

// NewReplayTransport creates a ReplayTransport. speedMult scales the
// recorded inter-chunk delays; 1.0 replays in real time, 0 or negative
// replays as fast as possible.
func NewReplayTransport(path string, speedMult float64) *ReplayTransport {
	return &ReplayTransport{path: path, speedMult: speedMult, sessionID: uuid.New()}
}

func (r *ReplayTransport) SetOnData(fn func([]byte)) {
	r.cbMu.Lock()
	r.onData = fn
	r.cbMu.Unlock()
}

func (r *ReplayTransport) SetOnError(fn func(kind ErrorKind, message string)) {
	r.cbMu.Lock()
	r.onError = fn
	r.cbMu.Unlock()
}

// Open starts a background goroutine streaming the capture file's chunks.
func (r *ReplayTransport) Open(ctx context.Context) error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("replay: open %s: %w", r.path, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{"session": r.sessionID, "file": r.path}).Info("replay: starting playback")
	go r.playLoop(runCtx, f)
	return nil
}

func (r *ReplayTransport) playLoop(ctx context.Context, f *os.File) {
	defer f.Close()

	header := make([]byte, replayRecordHeaderLen)
	for {
		if _, err := io.ReadFull(f, header); err != nil {
			if err != io.EOF {
				r.emitError(IoError, err.Error())
			} else {
				r.emitError(Disconnected, "replay: end of capture")
			}
			return
		}

		delayMs := binary.LittleEndian.Uint32(header[0:4])
		length := binary.LittleEndian.Uint32(header[4:8])

		if r.speedMult > 0 && delayMs > 0 {
			wait := time.Duration(float64(delayMs)/r.speedMult) * time.Millisecond
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}

		data := make([]byte, length)
		if _, err := io.ReadFull(f, data); err != nil {
			r.emitError(IoError, err.Error())
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		r.cbMu.RLock()
		onData := r.onData
		r.cbMu.RUnlock()
		if onData != nil {
			onData(data)
		}
	}
}

func (r *ReplayTransport) emitError(kind ErrorKind, msg string) {
	r.cbMu.RLock()
	onError := r.onError
	r.cbMu.RUnlock()
	if onError != nil {
		onError(kind, msg)
	}
}

// Write is a no-op: the replay device never receives real writes.
func (r *ReplayTransport) Write(data []byte) error { return nil }

// Close cancels the playback goroutine. Safe to call more than once.
func (r *ReplayTransport) Close() error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// EncodeReplayRecord builds one capture record, exported so tests and
// capture-writing tools can build fixtures without reimplementing the
// format.
func EncodeReplayRecord(delayMs uint32, data []byte) []byte {
	buf := make([]byte, replayRecordHeaderLen+len(data))
	binary.LittleEndian.PutUint32(buf[0:4], delayMs)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(data)))
	copy(buf[8:], data)
	return buf
}
