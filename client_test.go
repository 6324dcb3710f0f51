package hostlink

import (
	"context"
	"sync"
	"testing"
	"time"

	"hostlink/codec"
	"hostlink/teamchat"
	"hostlink/transport"
	"hostlink/wire"
)

// fakeDevice answers frames written to fake with whatever respond returns,
// simulating the far end of the link for end-to-end Client tests.
type fakeDevice struct {
	fake    *transport.Fake
	respond func(*wire.Frame) []byte

	mu      sync.Mutex
	dec     *codec.Decoder
	seen    int
	stopped bool
}

func newFakeDevice(t *testing.T, fake *transport.Fake, respond func(*wire.Frame) []byte) *fakeDevice {
	d := &fakeDevice{fake: fake, respond: respond, dec: codec.NewDecoder(0)}
	stop := make(chan struct{})
	t.Cleanup(func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
		close(stop)
	})
	go func() {
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				d.poll()
			}
		}
	}()
	return d
}

func (d *fakeDevice) poll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	written := d.fake.Written()
	if len(written) <= d.seen {
		return
	}
	for _, raw := range written[d.seen:] {
		d.dec.Append(raw)
		for _, ev := range d.dec.Drain() {
			if ev.Frame == nil {
				continue
			}
			if resp := d.respond(ev.Frame); resp != nil {
				d.fake.Inject(resp)
			}
		}
	}
	d.seen = len(written)
}

func defaultRespond(capabilities uint32) func(*wire.Frame) []byte {
	return func(f *wire.Frame) []byte {
		switch f.Type {
		case wire.TypeHello:
			payload := encodeHelloAck(wire.Version, 512, capabilities, "TestRadio", "1.0")
			resp, _ := codec.Encode(wire.TypeHelloAck, f.Seq, payload, 0)
			return resp
		case wire.TypeCmdTxMsg, wire.TypeCmdTxAppData, wire.TypeCmdSetTime, wire.TypeCmdTeamCommand:
			resp, _ := codec.Encode(wire.TypeAck, f.Seq, []byte{byte(wire.Ok)}, 0)
			return resp
		default:
			return nil
		}
	}
}

func connectReady(t *testing.T, opts Options, respond func(*wire.Frame) []byte) (*Client, *transport.Fake) {
	t.Helper()
	fake := transport.NewFake()
	newFakeDevice(t, fake, respond)

	c := NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx, fake); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.State() != StateReady {
		t.Fatalf("expected StateReady, got %v", c.State())
	}
	return c, fake
}

func TestHandshakeReachesReadyStateAndCachesDeviceInfo(t *testing.T) {
	opts := DefaultOptions()
	opts.SelfNodeID = 1
	c, _ := connectReady(t, opts, defaultRespond(wire.CapTxMsg))

	info := c.DeviceInfo()
	if info.Model != "TestRadio" || info.Firmware != "1.0" {
		t.Fatalf("unexpected device info: %+v", info)
	}
	if info.MaxFrameLen != 512 {
		t.Fatalf("expected max frame len 512, got %d", info.MaxFrameLen)
	}
}

func TestHandshakeSendsSetTimeWhenCapabilityPresent(t *testing.T) {
	opts := DefaultOptions()
	opts.SelfNodeID = 1
	fake := transport.NewFake()
	newFakeDevice(t, fake, defaultRespond(wire.CapSetTime))

	c := NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx, fake); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		dec := codec.NewDecoder(0)
		for _, raw := range fake.Written() {
			dec.Append(raw)
		}
		found := false
		for _, ev := range dec.Drain() {
			if ev.Frame != nil && ev.Frame.Type == wire.TypeCmdSetTime {
				found = true
			}
		}
		if found {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected a CmdSetTime frame to be sent after handshake")
}

func TestSendMessageTracksAckThenTxResult(t *testing.T) {
	opts := DefaultOptions()
	opts.SelfNodeID = 1
	c, fake := connectReady(t, opts, defaultRespond(wire.CapTxMsg))

	var mu sync.Mutex
	var statuses []wire.MessageStatus
	c.SetOnMessage(func(e wire.MessageEntry) {
		mu.Lock()
		statuses = append(statuses, e.Status)
		mu.Unlock()
	})

	entry, err := c.SendMessage(context.Background(), 2, 0, "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range statuses {
			if s == wire.StatusAcked {
				return true
			}
		}
		return false
	})

	payload := make([]byte, 5)
	putU32LE(payload, entry.MsgID)
	payload[4] = 1
	resp, _ := codec.Encode(wire.TypeEvTxResult, 0, payload, 0)
	fake.Inject(resp)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range statuses {
			if s == wire.StatusSucceeded {
				return true
			}
		}
		return false
	})
}

func TestSendTeamTextWithKeyStampsParsedConversationKeyWhenNoTeamState(t *testing.T) {
	opts := DefaultOptions()
	opts.SelfNodeID = 1
	c, fake := connectReady(t, opts, defaultRespond(wire.CapTxAppData))

	entry, err := c.SendTeamTextWithKey(context.Background(), 3, "hi team", "1122334455667788:11223344")
	if err != nil {
		t.Fatalf("SendTeamTextWithKey: %v", err)
	}
	if !entry.IsTeamChat {
		t.Fatal("expected IsTeamChat entry")
	}
	if entry.Status != wire.StatusSucceeded {
		t.Fatalf("expected StatusSucceeded, got %v", entry.Status)
	}

	dec := codec.NewDecoder(0)
	var sawKeyedHeader bool
	for _, raw := range fake.Written() {
		dec.Append(raw)
		for _, ev := range dec.Drain() {
			if ev.Frame == nil || ev.Frame.Type != wire.TypeCmdTxAppData {
				continue
			}
			if teamchat.HasTeamMetadata(ev.Frame.Payload) {
				sawKeyedHeader = true
			}
		}
	}
	if !sawKeyedHeader {
		t.Fatal("expected at least one CmdTxAppData frame carrying the parsed conversation key's team metadata")
	}
}

func TestSendTeamTextWithKeyRejectsMalformedConversationKey(t *testing.T) {
	opts := DefaultOptions()
	opts.SelfNodeID = 1
	c, _ := connectReady(t, opts, defaultRespond(wire.CapTxAppData))

	if _, err := c.SendTeamTextWithKey(context.Background(), 3, "hi", "not-a-key"); err == nil {
		t.Fatal("expected an error for a malformed conversation key")
	}
}

func TestReconnectsAfterTransportErrorWhenAutoReconnectEnabled(t *testing.T) {
	opts := DefaultOptions()
	opts.SelfNodeID = 1
	opts.ReconnectDelay = 20 * time.Millisecond
	opts.AutoReconnect = true
	c, fake := connectReady(t, opts, defaultRespond(wire.CapTxMsg))

	var mu sync.Mutex
	var states []State
	c.SetOnStateChange(func(s State, _ string) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	fake.InjectError(transport.Disconnected, "cable pulled")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		sawReconnecting, sawReady := false, false
		for _, s := range states {
			if s == StateReconnecting {
				sawReconnecting = true
			}
			if sawReconnecting && s == StateReady {
				sawReady = true
			}
		}
		return sawReady
	})
}

func TestCrcCorruptionSurfacesDecodeErrorWithoutDroppingConnection(t *testing.T) {
	opts := DefaultOptions()
	opts.SelfNodeID = 1
	c, fake := connectReady(t, opts, defaultRespond(wire.CapTxMsg))

	var mu sync.Mutex
	var kinds []codec.DecodeErrorKind
	c.SetOnDecodeError(func(k codec.DecodeErrorKind) {
		mu.Lock()
		kinds = append(kinds, k)
		mu.Unlock()
	})

	good, _ := codec.Encode(wire.TypeEvStatus, 0, []byte{0}, 0)
	corrupt := append([]byte(nil), good...)
	corrupt[len(corrupt)-1] ^= 0xFF // flip a CRC byte
	fake.Inject(corrupt)
	fake.Inject(good)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, k := range kinds {
			if k == codec.CrcMismatch {
				return true
			}
		}
		return false
	})

	if c.State() != StateReady {
		t.Fatalf("a single corrupted frame should not change connection state, got %v", c.State())
	}
}

func TestHandshakeIgnoresHelloAckWithMismatchedSeq(t *testing.T) {
	opts := DefaultOptions()
	opts.SelfNodeID = 1
	opts.AckTimeout = 30 * time.Millisecond
	opts.MaxRetries = 0
	fake := transport.NewFake()

	respond := func(f *wire.Frame) []byte {
		if f.Type != wire.TypeHello {
			return nil
		}
		// Reply with a HelloAck at the wrong seq first; the real one must
		// still complete the handshake afterwards.
		payload := encodeHelloAck(wire.Version, 512, wire.CapTxMsg, "TestRadio", "1.0")
		bogus, _ := codec.Encode(wire.TypeHelloAck, f.Seq+41, payload, 0)
		fake.Inject(bogus)
		good, _ := codec.Encode(wire.TypeHelloAck, f.Seq, payload, 0)
		return good
	}
	newFakeDevice(t, fake, respond)

	c := NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx, fake); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.State() != StateReady {
		t.Fatalf("expected StateReady, got %v", c.State())
	}
}

func TestSendMessageTimesOutWithoutLeakingAwaitOutcome(t *testing.T) {
	opts := DefaultOptions()
	opts.SelfNodeID = 1
	opts.AckTimeout = 20 * time.Millisecond
	opts.MaxRetries = 1
	opts.SweepInterval = 5 * time.Millisecond

	fake := transport.NewFake()
	// No device on the other end: Hello is answered so the handshake
	// completes, but command frames are never acked.
	newFakeDevice(t, fake, func(f *wire.Frame) []byte {
		if f.Type != wire.TypeHello {
			return nil
		}
		payload := encodeHelloAck(wire.Version, 512, wire.CapTxMsg, "TestRadio", "1.0")
		resp, _ := codec.Encode(wire.TypeHelloAck, f.Seq, payload, 0)
		return resp
	})

	c := NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx, fake); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var mu sync.Mutex
	var statuses []wire.MessageStatus
	c.SetOnMessage(func(e wire.MessageEntry) {
		mu.Lock()
		statuses = append(statuses, e.Status)
		mu.Unlock()
	})

	if _, err := c.SendMessage(ctx, 2, 0, "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range statuses {
			if s == wire.StatusTimeout {
				return true
			}
		}
		return false
	})
}

func putU32LE(buf []byte, v uint32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
