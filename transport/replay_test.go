package transport

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"
	"time"
)

func TestReplayTransportStreamsRecordedChunks(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "capture-*.bin")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	f.Write(EncodeReplayRecord(0, []byte("AAAA")))
	f.Write(EncodeReplayRecord(1, []byte("BBBB")))
	f.Close()

	rt := NewReplayTransport(f.Name(), 0) // 0 = as fast as possible

	var mu sync.Mutex
	var got [][]byte
	done := make(chan struct{})
	rt.SetOnData(func(b []byte) {
		mu.Lock()
		got = append(got, append([]byte(nil), b...))
		n := len(got)
		mu.Unlock()
		if n == 2 {
			close(done)
		}
	})
	rt.SetOnError(func(kind ErrorKind, msg string) {})

	if err := rt.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer rt.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for replayed chunks")
	}

	if !bytes.Equal(got[0], []byte("AAAA")) || !bytes.Equal(got[1], []byte("BBBB")) {
		t.Fatalf("got %v", got)
	}
}

func TestReplayTransportWriteIsDiscarded(t *testing.T) {
	rt := NewReplayTransport("/nonexistent", 1)
	if err := rt.Write([]byte("x")); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
