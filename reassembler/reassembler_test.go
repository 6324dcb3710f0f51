package reassembler

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"hostlink/wire"
)

func TestSingleFragmentWholeMessage(t *testing.T) {
	r := New()
	payload := []byte("hi")
	pkt := r.Feed(wire.AppDataEvent{
		PortNum: wire.PortTeamChat, From: 1, MsgID: 1,
		TotalLen: uint32(len(payload)), Offset: 0, ChunkLen: uint16(len(payload)), Chunk: payload,
	})
	if pkt == nil {
		t.Fatal("expected immediate packet")
	}
	if !bytes.Equal(pkt.Payload, payload) {
		t.Fatalf("payload mismatch: %q", pkt.Payload)
	}
	if r.InFlight() != 0 {
		t.Fatalf("expected no buffered state, got %d", r.InFlight())
	}
}

func TestReassembleOrderedFragments(t *testing.T) {
	r := New()
	full := []byte("the quick brown fox jumps over the lazy dog")
	chunkSize := 7

	var pkt *wire.AppDataPacket
	for off := 0; off < len(full); off += chunkSize {
		end := off + chunkSize
		if end > len(full) {
			end = len(full)
		}
		chunk := full[off:end]
		p := r.Feed(wire.AppDataEvent{
			PortNum: wire.PortTeamTrack, From: 5, MsgID: 42,
			TotalLen: uint32(len(full)), Offset: uint32(off), ChunkLen: uint16(len(chunk)), Chunk: chunk,
			ReceivedAt: time.Now(),
		})
		if p != nil {
			pkt = p
		}
	}
	if pkt == nil {
		t.Fatal("expected a completed packet")
	}
	if !bytes.Equal(pkt.Payload, full) {
		t.Fatalf("reassembled payload mismatch: got %q want %q", pkt.Payload, full)
	}
}

func TestReassembleOutOfOrderAndOverlapFreeShuffledFragments(t *testing.T) {
	r := New()
	full := []byte("reassembly must not depend on arrival order at all for correctness")

	type frag struct {
		off, n int
	}
	var frags []frag
	for off, chunkSize := 0, 9; off < len(full); off += chunkSize {
		n := chunkSize
		if off+n > len(full) {
			n = len(full) - off
		}
		frags = append(frags, frag{off, n})
	}
	rnd := rand.New(rand.NewSource(1))
	rnd.Shuffle(len(frags), func(i, j int) { frags[i], frags[j] = frags[j], frags[i] })

	var pkt *wire.AppDataPacket
	for _, f := range frags {
		p := r.Feed(wire.AppDataEvent{
			PortNum: wire.PortTeamPosition, From: 9, MsgID: 7,
			TotalLen: uint32(len(full)), Offset: uint32(f.off), ChunkLen: uint16(f.n), Chunk: full[f.off : f.off+f.n],
			ReceivedAt: time.Now(),
		})
		if p != nil {
			pkt = p
		}
	}
	if pkt == nil {
		t.Fatal("expected a completed packet")
	}
	if !bytes.Equal(pkt.Payload, full) {
		t.Fatalf("mismatch: got %q want %q", pkt.Payload, full)
	}
}

func TestCollisionDiscardsOldBufferWithDifferentTotalLen(t *testing.T) {
	r := New()
	r.Feed(wire.AppDataEvent{
		PortNum: wire.PortTeamChat, From: 1, MsgID: 1,
		TotalLen: 20, Offset: 0, ChunkLen: 5, Chunk: []byte("abcde"), ReceivedAt: time.Now(),
	})
	if r.InFlight() != 1 {
		t.Fatalf("expected 1 in-flight buffer, got %d", r.InFlight())
	}

	full := []byte("xyzuvw")
	if p := r.Feed(wire.AppDataEvent{
		PortNum: wire.PortTeamChat, From: 1, MsgID: 1,
		TotalLen: 6, Offset: 0, ChunkLen: 3, Chunk: full[:3], ReceivedAt: time.Now(),
	}); p != nil {
		t.Fatalf("expected no packet after first fragment of new message, got %+v", p)
	}
	pkt := r.Feed(wire.AppDataEvent{
		PortNum: wire.PortTeamChat, From: 1, MsgID: 1,
		TotalLen: 6, Offset: 3, ChunkLen: 3, Chunk: full[3:], ReceivedAt: time.Now(),
	})
	if pkt == nil || !bytes.Equal(pkt.Payload, full) {
		t.Fatalf("expected fresh buffer to complete with new total_len, got %+v", pkt)
	}
}

func TestOverflowingChunkIsRejected(t *testing.T) {
	r := New()
	pkt := r.Feed(wire.AppDataEvent{
		PortNum: wire.PortTeamChat, From: 1, MsgID: 1,
		TotalLen: 4, Offset: 2, ChunkLen: 4, Chunk: []byte("abcd"), ReceivedAt: time.Now(),
	})
	if pkt != nil {
		t.Fatal("expected no packet for overflowing chunk")
	}
}

func TestSweepDiscardsStaleBuffers(t *testing.T) {
	r := New()
	r.Feed(wire.AppDataEvent{
		PortNum: wire.PortTeamChat, From: 1, MsgID: 1,
		TotalLen: 10, Offset: 0, ChunkLen: 3, Chunk: []byte("abc"),
		ReceivedAt: time.Now().Add(-time.Hour),
	})
	if r.InFlight() != 1 {
		t.Fatal("expected buffered partial")
	}
	r.Sweep(time.Now())
	if r.InFlight() != 0 {
		t.Fatalf("expected stale buffer swept, got %d in flight", r.InFlight())
	}
}
