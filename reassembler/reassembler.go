// Package reassembler joins fragmented AppData payloads, keyed by
// (portnum, from, msg-id), into complete AppDataPacket values.
//
// The per-key buffer table is pruned by a background staleness sweep: an
// entry is discarded once it goes quiet for too long without a new
// fragment.
package reassembler

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hostlink/wire"
)

// StaleHorizon is how long a partial buffer may sit without a new fragment
// before it is silently discarded.
const StaleHorizon = 30 * time.Second

type key struct {
	port uint32
	from uint32
	msg  uint32
}

type partial struct {
	totalLen uint32
	buf      []byte
	covered  []bool
	received int
	teamID   [8]byte
	teamKey  uint32
	updated  time.Time
}

// Reassembler holds in-flight fragment buffers. Safe for concurrent use:
// every method holds an internal mutex.
type Reassembler struct {
	mu      sync.Mutex
	buffers map[key]*partial
}

// New creates an empty Reassembler.
func New() *Reassembler {
	return &Reassembler{buffers: make(map[key]*partial)}
}

// Feed ingests one AppDataEvent and returns the completed packet if this
// fragment was the last one needed, or nil otherwise.
func (r *Reassembler) Feed(ev wire.AppDataEvent) *wire.AppDataPacket {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.Offset == 0 && uint32(ev.ChunkLen) == ev.TotalLen {
		return &wire.AppDataPacket{
			PortNum:   ev.PortNum,
			Origin:    ev.From,
			TeamID:    ev.TeamID,
			TeamKeyID: ev.TeamKeyID,
			Payload:   append([]byte(nil), ev.Chunk...),
		}
	}

	k := key{port: ev.PortNum, from: ev.From, msg: ev.MsgID}
	p, ok := r.buffers[k]
	if ok && p.totalLen != ev.TotalLen {
		// Fragmented collision: a new message reused the same key before
		// the old one completed. Discard the stale buffer.
		logrus.WithFields(logrus.Fields{"port": ev.PortNum, "from": ev.From, "msg_id": ev.MsgID}).
			Warn("reassembler: total_len mismatch, discarding stale buffer")
		delete(r.buffers, k)
		ok = false
	}
	if !ok {
		p = &partial{
			totalLen: ev.TotalLen,
			buf:      make([]byte, ev.TotalLen),
			covered:  make([]bool, ev.TotalLen),
			teamID:   ev.TeamID,
			teamKey:  ev.TeamKeyID,
		}
		r.buffers[k] = p
	}
	p.updated = ev.ReceivedAt
	if p.updated.IsZero() {
		p.updated = time.Now()
	}

	end := ev.Offset + uint32(ev.ChunkLen)
	if end > p.totalLen {
		logrus.WithFields(logrus.Fields{"port": ev.PortNum, "from": ev.From, "msg_id": ev.MsgID}).
			Warn("reassembler: chunk would overflow buffer, rejecting fragment")
		return nil
	}

	newBytes := 0
	for i := uint32(0); i < uint32(ev.ChunkLen); i++ {
		idx := ev.Offset + i
		if !p.covered[idx] {
			p.covered[idx] = true
			newBytes++
		}
		p.buf[idx] = ev.Chunk[i]
	}
	p.received += newBytes

	if p.received >= int(p.totalLen) {
		delete(r.buffers, k)
		return &wire.AppDataPacket{
			PortNum:   ev.PortNum,
			Origin:    ev.From,
			TeamID:    p.teamID,
			TeamKeyID: p.teamKey,
			Payload:   p.buf,
		}
	}
	return nil
}

// Sweep discards partial buffers that have not received a fragment within
// StaleHorizon of now. Intended to be called periodically by the client.
func (r *Reassembler) Sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, p := range r.buffers {
		if now.Sub(p.updated) > StaleHorizon {
			delete(r.buffers, k)
		}
	}
}

// Clear discards all in-flight buffers. Used by disconnect().
func (r *Reassembler) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffers = make(map[key]*partial)
}

// InFlight reports the number of partial buffers currently held. Used by
// tests and diagnostics.
func (r *Reassembler) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffers)
}
