// Package tracker assigns sequence numbers to outbound commands and matches
// their acknowledgements and tx-results, driving retry/timeout policy.
package tracker

import (
	"sort"
	"sync"
	"time"

	"hostlink/wire"
)

// Outcome is the terminal result delivered on a PendingRequest's Result
// channel. Devices report tx-results without seq correlation, so this is
// matched FIFO against the oldest pending, acked request.
type Outcome struct {
	Success bool
	Reason  string
}

// PendingRequest tracks one in-flight command awaiting acknowledgement.
type PendingRequest struct {
	Seq         uint16
	CommandType wire.Type
	FrameBytes  []byte // original encoded frame, kept for retransmission
	AckTimeout  time.Duration
	MaxRetries  int
	RetriesUsed int
	LastSendAt  time.Time
	IsAcked     bool

	// Acked fires exactly once with the Ack error code.
	Acked chan wire.ErrorCode
	// Result fires exactly once with the tx-result outcome.
	Result chan Outcome

	ackedClosed  bool
	resultClosed bool
}

// Tracker owns the sequence counter and the pending-request table. All
// methods are safe for concurrent use, but it is meant to be driven from a
// single client task.
type Tracker struct {
	mu      sync.Mutex
	seq     uint16
	pending map[uint16]*PendingRequest
	// pendingOrder preserves FIFO registration order for handle_result,
	// since tx-results are delivered without seq correlation and must be
	// matched against the oldest pending, acked request.
	pendingOrder []uint16
}

// New creates an empty Tracker. The sequence counter starts at 0 so the
// first call to NextSeq returns 1, skipping the reserved 0 value.
func New() *Tracker {
	return &Tracker{pending: make(map[uint16]*PendingRequest)}
}

// NextSeq returns the next sequence number, skipping 0 on wrap.
func (tr *Tracker) NextSeq() uint16 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.seq++
	if tr.seq == 0 {
		tr.seq = 1
	}
	return tr.seq
}

// Register allocates a PendingRequest for a just-sent frame.
func (tr *Tracker) Register(seq uint16, cmdType wire.Type, frameBytes []byte, ackTimeout time.Duration, maxRetries int) *PendingRequest {
	pr := &PendingRequest{
		Seq:         seq,
		CommandType: cmdType,
		FrameBytes:  frameBytes,
		AckTimeout:  ackTimeout,
		MaxRetries:  maxRetries,
		LastSendAt:  time.Now(),
		Acked:       make(chan wire.ErrorCode, 1),
		Result:      make(chan Outcome, 1),
	}
	tr.mu.Lock()
	tr.pending[seq] = pr
	tr.pendingOrder = append(tr.pendingOrder, seq)
	tr.mu.Unlock()
	return pr
}

// HandleAck marks seq as acknowledged and fulfills its Acked completion.
// No-op if seq is unknown or already acked (late acks are dropped).
func (tr *Tracker) HandleAck(seq uint16, code wire.ErrorCode) {
	tr.mu.Lock()
	pr, ok := tr.pending[seq]
	if !ok || pr.IsAcked {
		tr.mu.Unlock()
		return
	}
	pr.IsAcked = true
	tr.mu.Unlock()

	tr.fulfillAcked(pr, code)
}

// HandleResult fulfills the Result completion of the oldest pending, acked
// request, since tx-results arrive without seq correlation.
func (tr *Tracker) HandleResult(outcome Outcome) {
	tr.mu.Lock()
	var target *PendingRequest
	for _, seq := range tr.pendingOrder {
		pr, ok := tr.pending[seq]
		if ok && pr.IsAcked && !pr.resultClosed {
			target = pr
			break
		}
	}
	tr.mu.Unlock()

	if target == nil {
		return
	}
	tr.fulfillResult(target, outcome)
}

// TimeOut returns every pending, non-acked request whose last send is at
// least AckTimeout old as of now, ordered by ascending LastSendAt then
// ascending Seq.
func (tr *Tracker) TimeOut(now time.Time) []*PendingRequest {
	tr.mu.Lock()
	var due []*PendingRequest
	for _, seq := range tr.pendingOrder {
		pr, ok := tr.pending[seq]
		if !ok || pr.IsAcked {
			continue
		}
		if now.Sub(pr.LastSendAt) >= pr.AckTimeout {
			due = append(due, pr)
		}
	}
	tr.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if !due[i].LastSendAt.Equal(due[j].LastSendAt) {
			return due[i].LastSendAt.Before(due[j].LastSendAt)
		}
		return due[i].Seq < due[j].Seq
	})
	return due
}

// MarkRetried records a retransmission: bumps RetriesUsed and resets
// LastSendAt. The caller (HostLink client) is responsible for re-encoding
// and re-sending pr.FrameBytes.
func (tr *Tracker) MarkRetried(pr *PendingRequest) {
	tr.mu.Lock()
	pr.RetriesUsed++
	pr.LastSendAt = time.Now()
	tr.mu.Unlock()
}

// Complete removes seq from the table. Safe to call more than once.
func (tr *Tracker) Complete(seq uint16) {
	tr.mu.Lock()
	delete(tr.pending, seq)
	for i, s := range tr.pendingOrder {
		if s == seq {
			tr.pendingOrder = append(tr.pendingOrder[:i], tr.pendingOrder[i+1:]...)
			break
		}
	}
	tr.mu.Unlock()
}

// FailTimeout completes pr with a terminal timeout Result, for use after
// MaxRetries is exhausted. pr is always un-acked at this point (TimeOut only
// returns non-acked requests), so Acked is also fulfilled here with a
// Timeout code — otherwise a caller blocked on <-pr.Acked would wait
// forever, since no Ack will ever arrive for a request this table is about
// to forget.
func (tr *Tracker) FailTimeout(pr *PendingRequest) {
	tr.fulfillAcked(pr, wire.Timeout)
	tr.fulfillResult(pr, Outcome{Success: false, Reason: "timeout"})
	tr.Complete(pr.Seq)
}

// CancelAll fails every outstanding PendingRequest and empties the table:
// Result receives a failed Outcome with Reason "canceled", and a request
// not yet acked receives the Internal code on Acked (there is no separate
// canceled error code). Used by disconnect().
func (tr *Tracker) CancelAll() {
	tr.mu.Lock()
	all := make([]*PendingRequest, 0, len(tr.pending))
	for _, seq := range tr.pendingOrder {
		if pr, ok := tr.pending[seq]; ok {
			all = append(all, pr)
		}
	}
	tr.pending = make(map[uint16]*PendingRequest)
	tr.pendingOrder = nil
	tr.mu.Unlock()

	for _, pr := range all {
		if !pr.IsAcked {
			tr.fulfillAcked(pr, wire.Internal)
		}
		tr.fulfillResult(pr, Outcome{Success: false, Reason: "canceled"})
	}
}

func (tr *Tracker) fulfillAcked(pr *PendingRequest, code wire.ErrorCode) {
	tr.mu.Lock()
	if pr.ackedClosed {
		tr.mu.Unlock()
		return
	}
	pr.ackedClosed = true
	tr.mu.Unlock()
	pr.Acked <- code
}

func (tr *Tracker) fulfillResult(pr *PendingRequest, outcome Outcome) {
	tr.mu.Lock()
	if pr.resultClosed {
		tr.mu.Unlock()
		return
	}
	pr.resultClosed = true
	tr.mu.Unlock()
	pr.Result <- outcome
}

// Pending reports the number of in-flight requests. Used by tests and
// diagnostics.
func (tr *Tracker) Pending() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.pending)
}
