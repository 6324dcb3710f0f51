// Package hostlink is a Go client for the HostLink serial/radio framing
// protocol: length-prefixed, CRC-protected frames exchanged with a field
// radio over a byte-stream transport.
package hostlink

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"hostlink/appdata"
	"hostlink/codec"
	"hostlink/reassembler"
	"hostlink/teamchat"
	"hostlink/tracker"
	"hostlink/transport"
	"hostlink/wire"
)

// Options configures a Client. Zero values are not meaningful; start from
// DefaultOptions.
type Options struct {
	// SelfNodeID identifies this client as a HostLink peer in outbound
	// frames. There is no device-assigned identity exchange in the
	// handshake, so the caller supplies it.
	SelfNodeID uint32
	// ClientVersion is sent in Hello; the device may reject an
	// incompatible value by never responding (handshake then times out).
	ClientVersion uint16
	// Capabilities advertised in Hello's capabilities_mask.
	Capabilities uint32

	AckTimeout     time.Duration
	MaxRetries     int
	ReconnectDelay time.Duration
	AutoReconnect  bool
	SweepInterval  time.Duration
}

// DefaultOptions returns reasonable defaults for a direct serial link.
func DefaultOptions() Options {
	return Options{
		ClientVersion:  wire.Version,
		Capabilities:   wire.CapTxMsg | wire.CapTxAppData,
		AckTimeout:     2 * time.Second,
		MaxRetries:     3,
		ReconnectDelay: 3 * time.Second,
		AutoReconnect:  true,
		SweepInterval:  500 * time.Millisecond,
	}
}

// Client drives one HostLink connection: handshake, command/ack tracking,
// app-data reassembly, and team chat format negotiation, fanned out to
// subscriber callbacks. It owns the transport, runs its own background
// loops, and exposes a small callback-setter surface for the caller to
// observe state.
type Client struct {
	mu        sync.Mutex
	writeMu   sync.Mutex
	cbMu      sync.RWMutex

	opts      Options
	transport transport.Transport
	decoder   *codec.Decoder
	tracker   *tracker.Tracker
	reasm     *reassembler.Reassembler
	teamChat  *teamchat.Sender

	state      State
	lastError  string
	deviceInfo wire.DeviceInfo
	teamState  *wire.TeamState
	helloAckCh chan wire.DeviceInfo
	helloSeq   uint16
	cancel     context.CancelFunc

	nextMsgID  uint32
	messages   map[uint32]*wire.MessageEntry
	seqToMsgID map[uint16]uint32

	onStateChange     func(State, string)
	onDeviceInfo      func(wire.DeviceInfo)
	onMessage         func(wire.MessageEntry)
	onPosition        func(GpsFix)
	onNodeInfo        func(NodeInfo)
	onStatus          func(StatusEvent)
	onDevice          func(DeviceEvent)
	onTeamState       func(wire.TeamState)
	onTactical        func(appdata.TacticalEvent)
	onTeamChatMessage func(appdata.TeamChatMessage)
	onDecodeError     func(codec.DecodeErrorKind)
	onTransportError  func(transport.ErrorKind, string)
}

// NewClient creates a Client in the Disconnected state.
func NewClient(opts Options) *Client {
	c := &Client{
		opts:       opts,
		decoder:    codec.NewDecoder(0),
		tracker:    tracker.New(),
		reasm:      reassembler.New(),
		messages:   make(map[uint32]*wire.MessageEntry),
		seqToMsgID: make(map[uint16]uint32),
	}
	c.teamChat = teamchat.NewSender(opts.SelfNodeID, c.sendAppDataFrame)
	return c
}

// --- callback setters -------------------------------------------------

func (c *Client) SetOnStateChange(fn func(State, string)) {
	c.cbMu.Lock()
	c.onStateChange = fn
	c.cbMu.Unlock()
}

func (c *Client) SetOnDeviceInfo(fn func(wire.DeviceInfo)) {
	c.cbMu.Lock()
	c.onDeviceInfo = fn
	c.cbMu.Unlock()
}

func (c *Client) SetOnMessage(fn func(wire.MessageEntry)) {
	c.cbMu.Lock()
	c.onMessage = fn
	c.cbMu.Unlock()
}

func (c *Client) SetOnPosition(fn func(GpsFix)) {
	c.cbMu.Lock()
	c.onPosition = fn
	c.cbMu.Unlock()
}

func (c *Client) SetOnNodeInfo(fn func(NodeInfo)) {
	c.cbMu.Lock()
	c.onNodeInfo = fn
	c.cbMu.Unlock()
}

func (c *Client) SetOnStatus(fn func(StatusEvent)) {
	c.cbMu.Lock()
	c.onStatus = fn
	c.cbMu.Unlock()
}

func (c *Client) SetOnDevice(fn func(DeviceEvent)) {
	c.cbMu.Lock()
	c.onDevice = fn
	c.cbMu.Unlock()
}

func (c *Client) SetOnTeamState(fn func(wire.TeamState)) {
	c.cbMu.Lock()
	c.onTeamState = fn
	c.cbMu.Unlock()
}

func (c *Client) SetOnTactical(fn func(appdata.TacticalEvent)) {
	c.cbMu.Lock()
	c.onTactical = fn
	c.cbMu.Unlock()
}

func (c *Client) SetOnTeamChatMessage(fn func(appdata.TeamChatMessage)) {
	c.cbMu.Lock()
	c.onTeamChatMessage = fn
	c.cbMu.Unlock()
}

func (c *Client) SetOnDecodeError(fn func(codec.DecodeErrorKind)) {
	c.cbMu.Lock()
	c.onDecodeError = fn
	c.cbMu.Unlock()
}

func (c *Client) SetOnTransportError(fn func(transport.ErrorKind, string)) {
	c.cbMu.Lock()
	c.onTransportError = fn
	c.cbMu.Unlock()
}

// --- accessors ----------------------------------------------------------

// State returns the client's current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// DeviceInfo returns the most recently handshaken device info. Zero value
// until the first successful handshake.
func (c *Client) DeviceInfo() wire.DeviceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceInfo
}

// TeamState returns the cached team membership snapshot, or nil if none
// has been received yet.
func (c *Client) TeamState() *wire.TeamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.teamState
}

// --- connection lifecycle -----------------------------------------------

// Connect opens t, performs the Hello/HelloAck handshake, and leaves the
// client in StateReady on success. t's SetOnData/SetOnError are claimed by
// the client for the lifetime of the connection.
func (c *Client) Connect(ctx context.Context, t transport.Transport) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("hostlink: Connect called while in state %s", c.state)
	}
	c.transport = t
	c.state = StateConnecting
	c.mu.Unlock()
	c.emitStateChange(StateConnecting, "")

	t.SetOnData(c.handleData)
	t.SetOnError(c.handleTransportError)

	if err := t.Open(ctx); err != nil {
		c.setState(StateError, err.Error())
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	go c.sweepLoop(runCtx)

	c.setState(StateHandshaking, "")
	if err := c.handshake(ctx); err != nil {
		c.setState(StateError, err.Error())
		return err
	}

	c.setState(StateReady, "")

	if c.DeviceInfo().HasCapability(wire.CapSetTime) {
		go c.sendSetTime()
	}
	return nil
}

// Disconnect tears down the connection: cancels background loops, fails
// every pending request, clears in-flight reassembly, and closes the
// transport. Safe to call more than once.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	t := c.transport
	cancel := c.cancel
	c.state = StateDisconnected
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.tracker.CancelAll()
	c.reasm.Clear()
	c.emitStateChange(StateDisconnected, "")

	if t == nil {
		return nil
	}
	return t.Close()
}

func (c *Client) setState(s State, lastErr string) {
	c.mu.Lock()
	c.state = s
	c.lastError = lastErr
	c.mu.Unlock()
	c.emitStateChange(s, lastErr)
}

// --- handshake ------------------------------------------------------------

func (c *Client) handshake(ctx context.Context) error {
	ch := make(chan wire.DeviceInfo, 1)
	seq := c.tracker.NextSeq()
	c.mu.Lock()
	c.helloAckCh = ch
	c.helloSeq = seq
	c.mu.Unlock()

	payload := encodeHelloPayload(c.opts.ClientVersion, c.opts.Capabilities)
	frame, err := codec.Encode(wire.TypeHello, seq, payload, 0)
	if err != nil {
		return err
	}
	if err := c.writeFrame(frame); err != nil {
		return err
	}

	budget := c.opts.AckTimeout * time.Duration(c.opts.MaxRetries+1)
	select {
	case <-ch:
		return nil
	case <-time.After(budget):
		return fmt.Errorf("hostlink: handshake timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func encodeHelloPayload(clientVersion uint16, capabilities uint32) []byte {
	buf := make([]byte, 6)
	buf[0] = byte(clientVersion)
	buf[1] = byte(clientVersion >> 8)
	buf[2] = byte(capabilities)
	buf[3] = byte(capabilities >> 8)
	buf[4] = byte(capabilities >> 16)
	buf[5] = byte(capabilities >> 24)
	return buf
}

func (c *Client) completeHandshake(frame *wire.Frame) {
	c.mu.Lock()
	if c.helloAckCh == nil || frame.Seq != c.helloSeq {
		c.mu.Unlock()
		logrus.WithField("seq", frame.Seq).Warn("hostlink: HelloAck with no matching outstanding Hello, ignoring")
		return
	}
	c.mu.Unlock()

	info, err := decodeHelloAck(frame.Payload)
	if err != nil {
		logrus.WithError(err).Warn("hostlink: malformed HelloAck, ignoring")
		return
	}

	c.mu.Lock()
	c.deviceInfo = info
	c.decoder.SetMaxFrameLen(int(info.MaxFrameLen))
	ch := c.helloAckCh
	c.helloAckCh = nil
	c.mu.Unlock()

	c.emitDeviceInfo(info)
	if ch != nil {
		ch <- info
	}
}

func (c *Client) sendSetTime() {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.AckTimeout)
	defer cancel()
	payload := make([]byte, 4)
	now := uint32(time.Now().Unix())
	payload[0] = byte(now)
	payload[1] = byte(now >> 8)
	payload[2] = byte(now >> 16)
	payload[3] = byte(now >> 24)

	pr, err := c.sendCommand(ctx, wire.TypeCmdSetTime, payload)
	if err != nil {
		logrus.WithError(err).Warn("hostlink: set_time send failed")
		return
	}
	select {
	case code := <-pr.Acked:
		if code != wire.Ok {
			logrus.WithField("code", code).Warn("hostlink: device rejected set_time")
		}
	case <-ctx.Done():
	}
}

// --- inbound dispatch -------------------------------------------------

func (c *Client) handleData(data []byte) {
	c.mu.Lock()
	c.decoder.Append(data)
	events := c.decoder.Drain()
	c.mu.Unlock()

	for _, ev := range events {
		if ev.Err != nil {
			c.emitDecodeError(ev.Err.Kind)
			continue
		}
		c.dispatch(ev.Frame)
	}
}

func (c *Client) dispatch(frame *wire.Frame) {
	switch frame.Type {
	case wire.TypeHelloAck:
		c.completeHandshake(frame)

	case wire.TypeAck:
		if len(frame.Payload) < 1 {
			return
		}
		c.tracker.HandleAck(frame.Seq, wire.ErrorCode(frame.Payload[0]))

	case wire.TypeEvTxResult:
		c.handleTxResult(frame.Payload)

	case wire.TypeEvStatus:
		if ev, err := decodeStatusEvent(frame.Payload); err == nil {
			c.emitStatus(ev)
		}

	case wire.TypeEvDevice:
		if ev, err := decodeDeviceEvent(frame.Payload); err == nil {
			c.emitDevice(ev)
		}

	case wire.TypeEvGps, wire.TypeEvPosition:
		if fix, err := decodeGpsFix(frame.Payload); err == nil {
			c.emitPosition(fix)
		}

	case wire.TypeEvNodeInfo:
		if ni, err := decodeNodeInfo(frame.Payload); err == nil {
			c.emitNodeInfo(ni)
		}

	case wire.TypeEvTeamState:
		ts, err := decodeTeamState(frame.Payload)
		if err != nil {
			logrus.WithError(err).Warn("hostlink: malformed team state, ignoring")
			return
		}
		c.mu.Lock()
		c.teamState = &ts
		c.mu.Unlock()
		c.emitTeamState(ts)

	case wire.TypeEvTactical:
		if ev, err := decodeTacticalPayload(frame.Payload); err == nil {
			c.emitTactical(ev)
		}

	case wire.TypeEvRxMsg:
		msg, err := decodeRxMessage(frame.Payload)
		if err != nil {
			logrus.WithError(err).Warn("hostlink: malformed rx message, ignoring")
			return
		}
		entry := wire.MessageEntry{
			Direction: wire.DirIncoming,
			MsgID:     msg.MsgID,
			From:      msg.From,
			To:        msg.To,
			Channel:   msg.Channel,
			Text:      msg.Text,
			Status:    wire.StatusSucceeded,
			Radio:     msg.Radio,
		}
		c.emitMessage(entry)

	case wire.TypeEvAppData:
		c.handleAppDataEvent(frame.Payload)

	default:
		logrus.WithField("type", frame.Type).Debug("hostlink: ignoring frame of unrecognized type")
	}
}

func (c *Client) handleTxResult(payload []byte) {
	if len(payload) < 5 {
		return
	}
	msgID := uint32(payload[0]) | uint32(payload[1])<<8 | uint32(payload[2])<<16 | uint32(payload[3])<<24
	success := payload[4] != 0
	c.tracker.HandleResult(tracker.Outcome{Success: success})

	c.mu.Lock()
	entry, ok := c.messages[msgID]
	var snapshot wire.MessageEntry
	if ok {
		if success {
			entry.Status = wire.StatusSucceeded
		} else {
			entry.Status = wire.StatusFailed
		}
		snapshot = *entry
	}
	c.mu.Unlock()
	if ok {
		c.emitMessage(snapshot)
	}
}

func (c *Client) handleAppDataEvent(payload []byte) {
	ev, err := decodeAppDataEvent(payload)
	if err != nil {
		logrus.WithError(err).Warn("hostlink: malformed app-data event, discarding")
		return
	}
	ev.ReceivedAt = time.Now()

	pkt := c.reasm.Feed(ev)
	if pkt == nil {
		return
	}

	decoded, err := portDecode(pkt)
	if err != nil {
		logrus.WithError(err).WithField("port", pkt.PortNum).Warn("hostlink: undecodable app-data packet")
		return
	}

	switch v := decoded.(type) {
	case appdata.PositionUpdate:
		c.emitPosition(GpsFix{NodeID: v.NodeID, LatE7: v.LatE7, LonE7: v.LonE7, AltitudeM: v.AltitudeM, TimeUnixS: v.TimeUnixS})
	case appdata.TacticalEvent:
		c.emitTactical(v)
	case appdata.TeamChatMessage:
		c.emitTeamChatMessage(v)
		c.emitMessage(wire.MessageEntry{
			Direction:  wire.DirIncoming,
			MsgID:      0,
			From:       pkt.Origin,
			Text:       v.Text,
			Status:     wire.StatusSucceeded,
			IsTeamChat: true,
		})
	}
}

func decodeTacticalPayload(payload []byte) (appdata.TacticalEvent, error) {
	return appdata.DecodeWaypoint(&wire.AppDataPacket{Payload: payload})
}

// --- outbound commands ----------------------------------------------------

func (c *Client) writeFrame(frame []byte) error {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return fmt.Errorf("hostlink: not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return t.Write(frame)
}

func (c *Client) sendCommand(ctx context.Context, typ wire.Type, payload []byte) (*tracker.PendingRequest, error) {
	c.mu.Lock()
	maxPayload := int(c.deviceInfo.MaxFrameLen)
	c.mu.Unlock()

	seq := c.tracker.NextSeq()
	frame, err := codec.Encode(typ, seq, payload, maxPayload)
	if err != nil {
		return nil, err
	}
	pr := c.tracker.Register(seq, typ, frame, c.opts.AckTimeout, c.opts.MaxRetries)
	if err := c.writeFrame(frame); err != nil {
		c.tracker.Complete(seq)
		return nil, err
	}
	_ = ctx
	return pr, nil
}

func (c *Client) sendAppDataFrame(ctx context.Context, header, chunk []byte) (wire.ErrorCode, error) {
	full := make([]byte, 0, len(header)+len(chunk))
	full = append(full, header...)
	full = append(full, chunk...)

	pr, err := c.sendCommand(ctx, wire.TypeCmdTxAppData, full)
	if err != nil {
		return wire.Internal, err
	}
	select {
	case code := <-pr.Acked:
		return code, nil
	case <-ctx.Done():
		return wire.Timeout, ctx.Err()
	}
}

// SendMessage transmits a text message on channel to the given destination
// node (0 = broadcast), returning the MessageEntry tracking its lifecycle.
// The entry's Status updates as Ack and EvTxResult frames arrive; observe
// those via SetOnMessage.
func (c *Client) SendMessage(ctx context.Context, to uint32, channel uint8, text string) (*wire.MessageEntry, error) {
	if c.State() != StateReady {
		return nil, fmt.Errorf("hostlink: not connected")
	}

	msgID := atomic.AddUint32(&c.nextMsgID, 1)
	payload := encodeTxMsgPayload(c.opts.SelfNodeID, to, channel, msgID, text)

	pr, err := c.sendCommand(ctx, wire.TypeCmdTxMsg, payload)
	if err != nil {
		return nil, err
	}

	entry := &wire.MessageEntry{
		Direction: wire.DirOutgoing,
		Seq:       pr.Seq,
		MsgID:     msgID,
		From:      c.opts.SelfNodeID,
		To:        to,
		Channel:   channel,
		Text:      text,
		Status:    wire.StatusPending,
	}
	c.mu.Lock()
	c.messages[msgID] = entry
	c.seqToMsgID[pr.Seq] = msgID
	c.mu.Unlock()

	go c.awaitOutcome(pr, msgID)
	return entry, nil
}

func (c *Client) awaitOutcome(pr *tracker.PendingRequest, msgID uint32) {
	code := <-pr.Acked
	c.mu.Lock()
	entry, ok := c.messages[msgID]
	var snapshot wire.MessageEntry
	if ok {
		if code == wire.Ok {
			entry.Status = wire.StatusAcked
		} else {
			entry.Status = wire.StatusFailed
		}
		snapshot = *entry
	}
	c.mu.Unlock()
	if ok {
		c.emitMessage(snapshot)
	}
	if code != wire.Ok {
		return
	}

	outcome := <-pr.Result
	c.mu.Lock()
	entry, ok = c.messages[msgID]
	if ok {
		if outcome.Success {
			entry.Status = wire.StatusSucceeded
		} else {
			entry.Status = wire.StatusFailed
		}
		snapshot = *entry
	}
	c.mu.Unlock()
	if ok {
		c.emitMessage(snapshot)
	}
}

func encodeTxMsgPayload(from, to uint32, channel uint8, msgID uint32, text string) []byte {
	buf := make([]byte, 4+4+1+4+len(text))
	putU32 := func(off int, v uint32) {
		buf[off] = byte(v)
		buf[off+1] = byte(v >> 8)
		buf[off+2] = byte(v >> 16)
		buf[off+3] = byte(v >> 24)
	}
	putU32(0, from)
	putU32(4, to)
	buf[8] = channel
	putU32(9, msgID)
	copy(buf[13:], text)
	return buf
}

// teamAppDataOverhead is the widest CmdTxAppData header the negotiation can
// produce (the alternate format's 4 reserved bytes), used to size chunks so
// a fragment plus header never exceeds the negotiated max frame length.
const teamAppDataOverhead = 44

// SendTeamText transmits a team chat message, fragmenting across the
// negotiated wire format as needed. The team-id/key-id stamped on the
// preferred format come from the most recently cached TeamState, if any.
func (c *Client) SendTeamText(ctx context.Context, channel uint8, text string) (*wire.MessageEntry, error) {
	return c.SendTeamTextWithKey(ctx, channel, text, "")
}

// SendTeamTextWithKey is SendTeamText, but falls back to conversationKey (a
// "<16-hex-teamid>:<8-hex-keyid>" string, see teamchat.ParseConversationKey)
// for the preferred format's team-id/key-id when no TeamState has been
// cached yet. conversationKey is ignored once a TeamState is cached.
func (c *Client) SendTeamTextWithKey(ctx context.Context, channel uint8, text, conversationKey string) (*wire.MessageEntry, error) {
	if c.State() != StateReady {
		return nil, fmt.Errorf("hostlink: not connected")
	}

	c.mu.Lock()
	maxFrame := int(c.deviceInfo.MaxFrameLen)
	var team *teamchat.TeamKey
	if c.teamState != nil {
		team = &teamchat.TeamKey{TeamID: c.teamState.TeamID, KeyID: c.teamState.TeamKeyID}
	}
	c.mu.Unlock()

	if team == nil && conversationKey != "" {
		tk, err := teamchat.ParseConversationKey(conversationKey)
		if err != nil {
			return nil, err
		}
		team = &tk
	}

	payload := appdata.EncodeTeamChat(c.opts.SelfNodeID, text)
	msgID := atomic.AddUint32(&c.nextMsgID, 1)

	chunkSize := maxFrame - teamAppDataOverhead
	if chunkSize <= 0 || chunkSize > len(payload) {
		chunkSize = len(payload)
	}
	if chunkSize <= 0 {
		chunkSize = 1
	}

	entry := &wire.MessageEntry{
		Direction:  wire.DirOutgoing,
		MsgID:      msgID,
		From:       c.opts.SelfNodeID,
		Channel:    channel,
		Text:       text,
		Status:     wire.StatusPending,
		IsTeamChat: true,
	}

	var lastCode wire.ErrorCode
	for offset := 0; offset < len(payload); offset += chunkSize {
		end := offset + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		code, err := c.teamChat.Send(ctx, channel, wire.PortTeamChat, 0, msgID, uint32(len(payload)), uint32(offset), payload[offset:end], team)
		if err != nil {
			return nil, err
		}
		lastCode = code
		if code != wire.Ok {
			break
		}
	}

	if lastCode == wire.Ok {
		entry.Status = wire.StatusSucceeded
	} else {
		entry.Status = wire.StatusFailed
	}
	c.emitMessage(*entry)
	return entry, nil
}

// --- background loops -----------------------------------------------------

func (c *Client) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.sweepOnce(now)
		}
	}
}

func (c *Client) sweepOnce(now time.Time) {
	due := c.tracker.TimeOut(now)
	for _, pr := range due {
		if pr.RetriesUsed < pr.MaxRetries {
			c.tracker.MarkRetried(pr)
			if err := c.writeFrame(pr.FrameBytes); err != nil {
				logrus.WithError(err).Warn("hostlink: retry write failed")
			}
			continue
		}
		c.tracker.FailTimeout(pr)
		c.mu.Lock()
		msgID, ok := c.seqToMsgID[pr.Seq]
		var entry *wire.MessageEntry
		var snapshot wire.MessageEntry
		if ok {
			entry, ok = c.messages[msgID]
		}
		if ok {
			entry.Status = wire.StatusTimeout
			snapshot = *entry
		}
		c.mu.Unlock()
		if ok {
			c.emitMessage(snapshot)
		}
	}
	c.reasm.Sweep(now)
}

func (c *Client) handleTransportError(kind transport.ErrorKind, msg string) {
	c.emitTransportError(kind, msg)

	c.mu.Lock()
	prevState := c.state
	c.mu.Unlock()
	if prevState == StateDisconnected {
		return
	}

	c.tracker.CancelAll()
	c.reasm.Clear()

	if c.opts.AutoReconnect {
		c.setState(StateReconnecting, msg)
		go c.reconnectOnce()
	} else {
		c.setState(StateError, msg)
	}
}

func (c *Client) reconnectOnce() {
	timer := time.NewTimer(c.opts.ReconnectDelay)
	defer timer.Stop()
	<-timer.C

	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return
	}

	budget := c.opts.AckTimeout * time.Duration(c.opts.MaxRetries+2)
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	if err := t.Open(ctx); err != nil {
		c.setState(StateError, err.Error())
		return
	}

	c.setState(StateHandshaking, "")
	if err := c.handshake(ctx); err != nil {
		c.setState(StateError, err.Error())
		return
	}
	c.setState(StateReady, "")
}

// --- event emission (callbacks snapshotted under lock, invoked outside) ---

func (c *Client) emitStateChange(s State, msg string) {
	c.cbMu.RLock()
	fn := c.onStateChange
	c.cbMu.RUnlock()
	if fn != nil {
		fn(s, msg)
	}
}

func (c *Client) emitDeviceInfo(info wire.DeviceInfo) {
	c.cbMu.RLock()
	fn := c.onDeviceInfo
	c.cbMu.RUnlock()
	if fn != nil {
		fn(info)
	}
}

func (c *Client) emitMessage(entry wire.MessageEntry) {
	c.cbMu.RLock()
	fn := c.onMessage
	c.cbMu.RUnlock()
	if fn != nil {
		fn(entry)
	}
}

func (c *Client) emitPosition(fix GpsFix) {
	c.cbMu.RLock()
	fn := c.onPosition
	c.cbMu.RUnlock()
	if fn != nil {
		fn(fix)
	}
}

func (c *Client) emitNodeInfo(ni NodeInfo) {
	c.cbMu.RLock()
	fn := c.onNodeInfo
	c.cbMu.RUnlock()
	if fn != nil {
		fn(ni)
	}
}

func (c *Client) emitStatus(ev StatusEvent) {
	c.cbMu.RLock()
	fn := c.onStatus
	c.cbMu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

func (c *Client) emitDevice(ev DeviceEvent) {
	c.cbMu.RLock()
	fn := c.onDevice
	c.cbMu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

func (c *Client) emitTeamState(ts wire.TeamState) {
	c.cbMu.RLock()
	fn := c.onTeamState
	c.cbMu.RUnlock()
	if fn != nil {
		fn(ts)
	}
}

func (c *Client) emitTactical(ev appdata.TacticalEvent) {
	c.cbMu.RLock()
	fn := c.onTactical
	c.cbMu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

func (c *Client) emitTeamChatMessage(msg appdata.TeamChatMessage) {
	c.cbMu.RLock()
	fn := c.onTeamChatMessage
	c.cbMu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}

func (c *Client) emitDecodeError(kind codec.DecodeErrorKind) {
	c.cbMu.RLock()
	fn := c.onDecodeError
	c.cbMu.RUnlock()
	if fn != nil {
		fn(kind)
	}
}

func (c *Client) emitTransportError(kind transport.ErrorKind, msg string) {
	c.cbMu.RLock()
	fn := c.onTransportError
	c.cbMu.RUnlock()
	if fn != nil {
		fn(kind, msg)
	}
}
