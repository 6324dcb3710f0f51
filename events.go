package hostlink

import (
	"encoding/binary"
	"fmt"

	"hostlink/appdata"
	"hostlink/wire"
)

// State is a HostLink connection's place in the Disconnected → Connecting →
// Handshaking → Ready → (Error|Reconnecting) → Disconnected state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateReady
	StateReconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateHandshaking:
		return "Handshaking"
	case StateReady:
		return "Ready"
	case StateReconnecting:
		return "Reconnecting"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// GpsFix is decoded from EvGps / EvPosition frames.
type GpsFix struct {
	NodeID    uint32
	LatE7     int32
	LonE7     int32
	AltitudeM int32
	TimeUnixS uint32
}

// Lat returns the decoded latitude in degrees.
func (g GpsFix) Lat() float64 { return float64(g.LatE7) / 1e7 }

// Lon returns the decoded longitude in degrees.
func (g GpsFix) Lon() float64 { return float64(g.LonE7) / 1e7 }

// NodeInfo is decoded from EvNodeInfo frames.
type NodeInfo struct {
	NodeID   uint32
	Callsign string
}

// StatusEvent is decoded from EvStatus frames.
type StatusEvent struct {
	Code uint8
}

// DeviceEvent is decoded from EvDevice frames: periodic device health,
// distinct from the one-time DeviceInfo populated at handshake.
type DeviceEvent struct {
	BatteryPct uint8
	UptimeS    uint32
}

// RxMessage is decoded from EvRxMsg frames.
type RxMessage struct {
	From    uint32
	To      uint32
	Channel uint8
	MsgID   uint32
	Text    string
	Radio   wire.RadioMetadata
}

func decodeGpsFix(payload []byte) (GpsFix, error) {
	if len(payload) < 20 {
		return GpsFix{}, fmt.Errorf("hostlink: gps payload too short: %d", len(payload))
	}
	return GpsFix{
		NodeID:    binary.LittleEndian.Uint32(payload[0:4]),
		LatE7:     int32(binary.LittleEndian.Uint32(payload[4:8])),
		LonE7:     int32(binary.LittleEndian.Uint32(payload[8:12])),
		AltitudeM: int32(binary.LittleEndian.Uint32(payload[12:16])),
		TimeUnixS: binary.LittleEndian.Uint32(payload[16:20]),
	}, nil
}

func decodeNodeInfo(payload []byte) (NodeInfo, error) {
	if len(payload) < 5 {
		return NodeInfo{}, fmt.Errorf("hostlink: node info payload too short")
	}
	id := binary.LittleEndian.Uint32(payload[0:4])
	n := int(payload[4])
	if len(payload) < 5+n {
		return NodeInfo{}, fmt.Errorf("hostlink: node info callsign truncated")
	}
	return NodeInfo{NodeID: id, Callsign: string(payload[5 : 5+n])}, nil
}

func decodeStatusEvent(payload []byte) (StatusEvent, error) {
	if len(payload) < 1 {
		return StatusEvent{}, fmt.Errorf("hostlink: status payload empty")
	}
	return StatusEvent{Code: payload[0]}, nil
}

func decodeDeviceEvent(payload []byte) (DeviceEvent, error) {
	if len(payload) < 5 {
		return DeviceEvent{}, fmt.Errorf("hostlink: device event payload too short")
	}
	return DeviceEvent{BatteryPct: payload[0], UptimeS: binary.LittleEndian.Uint32(payload[1:5])}, nil
}

func decodeRxMessage(payload []byte) (RxMessage, error) {
	if len(payload) < 15 {
		return RxMessage{}, fmt.Errorf("hostlink: rx message payload too short")
	}
	from := binary.LittleEndian.Uint32(payload[0:4])
	to := binary.LittleEndian.Uint32(payload[4:8])
	channel := payload[8]
	msgID := binary.LittleEndian.Uint32(payload[9:13])
	textLen := int(binary.LittleEndian.Uint16(payload[13:15]))
	if len(payload) < 15+textLen {
		return RxMessage{}, fmt.Errorf("hostlink: rx message text truncated")
	}
	text := string(payload[15 : 15+textLen])

	msg := RxMessage{From: from, To: to, Channel: channel, MsgID: msgID, Text: text}
	rest := payload[15+textLen:]
	if len(rest) >= 11 {
		msg.Radio = wire.RadioMetadata{
			RSSI:       float32(int8(rest[0])),
			SNR:        float32(int8(rest[1])) / 4,
			HopsAway:   int(rest[2]),
			AirtimeMs:  int(binary.LittleEndian.Uint16(rest[3:5])),
			RetryCount: int(rest[5]),
		}
	}
	return msg, nil
}

// decodeAppDataEvent parses an EvAppData frame payload into a
// wire.AppDataEvent. Layout mirrors CmdTxAppData's preferred header plus
// the chunk bytes.
func decodeAppDataEvent(payload []byte) (wire.AppDataEvent, error) {
	const headerLen = 4 + 4 + 4 + 1 + 1 + 8 + 4 + 4 + 4 + 4 + 2
	if len(payload) < headerLen {
		return wire.AppDataEvent{}, fmt.Errorf("hostlink: app-data event payload too short: %d", len(payload))
	}
	off := 0
	readU32 := func() uint32 {
		v := binary.LittleEndian.Uint32(payload[off : off+4])
		off += 4
		return v
	}
	portnum := readU32()
	from := readU32()
	to := readU32()
	channel := payload[off]
	off++
	_ = payload[off] // flags, unused on the event path
	off++
	var teamID [8]byte
	copy(teamID[:], payload[off:off+8])
	off += 8
	teamKeyID := readU32()
	msgID := readU32()
	totalLen := readU32()
	offset := readU32()
	chunkLen := binary.LittleEndian.Uint16(payload[off : off+2])
	off += 2

	if len(payload) < off+int(chunkLen) {
		return wire.AppDataEvent{}, fmt.Errorf("hostlink: app-data chunk truncated")
	}
	chunk := make([]byte, chunkLen)
	copy(chunk, payload[off:off+int(chunkLen)])

	return wire.AppDataEvent{
		PortNum: portnum, From: from, To: to, Channel: channel,
		TeamID: teamID, TeamKeyID: teamKeyID, MsgID: msgID,
		TotalLen: totalLen, Offset: offset, ChunkLen: chunkLen, Chunk: chunk,
	}, nil
}

func decodeTeamState(payload []byte) (wire.TeamState, error) {
	if len(payload) < 38 {
		return wire.TeamState{}, fmt.Errorf("hostlink: team state payload too short: %d", len(payload))
	}
	off := 2 // version, flags
	off += 2 // reserved
	selfID := binary.LittleEndian.Uint32(payload[off : off+4])
	off += 4
	var teamID [8]byte
	copy(teamID[:], payload[off:off+8])
	off += 8
	off += 8 // join_target_id, not cached
	teamKeyID := binary.LittleEndian.Uint32(payload[off : off+4])
	off += 4
	off += 4 // last_event_seq
	lastUpdateS := binary.LittleEndian.Uint32(payload[off : off+4])
	off += 4
	nameLen := int(binary.LittleEndian.Uint16(payload[off : off+2]))
	off += 2
	if len(payload) < off+nameLen+1 {
		return wire.TeamState{}, fmt.Errorf("hostlink: team state truncated at team name")
	}
	off += nameLen // team name not part of the cached TeamState value
	memberCount := int(payload[off])
	off++

	members := make([]wire.TeamMember, 0, memberCount)
	for i := 0; i < memberCount; i++ {
		if len(payload) < off+5 {
			return wire.TeamState{}, fmt.Errorf("hostlink: team state truncated at member %d", i)
		}
		id := binary.LittleEndian.Uint32(payload[off : off+4])
		off += 4
		csLen := int(payload[off])
		off++
		if len(payload) < off+csLen {
			return wire.TeamState{}, fmt.Errorf("hostlink: team state truncated at member %d callsign", i)
		}
		members = append(members, wire.TeamMember{ID: id, Callsign: string(payload[off : off+csLen])})
		off += csLen
	}

	return wire.TeamState{
		SelfID: selfID, TeamID: teamID, TeamKeyID: teamKeyID,
		Members: members, LastUpdateSec: lastUpdateS,
	}, nil
}

func decodeHelloAck(payload []byte) (wire.DeviceInfo, error) {
	if len(payload) < 9 {
		return wire.DeviceInfo{}, fmt.Errorf("hostlink: hello-ack payload too short: %d", len(payload))
	}
	protocolVersion := binary.LittleEndian.Uint16(payload[0:2])
	maxFrameLen := binary.LittleEndian.Uint16(payload[2:4])
	capabilities := binary.LittleEndian.Uint32(payload[4:8])
	off := 8
	modelLen := int(payload[off])
	off++
	if len(payload) < off+modelLen+1 {
		return wire.DeviceInfo{}, fmt.Errorf("hostlink: hello-ack model truncated")
	}
	model := string(payload[off : off+modelLen])
	off += modelLen
	fwLen := int(payload[off])
	off++
	if len(payload) < off+fwLen {
		return wire.DeviceInfo{}, fmt.Errorf("hostlink: hello-ack firmware truncated")
	}
	fw := string(payload[off : off+fwLen])

	return wire.DeviceInfo{
		ProtocolVersion: protocolVersion,
		MaxFrameLen:     maxFrameLen,
		Capabilities:    capabilities,
		Model:           model,
		Firmware:        fw,
	}, nil
}

// encodeHelloAck builds a synthetic HelloAck frame payload; used by tests.
func encodeHelloAck(protocolVersion, maxFrameLen uint16, capabilities uint32, model, fw string) []byte {
	buf := make([]byte, 8+1+len(model)+1+len(fw))
	binary.LittleEndian.PutUint16(buf[0:2], protocolVersion)
	binary.LittleEndian.PutUint16(buf[2:4], maxFrameLen)
	binary.LittleEndian.PutUint32(buf[4:8], capabilities)
	off := 8
	buf[off] = byte(len(model))
	off++
	copy(buf[off:], model)
	off += len(model)
	buf[off] = byte(len(fw))
	off++
	copy(buf[off:], fw)
	return buf
}

// portDecode maps a completed AppDataPacket to its higher-level decode,
// used by the client to fan out positions/tactical/chat events.
func portDecode(pkt *wire.AppDataPacket) (any, error) {
	switch pkt.PortNum {
	case wire.PortTeamTrack, wire.PortTeamPosition:
		return appdata.DecodePosition(pkt)
	case wire.PortTeamWaypoint:
		return appdata.DecodeWaypoint(pkt)
	case wire.PortTeamChat:
		return appdata.DecodeTeamChat(pkt)
	default:
		return nil, fmt.Errorf("hostlink: unknown app-data port %d", pkt.PortNum)
	}
}
