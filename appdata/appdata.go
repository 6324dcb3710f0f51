// Package appdata decodes completed AppDataPacket payloads on the fixed
// application ports into position updates and tactical events.
//
// Coordinates are int32 scaled by 1e7. The exact field layouts are an
// implementation choice (no test vectors were available for them — see
// DESIGN.md's Open Question log), modeled on the TeamState payload's own
// little-endian, fixed-width-then-variable-length shape.
package appdata

import (
	"encoding/binary"
	"fmt"

	"hostlink/wire"
)

// PositionUpdate is decoded from PortTeamPosition and PortTeamTrack packets.
type PositionUpdate struct {
	NodeID    uint32
	LatE7     int32
	LonE7     int32
	AltitudeM int32
	SpeedCms  uint16
	HeadingDeg uint16
	TimeUnixS uint32
}

// Lat returns the decoded latitude in degrees.
func (p PositionUpdate) Lat() float64 { return float64(p.LatE7) / 1e7 }

// Lon returns the decoded longitude in degrees.
func (p PositionUpdate) Lon() float64 { return float64(p.LonE7) / 1e7 }

// TacticalEvent is decoded from PortTeamWaypoint packets.
type TacticalEvent struct {
	NodeID uint32
	LatE7  int32
	LonE7  int32
	Name   string
}

// TeamChatMessage is decoded from PortTeamChat packets.
type TeamChatMessage struct {
	SenderID uint32
	Text     string
}

const positionPayloadLen = 4 + 4 + 4 + 4 + 2 + 2 + 4 // 24 bytes

// DecodePosition parses a PortTeamPosition or PortTeamTrack payload.
func DecodePosition(p *wire.AppDataPacket) (PositionUpdate, error) {
	b := p.Payload
	if len(b) < positionPayloadLen {
		return PositionUpdate{}, fmt.Errorf("appdata: position payload too short: %d bytes", len(b))
	}
	return PositionUpdate{
		NodeID:     binary.LittleEndian.Uint32(b[0:4]),
		LatE7:      int32(binary.LittleEndian.Uint32(b[4:8])),
		LonE7:      int32(binary.LittleEndian.Uint32(b[8:12])),
		AltitudeM:  int32(binary.LittleEndian.Uint32(b[12:16])),
		SpeedCms:   binary.LittleEndian.Uint16(b[16:18]),
		HeadingDeg: binary.LittleEndian.Uint16(b[18:20]),
		TimeUnixS:  binary.LittleEndian.Uint32(b[20:24]),
	}, nil
}

// DecodeWaypoint parses a PortTeamWaypoint payload:
// node_id(4) | lat(4) | lon(4) | name_len(1) | name_bytes.
func DecodeWaypoint(p *wire.AppDataPacket) (TacticalEvent, error) {
	b := p.Payload
	if len(b) < 13 {
		return TacticalEvent{}, fmt.Errorf("appdata: waypoint payload too short: %d bytes", len(b))
	}
	nameLen := int(b[12])
	if len(b) < 13+nameLen {
		return TacticalEvent{}, fmt.Errorf("appdata: waypoint name truncated")
	}
	return TacticalEvent{
		NodeID: binary.LittleEndian.Uint32(b[0:4]),
		LatE7:  int32(binary.LittleEndian.Uint32(b[4:8])),
		LonE7:  int32(binary.LittleEndian.Uint32(b[8:12])),
		Name:   string(b[13 : 13+nameLen]),
	}, nil
}

// DecodeTeamChat parses a PortTeamChat payload: sender_id(4) | text_bytes.
func DecodeTeamChat(p *wire.AppDataPacket) (TeamChatMessage, error) {
	b := p.Payload
	if len(b) < 4 {
		return TeamChatMessage{}, fmt.Errorf("appdata: team chat payload too short: %d bytes", len(b))
	}
	return TeamChatMessage{
		SenderID: binary.LittleEndian.Uint32(b[0:4]),
		Text:     string(b[4:]),
	}, nil
}

// EncodeTeamChat builds a PortTeamChat payload for outbound team messages.
func EncodeTeamChat(senderID uint32, text string) []byte {
	buf := make([]byte, 4+len(text))
	binary.LittleEndian.PutUint32(buf[0:4], senderID)
	copy(buf[4:], text)
	return buf
}
