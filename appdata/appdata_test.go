package appdata

import (
	"encoding/binary"
	"testing"

	"hostlink/wire"
)

func encodePosition(p PositionUpdate) []byte {
	buf := make([]byte, positionPayloadLen)
	binary.LittleEndian.PutUint32(buf[0:4], p.NodeID)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.LatE7))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(p.LonE7))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(p.AltitudeM))
	binary.LittleEndian.PutUint16(buf[16:18], p.SpeedCms)
	binary.LittleEndian.PutUint16(buf[18:20], p.HeadingDeg)
	binary.LittleEndian.PutUint32(buf[20:24], p.TimeUnixS)
	return buf
}

func TestDecodePositionRoundTrip(t *testing.T) {
	want := PositionUpdate{NodeID: 42, LatE7: 123456789, LonE7: -987654321, AltitudeM: 150, SpeedCms: 300, HeadingDeg: 90, TimeUnixS: 1700000000}
	pkt := &wire.AppDataPacket{PortNum: wire.PortTeamPosition, Payload: encodePosition(want)}

	got, err := DecodePosition(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if got.Lat() <= 12.3 || got.Lat() >= 12.4 {
		t.Fatalf("unexpected decoded latitude: %v", got.Lat())
	}
}

func TestDecodePositionTooShort(t *testing.T) {
	pkt := &wire.AppDataPacket{Payload: make([]byte, 10)}
	if _, err := DecodePosition(pkt); err == nil {
		t.Fatal("expected an error for truncated position payload")
	}
}

func TestDecodeWaypointRoundTrip(t *testing.T) {
	name := "RP1"
	buf := make([]byte, 13+len(name))
	binary.LittleEndian.PutUint32(buf[0:4], 7)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(int32(11111111)))
	lonE7 := int32(-22222222)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(lonE7))
	buf[12] = byte(len(name))
	copy(buf[13:], name)

	pkt := &wire.AppDataPacket{PortNum: wire.PortTeamWaypoint, Payload: buf}
	got, err := DecodeWaypoint(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if got.NodeID != 7 || got.Name != name {
		t.Fatalf("got %+v", got)
	}
}

func TestDecodeWaypointTruncatedName(t *testing.T) {
	buf := make([]byte, 13)
	buf[12] = 5 // claims 5 bytes of name that aren't present
	pkt := &wire.AppDataPacket{Payload: buf}
	if _, err := DecodeWaypoint(pkt); err == nil {
		t.Fatal("expected truncated-name error")
	}
}

func TestEncodeDecodeTeamChatRoundTrip(t *testing.T) {
	payload := EncodeTeamChat(99, "hello team")
	pkt := &wire.AppDataPacket{PortNum: wire.PortTeamChat, Payload: payload}

	got, err := DecodeTeamChat(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if got.SenderID != 99 || got.Text != "hello team" {
		t.Fatalf("got %+v", got)
	}
}

func TestDecodeTeamChatPayloadShorterThanSenderID(t *testing.T) {
	pkt := &wire.AppDataPacket{Payload: []byte{1, 2}}
	if _, err := DecodeTeamChat(pkt); err == nil {
		t.Fatal("expected error for payload shorter than sender_id")
	}
}
