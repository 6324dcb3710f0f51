// Package teamchat negotiates the outbound application-data wire format
// for team chat messages by probing the device's firmware with successive
// header layouts until one is accepted.
package teamchat

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"hostlink/wire"
)

// Format identifies which of the three negotiated header layouts is in use.
type Format int

const (
	// FormatPreferred includes HasTeamMetadata with a team-id/key-id.
	FormatPreferred Format = iota
	// FormatNoMetadata is the same header with HasTeamMetadata cleared and
	// team-id/key-id zeroed.
	FormatNoMetadata
	// FormatAlternate is FormatNoMetadata's layout plus 4 reserved bytes
	// before msg_id.
	FormatAlternate
)

func (f Format) String() string {
	switch f {
	case FormatPreferred:
		return "preferred"
	case FormatNoMetadata:
		return "no-metadata"
	case FormatAlternate:
		return "alternate"
	default:
		return "unknown"
	}
}

// hasTeamMetadataFlag is the single flag bit this negotiation cares about.
const hasTeamMetadataFlag = 0x01

// Sender negotiates and remembers the outbound app-data header format for
// one connection. Not safe for concurrent use beyond what the HostLink
// client's single-writer lane already guarantees.
type Sender struct {
	// send encodes+transmits a CmdTxAppData frame and returns the ack
	// error code the device responded with. Supplied by the client so
	// this package stays independent of the tracker/transport wiring.
	send func(ctx context.Context, header, payload []byte) (wire.ErrorCode, error)

	format   Format
	probed   bool
	fromNode uint32
}

// NewSender creates a Sender bound to a frame-sending function.
func NewSender(fromNode uint32, send func(ctx context.Context, header, payload []byte) (wire.ErrorCode, error)) *Sender {
	return &Sender{send: send, fromNode: fromNode}
}

// TeamKey identifies the team-id/key-id pair to stamp outbound frames with.
type TeamKey struct {
	TeamID [8]byte
	KeyID  uint32
}

// ParseConversationKey parses a "<16-hex-teamid>:<8-hex-keyid>" string.
func ParseConversationKey(s string) (TeamKey, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return TeamKey{}, fmt.Errorf("teamchat: malformed conversation key %q", s)
	}
	teamBytes, err := hex.DecodeString(parts[0])
	if err != nil || len(teamBytes) != 8 {
		return TeamKey{}, fmt.Errorf("teamchat: bad team id in %q", s)
	}
	keyBytes, err := hex.DecodeString(parts[1])
	if err != nil || len(keyBytes) != 4 {
		return TeamKey{}, fmt.Errorf("teamchat: bad key id in %q", s)
	}
	var tk TeamKey
	copy(tk.TeamID[:], teamBytes)
	tk.KeyID = binary.BigEndian.Uint32(keyBytes)
	return tk, nil
}

// Send transmits a team chat message to the given channel, retrying
// through the format negotiation on InvalidParam. team supplies the
// team-id/key-id to stamp on the preferred format; pass nil when no team
// key is known (the preferred format is then sent unkeyed).
func (s *Sender) Send(ctx context.Context, channel uint8, portnum uint32, to uint32, msgID, totalLen, offset uint32, chunk []byte, team *TeamKey) (wire.ErrorCode, error) {
	if s.probed {
		return s.sendOnce(ctx, s.format, channel, portnum, to, msgID, totalLen, offset, chunk, team)
	}

	order := []Format{FormatPreferred, FormatNoMetadata, FormatAlternate}
	var lastCode wire.ErrorCode
	for _, f := range order {
		code, err := s.sendOnce(ctx, f, channel, portnum, to, msgID, totalLen, offset, chunk, team)
		if err != nil {
			return code, err
		}
		lastCode = code
		if code == wire.InvalidParam {
			logrus.WithField("format", f).Info("teamchat: format rejected, advancing negotiation")
			continue
		}
		// Any outcome other than InvalidParam — including Ok — settles
		// the negotiation for the rest of this connection.
		s.format = f
		s.probed = true
		return code, nil
	}
	// All formats exhausted without a non-InvalidParam response: remember
	// the last (alternate) format so we don't re-probe from scratch.
	s.format = FormatAlternate
	s.probed = true
	return lastCode, nil
}

func (s *Sender) sendOnce(ctx context.Context, f Format, channel uint8, portnum, to, msgID, totalLen, offset uint32, chunk []byte, team *TeamKey) (wire.ErrorCode, error) {
	header := buildHeader(f, s.fromNode, to, channel, portnum, msgID, totalLen, offset, uint16(len(chunk)), team)
	return s.send(ctx, header, chunk)
}

// buildHeader encodes the CmdTxAppData header. The preferred/no-metadata
// layouts are identical except for the flags byte and team fields; the
// alternate layout inserts 4 reserved bytes before msg_id.
func buildHeader(f Format, from, to uint32, channel uint8, portnum, msgID, totalLen, offset uint32, chunkLen uint16, team *TeamKey) []byte {
	reserved := 0
	if f == FormatAlternate {
		reserved = 4
	}
	const baseLen = 4 + 4 + 4 + 1 + 1 + 8 + 4 + 4 + 4 + 4 + 2
	buf := make([]byte, baseLen+reserved)

	off := 0
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(buf[off:off+4], v)
		off += 4
	}

	putU32(portnum)
	putU32(from)
	putU32(to)
	buf[off] = channel
	off++

	var flags byte
	var teamID [8]byte
	var keyID uint32
	if f == FormatPreferred && team != nil {
		flags = hasTeamMetadataFlag
		teamID = team.TeamID
		keyID = team.KeyID
	}
	buf[off] = flags
	off++

	copy(buf[off:off+8], teamID[:])
	off += 8

	putU32(keyID)

	if reserved > 0 {
		off += reserved // reserved bytes left zero
	}

	putU32(msgID)
	putU32(totalLen)
	putU32(offset)
	binary.LittleEndian.PutUint16(buf[off:off+2], chunkLen)
	off += 2

	return buf
}

// HasTeamMetadata reports whether a raw encoded header (as produced by
// buildHeader) carries the HasTeamMetadata flag. Exported for tests that
// inspect frames captured off the wire.
func HasTeamMetadata(header []byte) bool {
	if len(header) < 14 {
		return false
	}
	return header[13]&hasTeamMetadataFlag != 0
}
