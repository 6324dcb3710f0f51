package teamchat

import (
	"context"
	"testing"

	"hostlink/wire"
)

func TestSendRetriesOnceWithCachedTeamState(t *testing.T) {
	var headers [][]byte
	responses := []wire.ErrorCode{wire.InvalidParam, wire.Ok}
	call := 0

	s := NewSender(0x01020304, func(ctx context.Context, header, payload []byte) (wire.ErrorCode, error) {
		headers = append(headers, append([]byte(nil), header...))
		code := responses[call]
		call++
		return code, nil
	})

	team := &TeamKey{KeyID: 0x11223344}
	copy(team.TeamID[:], []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88})

	code, err := s.Send(context.Background(), 1, wire.PortTeamChat, 0, 1, 2, 0, []byte("hi"), team)
	if err != nil {
		t.Fatal(err)
	}
	if code != wire.Ok {
		t.Fatalf("expected Ok, got %v", code)
	}
	if len(headers) != 2 {
		t.Fatalf("expected exactly 2 app-data frames on the wire, got %d", len(headers))
	}
	if !HasTeamMetadata(headers[0]) {
		t.Fatal("first send should carry HasTeamMetadata")
	}
	if HasTeamMetadata(headers[1]) {
		t.Fatal("second send should have HasTeamMetadata cleared")
	}
	// Second header's team-id/key-id fields (bytes 14:22 and 22:26) must
	// be zeroed.
	if !allZero(headers[1][14:26]) {
		t.Fatal("second send should zero team-id/key-id fields")
	}
}

func TestSendProbesAlternateWireFormatWithoutCachedTeamState(t *testing.T) {
	var headers [][]byte
	responses := []wire.ErrorCode{wire.InvalidParam, wire.InvalidParam, wire.Ok}
	call := 0

	s := NewSender(99, func(ctx context.Context, header, payload []byte) (wire.ErrorCode, error) {
		headers = append(headers, append([]byte(nil), header...))
		code := responses[call]
		call++
		return code, nil
	})

	code, err := s.Send(context.Background(), 1, wire.PortTeamChat, 0, 1, 2, 0, []byte("hi"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if code != wire.Ok {
		t.Fatalf("expected Ok, got %v", code)
	}
	if len(headers) != 3 {
		t.Fatalf("expected exactly 3 sends, got %d", len(headers))
	}
	if len(headers[2]) != len(headers[0])+4 {
		t.Fatalf("alternate header should be 4 bytes longer: got %d vs %d", len(headers[2]), len(headers[0]))
	}
}

func TestSendRemembersFormatForSubsequentSends(t *testing.T) {
	calls := 0
	s := NewSender(1, func(ctx context.Context, header, payload []byte) (wire.ErrorCode, error) {
		calls++
		if calls == 1 {
			return wire.InvalidParam, nil
		}
		return wire.Ok, nil
	})

	if _, err := s.Send(context.Background(), 1, wire.PortTeamChat, 0, 1, 2, 0, []byte("a"), nil); err != nil {
		t.Fatal(err)
	}
	before := calls
	if _, err := s.Send(context.Background(), 1, wire.PortTeamChat, 0, 2, 2, 0, []byte("b"), nil); err != nil {
		t.Fatal(err)
	}
	if calls != before+1 {
		t.Fatalf("second message should pay no probe cost, made %d calls", calls-before)
	}
}

func TestSendPassesThroughNonInvalidParamError(t *testing.T) {
	s := NewSender(1, func(ctx context.Context, header, payload []byte) (wire.ErrorCode, error) {
		return wire.Busy, nil
	})
	code, err := s.Send(context.Background(), 1, wire.PortTeamChat, 0, 1, 1, 0, []byte("a"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if code != wire.Busy {
		t.Fatalf("expected Busy to be returned verbatim, got %v", code)
	}
}

func TestParseConversationKeyRoundTrip(t *testing.T) {
	tk, err := ParseConversationKey("1122334455667788:11223344")
	if err != nil {
		t.Fatal(err)
	}
	want := [8]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}
	if tk.TeamID != want {
		t.Fatalf("unexpected team id: %x", tk.TeamID)
	}
	if tk.KeyID != 0x11223344 {
		t.Fatalf("unexpected key id: %x", tk.KeyID)
	}
}

func TestParseConversationKeyRejectsMalformedInput(t *testing.T) {
	cases := []string{"", "noseparator", "1122:33", "1122334455667788:zz", "zz:11223344"}
	for _, c := range cases {
		if _, err := ParseConversationKey(c); err == nil {
			t.Fatalf("expected error for %q", c)
		}
	}
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
