package channel

import (
	"bytes"
	"errors"
	"testing"
)

func testAccount(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func TestEncodePrizeLockedIsBareWord(t *testing.T) {
	payload := EncodePrizeLocked(7)
	if len(payload) != 32 {
		t.Fatalf("expected 32-byte payload, got %d", len(payload))
	}
	want := make([]byte, 32)
	want[31] = 7
	if !bytes.Equal(payload, want) {
		t.Fatalf("unexpected payload: %x", payload)
	}
	id, err := DecodePrizeLocked(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if id != 7 {
		t.Fatalf("expected raffle id 7, got %d", id)
	}
}

func TestEncodeCancelLayout(t *testing.T) {
	payload := EncodeCancel(0x01_02)
	if len(payload) != 33 {
		t.Fatalf("expected 33-byte payload, got %d", len(payload))
	}
	if payload[0] != byte(OpcodeCancel) {
		t.Fatalf("expected opcode 0, got %d", payload[0])
	}
	if payload[31] != 0x01 || payload[32] != 0x02 {
		t.Fatalf("raffle id not big-endian in trailing word: %x", payload)
	}
	cmd, err := DecodePrizeCommand(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cmd.Opcode != OpcodeCancel || cmd.RaffleID != 0x0102 {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if cmd.Winner != ([20]byte{}) {
		t.Fatalf("cancel command must carry no winner")
	}
}

func TestEncodeWinnerDrawnLayout(t *testing.T) {
	winner := testAccount(0xAB)
	payload := EncodeWinnerDrawn(9, winner)
	if len(payload) != 53 {
		t.Fatalf("expected 53-byte payload, got %d", len(payload))
	}
	if payload[0] != byte(OpcodeWinnerDrawn) {
		t.Fatalf("expected opcode 1, got %d", payload[0])
	}
	if payload[32] != 9 {
		t.Fatalf("raffle id word misplaced: %x", payload)
	}
	if !bytes.Equal(payload[33:], winner[:]) {
		t.Fatalf("winner bytes misplaced: %x", payload[33:])
	}
	cmd, err := DecodePrizeCommand(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cmd.Opcode != OpcodeWinnerDrawn || cmd.RaffleID != 9 || cmd.Winner != winner {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestDecodePrizeCommandRejectsUnknownOpcode(t *testing.T) {
	payload := EncodeCancel(1)
	payload[0] = 0x7F
	_, err := DecodePrizeCommand(payload)
	if !errors.Is(err, ErrUnknownOpcode) {
		t.Fatalf("expected ErrUnknownOpcode, got %v", err)
	}
}

func TestDecodePrizeCommandLengthChecks(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"cancel short", EncodeCancel(1)[:20]},
		{"cancel long", append(EncodeCancel(1), 0x00)},
		{"winner short", EncodeWinnerDrawn(1, testAccount(0x01))[:40]},
		{"winner long", append(EncodeWinnerDrawn(1, testAccount(0x01)), 0x00)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodePrizeCommand(tc.payload)
			if !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
}

func TestDecodeRejectsOverflowingRaffleWord(t *testing.T) {
	payload := EncodeCancel(1)
	payload[1] = 0x01
	if _, err := DecodePrizeCommand(payload); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for cancel, got %v", err)
	}

	locked := EncodePrizeLocked(1)
	locked[0] = 0x01
	if _, err := DecodePrizeLocked(locked); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for prize-locked, got %v", err)
	}
}

func TestDecodePrizeLockedLength(t *testing.T) {
	if _, err := DecodePrizeLocked(EncodeCancel(1)); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for 33-byte payload, got %v", err)
	}
	if _, err := DecodePrizeLocked(nil); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for empty payload, got %v", err)
	}
}

func TestAllowListAuthorize(t *testing.T) {
	list := NewAllowList()
	sender := testAccount(0x11)
	peer := Remote{Chain: 4949, Address: sender}

	if err := list.Authorize(sender, 4949); !errors.Is(err, ErrUnauthorizedSender) {
		t.Fatalf("expected ErrUnauthorizedSender before allow, got %v", err)
	}

	list.Allow(peer)
	if err := list.Authorize(sender, 4949); err != nil {
		t.Fatalf("authorize after allow: %v", err)
	}
	if err := list.Authorize(sender, 5050); !errors.Is(err, ErrUnauthorizedSender) {
		t.Fatalf("same sender on different chain must be rejected, got %v", err)
	}
	if err := list.Authorize(testAccount(0x22), 4949); !errors.Is(err, ErrUnauthorizedSender) {
		t.Fatalf("different sender on allowed chain must be rejected, got %v", err)
	}

	list.Revoke(peer)
	if err := list.Authorize(sender, 4949); !errors.Is(err, ErrUnauthorizedSender) {
		t.Fatalf("expected ErrUnauthorizedSender after revoke, got %v", err)
	}
}

func TestAllowListPeersSorted(t *testing.T) {
	list := NewAllowList()
	list.Allow(Remote{Chain: 9, Address: testAccount(0x02)})
	list.Allow(Remote{Chain: 3, Address: testAccount(0x05)})
	list.Allow(Remote{Chain: 9, Address: testAccount(0x01)})

	peers := list.Peers()
	if len(peers) != 3 {
		t.Fatalf("expected 3 peers, got %d", len(peers))
	}
	if peers[0].Chain != 3 {
		t.Fatalf("expected chain 3 first, got %d", peers[0].Chain)
	}
	if peers[1].Address != testAccount(0x01) || peers[2].Address != testAccount(0x02) {
		t.Fatalf("peers on same chain not ordered by address")
	}
}
