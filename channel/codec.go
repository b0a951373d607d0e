package channel

import (
	"encoding/binary"
	"fmt"
)

// Opcode dispatches prize-side inbound payloads. Ticket-side inbound payloads
// carry no opcode; they are a bare raffle id word.
type Opcode uint8

const (
	// OpcodeCancel instructs the prize side to release a locked prize.
	OpcodeCancel Opcode = 0x00
	// OpcodeWinnerDrawn announces the drawn winner for a raffle.
	OpcodeWinnerDrawn Opcode = 0x01
)

func (o Opcode) String() string {
	switch o {
	case OpcodeCancel:
		return "cancel"
	case OpcodeWinnerDrawn:
		return "winner-drawn"
	default:
		return fmt.Sprintf("opcode(%d)", uint8(o))
	}
}

const (
	raffleWordSize    = 32
	addressSize       = 20
	cancelPayloadSize = 1 + raffleWordSize
	winnerPayloadSize = 1 + raffleWordSize + addressSize
)

// putRaffleWord writes the raffle id as a 32-byte big-endian word.
func putRaffleWord(dst []byte, raffleID uint64) {
	binary.BigEndian.PutUint64(dst[raffleWordSize-8:], raffleID)
}

func raffleWord(src []byte) (uint64, error) {
	for _, b := range src[:raffleWordSize-8] {
		if b != 0 {
			return 0, fmt.Errorf("%w: raffle id exceeds 64 bits", ErrInvalidPayload)
		}
	}
	return binary.BigEndian.Uint64(src[raffleWordSize-8:]), nil
}

// EncodePrizeLocked builds the ticket-side inbound payload: the bare raffle
// id word, no opcode.
func EncodePrizeLocked(raffleID uint64) []byte {
	buf := make([]byte, raffleWordSize)
	putRaffleWord(buf, raffleID)
	return buf
}

// EncodeCancel builds the prize-side cancel payload: opcode 0 followed by the
// raffle id word.
func EncodeCancel(raffleID uint64) []byte {
	buf := make([]byte, cancelPayloadSize)
	buf[0] = byte(OpcodeCancel)
	putRaffleWord(buf[1:], raffleID)
	return buf
}

// EncodeWinnerDrawn builds the prize-side winner payload: opcode 1, the
// raffle id word, then the 20-byte winner account.
func EncodeWinnerDrawn(raffleID uint64, winner [20]byte) []byte {
	buf := make([]byte, winnerPayloadSize)
	buf[0] = byte(OpcodeWinnerDrawn)
	putRaffleWord(buf[1:], raffleID)
	copy(buf[1+raffleWordSize:], winner[:])
	return buf
}

// PrizeCommand is the decoded form of a prize-side inbound payload.
type PrizeCommand struct {
	Opcode   Opcode
	RaffleID uint64
	// Winner is set for OpcodeWinnerDrawn and zero otherwise.
	Winner [20]byte
}

// DecodePrizeCommand decodes a prize-side inbound payload. Payloads with an
// opcode outside the protocol fail with ErrUnknownOpcode; length mismatches
// fail with ErrInvalidPayload. Both abort handling with no state change.
func DecodePrizeCommand(data []byte) (PrizeCommand, error) {
	if len(data) == 0 {
		return PrizeCommand{}, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	switch Opcode(data[0]) {
	case OpcodeCancel:
		if len(data) != cancelPayloadSize {
			return PrizeCommand{}, fmt.Errorf("%w: cancel payload must be %d bytes, got %d", ErrInvalidPayload, cancelPayloadSize, len(data))
		}
		id, err := raffleWord(data[1:])
		if err != nil {
			return PrizeCommand{}, err
		}
		return PrizeCommand{Opcode: OpcodeCancel, RaffleID: id}, nil
	case OpcodeWinnerDrawn:
		if len(data) != winnerPayloadSize {
			return PrizeCommand{}, fmt.Errorf("%w: winner payload must be %d bytes, got %d", ErrInvalidPayload, winnerPayloadSize, len(data))
		}
		id, err := raffleWord(data[1:])
		if err != nil {
			return PrizeCommand{}, err
		}
		var winner [20]byte
		copy(winner[:], data[1+raffleWordSize:])
		return PrizeCommand{Opcode: OpcodeWinnerDrawn, RaffleID: id, Winner: winner}, nil
	default:
		return PrizeCommand{}, fmt.Errorf("%w: %d", ErrUnknownOpcode, data[0])
	}
}

// DecodePrizeLocked decodes the ticket-side inbound payload: a bare raffle id
// word with no opcode byte.
func DecodePrizeLocked(data []byte) (uint64, error) {
	if len(data) != raffleWordSize {
		return 0, fmt.Errorf("%w: prize-locked payload must be %d bytes, got %d", ErrInvalidPayload, raffleWordSize, len(data))
	}
	return raffleWord(data)
}
