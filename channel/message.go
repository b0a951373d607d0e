package channel

import (
	"errors"
	"math/big"
)

// Selector identifies a chain in the cross-chain fabric. Values come from the
// router operator's registry and are opaque to the protocol.
type Selector uint64

// Remote names one counterpart contract: an account on a selected chain.
type Remote struct {
	Chain   Selector
	Address [20]byte
}

// Message is the authenticated envelope delivered to a controller. The router
// fills SourceChain and Sender from transport-level authentication; Data is
// the opaque application payload.
type Message struct {
	ID          [32]byte
	SourceChain Selector
	Sender      [20]byte
	Data        []byte
}

// Clone returns a copy whose payload the caller may retain.
func (m Message) Clone() Message {
	out := m
	out.Data = append([]byte(nil), m.Data...)
	return out
}

// Handler consumes inbound messages addressed to one controller. The caller
// argument is the account of the delivering endpoint; implementations must
// reject callers other than their configured router.
type Handler interface {
	HandleMessage(caller [20]byte, msg Message) error
}

// Router is the outbound half of the channel collaborator. Fee quotes the
// charge for a destination so controllers can verify their fee balance before
// committing; Send enqueues the payload and returns the assigned message id
// together with the fee charged.
type Router interface {
	Fee(dest Remote) (*big.Int, error)
	Send(dest Remote, data []byte) ([32]byte, *big.Int, error)
}

var (
	// ErrInvalidRouter rejects inbound deliveries whose immediate caller is
	// not the configured channel endpoint.
	ErrInvalidRouter = errors.New("channel: caller is not the configured router")
	// ErrUnauthorizedSender rejects envelopes whose (sender, chain) pair is
	// not on the counterpart allow-list.
	ErrUnauthorizedSender = errors.New("channel: sender not on allow-list")
	// ErrInsufficientFees rejects outbound sends the controller cannot pay
	// for from its fee balance.
	ErrInsufficientFees = errors.New("channel: insufficient fee balance")
	// ErrUnknownDestination rejects sends to a remote the router has no
	// lane for.
	ErrUnknownDestination = errors.New("channel: unknown destination")
	// ErrUnknownOpcode marks a payload whose leading opcode byte is outside
	// the protocol. It signals a misconfigured or compromised counterpart
	// and is fatal for the message, never silently ignored.
	ErrUnknownOpcode = errors.New("channel: unknown message opcode")
	// ErrInvalidPayload marks a payload whose length or framing does not
	// match its opcode.
	ErrInvalidPayload = errors.New("channel: malformed message payload")
)
