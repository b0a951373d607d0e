package events

import (
	"encoding/hex"
	"strconv"

	"rafflenet/core/types"
)

const (
	// TypeChannelMessageSent is emitted when an outbound payload is accepted
	// by the cross-chain router.
	TypeChannelMessageSent = "channel.message.sent"
	// TypeChannelMessageDelivered is emitted when the relay hands an inbound
	// payload to its destination controller.
	TypeChannelMessageDelivered = "channel.message.delivered"
	// TypeChannelMessageRejected is emitted when a destination controller
	// refuses an inbound payload.
	TypeChannelMessageRejected = "channel.message.rejected"
)

// ChannelMessageSent records an outbound message accepted for delivery.
type ChannelMessageSent struct {
	MessageID   [32]byte
	SourceChain uint64
	DestChain   uint64
	Sender      [20]byte
	Fee         string
}

func (ChannelMessageSent) EventType() string { return TypeChannelMessageSent }

func (e ChannelMessageSent) Event() *types.Event {
	return &types.Event{
		Type: TypeChannelMessageSent,
		Attributes: map[string]string{
			"messageId":   hex.EncodeToString(e.MessageID[:]),
			"sourceChain": strconv.FormatUint(e.SourceChain, 10),
			"destChain":   strconv.FormatUint(e.DestChain, 10),
			"sender":      hex.EncodeToString(e.Sender[:]),
			"fee":         e.Fee,
		},
	}
}

// ChannelMessageDelivered records a message handed to its destination.
type ChannelMessageDelivered struct {
	MessageID [32]byte
	DestChain uint64
	Attempts  uint32
}

func (ChannelMessageDelivered) EventType() string { return TypeChannelMessageDelivered }

func (e ChannelMessageDelivered) Event() *types.Event {
	return &types.Event{
		Type: TypeChannelMessageDelivered,
		Attributes: map[string]string{
			"messageId": hex.EncodeToString(e.MessageID[:]),
			"destChain": strconv.FormatUint(e.DestChain, 10),
			"attempts":  strconv.FormatUint(uint64(e.Attempts), 10),
		},
	}
}

// ChannelMessageRejected records a delivery refused by the destination.
type ChannelMessageRejected struct {
	MessageID [32]byte
	DestChain uint64
	Reason    string
}

func (ChannelMessageRejected) EventType() string { return TypeChannelMessageRejected }

func (e ChannelMessageRejected) Event() *types.Event {
	return &types.Event{
		Type: TypeChannelMessageRejected,
		Attributes: map[string]string{
			"messageId": hex.EncodeToString(e.MessageID[:]),
			"destChain": strconv.FormatUint(e.DestChain, 10),
			"reason":    e.Reason,
		},
	}
}
