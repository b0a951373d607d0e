// Package vrf defines the randomness collaborator the ticket-side controller
// draws winners with. A provider accepts requests and later fulfills them by
// calling back into its consumer with a random word; request and fulfillment
// are always separate steps, mirroring subscription-funded VRF services.
package vrf

import (
	"errors"
	"math/big"
)

// Consumer receives fulfilled randomness. The ticket-side controller
// implements it.
type Consumer interface {
	FulfillRandomWords(requestID [32]byte, word *big.Int) error
}

// Provider issues randomness requests. RequestRandomWords returns the request
// id the fulfillment will carry; callers persist it to correlate the
// callback.
type Provider interface {
	RequestRandomWords() ([32]byte, error)
}

var (
	// ErrNoConsumer is returned when a fulfillment fires with no consumer
	// registered.
	ErrNoConsumer = errors.New("vrf: no consumer registered")
	// ErrUnknownRequest is returned when fulfilling an id the provider never
	// issued.
	ErrUnknownRequest = errors.New("vrf: unknown request id")
	// ErrAlreadyFulfilled is returned when fulfilling an id a second time.
	ErrAlreadyFulfilled = errors.New("vrf: request already fulfilled")
)
