package channel

import (
	"sort"
	"sync"
)

// AllowList is the set of counterpart identities a controller accepts inbound
// messages from, keyed by (address, chain selector). Mutation is reserved for
// the admin surface of the owning controller.
type AllowList struct {
	mu    sync.RWMutex
	peers map[Remote]struct{}
}

func NewAllowList() *AllowList {
	return &AllowList{peers: make(map[Remote]struct{})}
}

// Allow adds the remote to the set.
func (a *AllowList) Allow(remote Remote) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.peers == nil {
		a.peers = make(map[Remote]struct{})
	}
	a.peers[remote] = struct{}{}
}

// Revoke removes the remote from the set.
func (a *AllowList) Revoke(remote Remote) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.peers, remote)
}

// IsAllowed reports whether the remote is on the list.
func (a *AllowList) IsAllowed(remote Remote) bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.peers[remote]
	return ok
}

// Authorize returns ErrUnauthorizedSender unless the (sender, chain) pair is
// on the list.
func (a *AllowList) Authorize(sender [20]byte, chain Selector) error {
	if !a.IsAllowed(Remote{Chain: chain, Address: sender}) {
		return ErrUnauthorizedSender
	}
	return nil
}

// Peers returns the current entries ordered by chain then address, so views
// and exports are deterministic.
func (a *AllowList) Peers() []Remote {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Remote, 0, len(a.peers))
	for remote := range a.peers {
		out = append(out, remote)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Chain != out[j].Chain {
			return out[i].Chain < out[j].Chain
		}
		for k := range out[i].Address {
			if out[i].Address[k] != out[j].Address[k] {
				return out[i].Address[k] < out[j].Address[k]
			}
		}
		return false
	})
	return out
}
