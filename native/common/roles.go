package common

import (
	"errors"
	"sync"
)

// Role identifies a capability grantable to an address. The numeric values
// are part of the admin surface and must stay stable.
type Role uint8

const (
	// RoleAdmin may lock and withdraw prizes, manage counterparts, create
	// and cancel raffles, and administer grants.
	RoleAdmin Role = 0
	// RoleAPISigner may sign ticket-price coupons accepted by the ticket
	// controller.
	RoleAPISigner Role = 1
)

var (
	ErrRoleUnauthorized = errors.New("roles: caller lacks required role")
	ErrUnknownRole      = errors.New("roles: unknown role")
)

// Valid reports whether the role value is within the supported range.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAPISigner:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleAPISigner:
		return "api-signer"
	default:
		return "unknown"
	}
}

// RoleSet maps roles to granted addresses. Grant and revoke are restricted to
// admin holders; the bootstrap admin is supplied at construction.
type RoleSet struct {
	mu     sync.RWMutex
	grants map[Role]map[[20]byte]struct{}
}

// NewRoleSet constructs a registry with the supplied address holding the
// admin role.
func NewRoleSet(admin [20]byte) *RoleSet {
	rs := &RoleSet{grants: make(map[Role]map[[20]byte]struct{})}
	rs.grants[RoleAdmin] = map[[20]byte]struct{}{admin: {}}
	return rs
}

// Has reports whether addr currently holds the role.
func (rs *RoleSet) Has(role Role, addr [20]byte) bool {
	if rs == nil {
		return false
	}
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	holders, ok := rs.grants[role]
	if !ok {
		return false
	}
	_, ok = holders[addr]
	return ok
}

// Require returns ErrRoleUnauthorized unless addr holds the role.
func (rs *RoleSet) Require(role Role, addr [20]byte) error {
	if !rs.Has(role, addr) {
		return ErrRoleUnauthorized
	}
	return nil
}

// Grant assigns the role to addr. The caller must hold the admin role.
func (rs *RoleSet) Grant(caller [20]byte, role Role, addr [20]byte) error {
	if rs == nil {
		return ErrRoleUnauthorized
	}
	if !role.Valid() {
		return ErrUnknownRole
	}
	if !rs.Has(RoleAdmin, caller) {
		return ErrRoleUnauthorized
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	holders, ok := rs.grants[role]
	if !ok {
		holders = make(map[[20]byte]struct{})
		rs.grants[role] = holders
	}
	holders[addr] = struct{}{}
	return nil
}

// Revoke removes the role from addr. The caller must hold the admin role.
// Revoking the final admin is rejected so the registry cannot lock itself out.
func (rs *RoleSet) Revoke(caller [20]byte, role Role, addr [20]byte) error {
	if rs == nil {
		return ErrRoleUnauthorized
	}
	if !role.Valid() {
		return ErrUnknownRole
	}
	if !rs.Has(RoleAdmin, caller) {
		return ErrRoleUnauthorized
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	holders, ok := rs.grants[role]
	if !ok {
		return nil
	}
	if role == RoleAdmin && len(holders) == 1 {
		if _, last := holders[addr]; last {
			return errors.New("roles: cannot revoke final admin")
		}
	}
	delete(holders, addr)
	return nil
}

// Holders returns the addresses currently granted the role.
func (rs *RoleSet) Holders(role Role) [][20]byte {
	if rs == nil {
		return nil
	}
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	holders := rs.grants[role]
	out := make([][20]byte, 0, len(holders))
	for addr := range holders {
		out = append(out, addr)
	}
	return out
}
