package ticket

import (
	"encoding/binary"

	"rafflenet/crypto"
)

// Coupon is the off-chain price authorization a buyer presents with a
// purchase. A signer (role 1 holder) commits to the price for one purchase by
// one buyer at one nonce; the ledger's stored per-buyer nonce advances on
// every successful purchase, so a coupon can never be replayed.
type Coupon struct {
	Buyer    [20]byte
	Nonce    uint64
	RaffleID uint64
	Count    uint32
	Expiry   int64
	Value    uint64
}

// Digest returns the keccak commitment a signer authorizes: buyer, nonce,
// raffle id, count, expiry, value, all fixed-width big-endian.
func (c Coupon) Digest() [32]byte {
	var buf [20 + 8 + 8 + 4 + 8 + 8]byte
	copy(buf[:20], c.Buyer[:])
	binary.BigEndian.PutUint64(buf[20:28], c.Nonce)
	binary.BigEndian.PutUint64(buf[28:36], c.RaffleID)
	binary.BigEndian.PutUint32(buf[36:40], c.Count)
	binary.BigEndian.PutUint64(buf[40:48], uint64(c.Expiry))
	binary.BigEndian.PutUint64(buf[48:56], c.Value)
	return crypto.Keccak256(buf[:])
}

// Sign produces the 65-byte recoverable signature over the coupon digest.
func (c Coupon) Sign(key *crypto.PrivateKey) ([]byte, error) {
	return key.Sign(c.Digest())
}

// RecoverSigner returns the account that signed the coupon.
func (c Coupon) RecoverSigner(sig []byte) ([20]byte, error) {
	return crypto.RecoverAddress(c.Digest(), sig)
}
