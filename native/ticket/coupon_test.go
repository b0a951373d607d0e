package ticket

import (
	"encoding/binary"
	"testing"

	"rafflenet/crypto"
)

func TestCouponDigestLayout(t *testing.T) {
	coupon := Coupon{
		Buyer:    newTestAddress(0xAB),
		Nonce:    7,
		RaffleID: 42,
		Count:    3,
		Expiry:   1_700_003_600,
		Value:    12_500,
	}

	var buf [56]byte
	copy(buf[:20], coupon.Buyer[:])
	binary.BigEndian.PutUint64(buf[20:28], coupon.Nonce)
	binary.BigEndian.PutUint64(buf[28:36], coupon.RaffleID)
	binary.BigEndian.PutUint32(buf[36:40], coupon.Count)
	binary.BigEndian.PutUint64(buf[40:48], uint64(coupon.Expiry))
	binary.BigEndian.PutUint64(buf[48:56], coupon.Value)
	want := crypto.Keccak256(buf[:])

	if got := coupon.Digest(); got != want {
		t.Fatalf("digest mismatch: got %x want %x", got, want)
	}
	if again := coupon.Digest(); again != want {
		t.Fatalf("digest not deterministic")
	}
}

func TestCouponSignAndRecover(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	coupon := Coupon{Buyer: newTestAddress(0x01), Nonce: 0, RaffleID: 9, Count: 2, Expiry: 1_700_000_100, Value: 500}

	sig, err := coupon.Sign(key)
	if err != nil {
		t.Fatalf("sign coupon: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length: got %d want 65", len(sig))
	}
	signer, err := coupon.RecoverSigner(sig)
	if err != nil {
		t.Fatalf("recover signer: %v", err)
	}
	if want := key.PubKey().Address().Bytes20(); signer != want {
		t.Fatalf("recovered signer mismatch: got %x want %x", signer, want)
	}

	if _, err := coupon.RecoverSigner(sig[:64]); err == nil {
		t.Fatalf("expected error for truncated signature")
	}
}

func TestTamperedCouponRecoversDifferentSigner(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	base := Coupon{Buyer: newTestAddress(0x01), Nonce: 4, RaffleID: 9, Count: 2, Expiry: 1_700_000_100, Value: 500}
	sig, err := base.Sign(key)
	if err != nil {
		t.Fatalf("sign coupon: %v", err)
	}
	signer := key.PubKey().Address().Bytes20()

	cases := []struct {
		name   string
		mutate func(Coupon) Coupon
	}{
		{"buyer", func(c Coupon) Coupon { c.Buyer = newTestAddress(0x02); return c }},
		{"nonce", func(c Coupon) Coupon { c.Nonce++; return c }},
		{"raffle id", func(c Coupon) Coupon { c.RaffleID++; return c }},
		{"count", func(c Coupon) Coupon { c.Count++; return c }},
		{"expiry", func(c Coupon) Coupon { c.Expiry++; return c }},
		{"value", func(c Coupon) Coupon { c.Value++; return c }},
	}
	for _, tc := range cases {
		tampered := tc.mutate(base)
		recovered, err := tampered.RecoverSigner(sig)
		if err == nil && recovered == signer {
			t.Fatalf("%s: tampered coupon still recovers the original signer", tc.name)
		}
	}
}
