package prize

import (
	"errors"
	"math/big"
	"sync"
)

// Vault abstracts the asset custodian backing the prize ledger: the token and
// native-value balances the controller may lock, and the transfer calls that
// release them. Balance reads must reflect custody only; the engine subtracts
// its locked-total accumulators itself.
type Vault interface {
	OwnsNFT(collection [20]byte, tokenID *big.Int) bool
	BalanceETH() *big.Int
	BalanceToken(token [20]byte) *big.Int
	TransferNFT(collection [20]byte, tokenID *big.Int, to [20]byte) error
	TransferETH(to [20]byte, amount *big.Int) error
	TransferToken(token [20]byte, to [20]byte, amount *big.Int) error
}

var (
	errVaultInsufficient = errors.New("prize vault: insufficient funds")
	errVaultMissingNFT   = errors.New("prize vault: nft not in custody")
)

type nftKey struct {
	collection [20]byte
	tokenID    string
}

func makeNFTKey(collection [20]byte, tokenID *big.Int) nftKey {
	key := nftKey{collection: collection}
	if tokenID != nil {
		key.tokenID = tokenID.String()
	} else {
		key.tokenID = "0"
	}
	return key
}

// MemoryVault is the in-process custodian used by the daemon and tests. It
// tracks held balances and records outbound transfers per recipient so
// settlement can be asserted end to end.
type MemoryVault struct {
	mu         sync.Mutex
	eth        *big.Int
	tokens     map[[20]byte]*big.Int
	nfts       map[nftKey]struct{}
	nftOwners  map[nftKey][20]byte
	paidETH    map[[20]byte]*big.Int
	paidTokens map[[20]byte]map[[20]byte]*big.Int
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		eth:        big.NewInt(0),
		tokens:     make(map[[20]byte]*big.Int),
		nfts:       make(map[nftKey]struct{}),
		nftOwners:  make(map[nftKey][20]byte),
		paidETH:    make(map[[20]byte]*big.Int),
		paidTokens: make(map[[20]byte]map[[20]byte]*big.Int),
	}
}

// DepositETH credits native value into custody.
func (v *MemoryVault) DepositETH(amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.eth = new(big.Int).Add(v.eth, amount)
}

// DepositToken credits fungible tokens into custody.
func (v *MemoryVault) DepositToken(token [20]byte, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	balance, ok := v.tokens[token]
	if !ok {
		balance = big.NewInt(0)
	}
	v.tokens[token] = new(big.Int).Add(balance, amount)
}

// DepositNFT places a token into custody.
func (v *MemoryVault) DepositNFT(collection [20]byte, tokenID *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nfts[makeNFTKey(collection, tokenID)] = struct{}{}
}

// OwnsNFT implements Vault.
func (v *MemoryVault) OwnsNFT(collection [20]byte, tokenID *big.Int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.nfts[makeNFTKey(collection, tokenID)]
	return ok
}

// BalanceETH implements Vault.
func (v *MemoryVault) BalanceETH() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.eth)
}

// BalanceToken implements Vault.
func (v *MemoryVault) BalanceToken(token [20]byte) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	balance, ok := v.tokens[token]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(balance)
}

// TransferNFT implements Vault.
func (v *MemoryVault) TransferNFT(collection [20]byte, tokenID *big.Int, to [20]byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	key := makeNFTKey(collection, tokenID)
	if _, ok := v.nfts[key]; !ok {
		return errVaultMissingNFT
	}
	delete(v.nfts, key)
	v.nftOwners[key] = to
	return nil
}

// TransferETH implements Vault.
func (v *MemoryVault) TransferETH(to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.eth.Cmp(amount) < 0 {
		return errVaultInsufficient
	}
	v.eth = new(big.Int).Sub(v.eth, amount)
	paid, ok := v.paidETH[to]
	if !ok {
		paid = big.NewInt(0)
	}
	v.paidETH[to] = new(big.Int).Add(paid, amount)
	return nil
}

// TransferToken implements Vault.
func (v *MemoryVault) TransferToken(token [20]byte, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	balance, ok := v.tokens[token]
	if !ok || balance.Cmp(amount) < 0 {
		return errVaultInsufficient
	}
	v.tokens[token] = new(big.Int).Sub(balance, amount)
	recipients, ok := v.paidTokens[token]
	if !ok {
		recipients = make(map[[20]byte]*big.Int)
		v.paidTokens[token] = recipients
	}
	paid, ok := recipients[to]
	if !ok {
		paid = big.NewInt(0)
	}
	recipients[to] = new(big.Int).Add(paid, amount)
	return nil
}

// PaidETH reports the native value transferred to the recipient so far.
func (v *MemoryVault) PaidETH(to [20]byte) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	paid, ok := v.paidETH[to]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(paid)
}

// PaidToken reports the token amount transferred to the recipient so far.
func (v *MemoryVault) PaidToken(token [20]byte, to [20]byte) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	recipients, ok := v.paidTokens[token]
	if !ok {
		return big.NewInt(0)
	}
	paid, ok := recipients[to]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(paid)
}

// NFTOwner reports where a token left custody to, when it has.
func (v *MemoryVault) NFTOwner(collection [20]byte, tokenID *big.Int) ([20]byte, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	owner, ok := v.nftOwners[makeNFTKey(collection, tokenID)]
	return owner, ok
}
