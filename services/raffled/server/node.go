package server

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"rafflenet/channel"
	"rafflenet/config"
	"rafflenet/core/events"
	"rafflenet/crypto"
	"rafflenet/native/common"
	"rafflenet/native/prize"
	"rafflenet/native/ticket"
	"rafflenet/observability"
	"rafflenet/storage"
	"rafflenet/vrf"
)

// handlerFunc adapts a closure to the channel.Handler interface.
type handlerFunc func(caller [20]byte, msg channel.Message) error

func (f handlerFunc) HandleMessage(caller [20]byte, msg channel.Message) error {
	return f(caller, msg)
}

// lockedConsumer serialises randomness fulfilments with the other ticket-side
// mutations.
type lockedConsumer struct {
	mu    *sync.Mutex
	inner vrf.Consumer
}

func (c lockedConsumer) FulfillRandomWords(requestID [32]byte, word *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.FulfillRandomWords(requestID, word)
}

// Node hosts both protocol controllers over one in-process fabric. Each
// engine assumes serialized calls, so the node guards every prize-side
// mutation with prizeMu and every ticket-side mutation with ticketMu; the
// relay and the randomness provider go through the same locks.
type Node struct {
	nodeCfg *config.Config

	prizeEngine  *prize.Engine
	ticketEngine *ticket.Engine
	vault        *prize.MemoryVault
	book         *ticket.MemoryBook
	bank         *ticket.MemoryBank
	prizeLedger  *storage.PrizeLedger
	ticketLedger *storage.TicketLedger

	fabric   *channel.MemoryRouter
	relay    *channel.Relay
	provider *vrf.SimProvider
	hub      *EventHub
	pauses   *common.PauseSet
	quotas   *quotaTracker
	roles    *common.RoleSet
	operator [20]byte

	prizeMu  sync.Mutex
	ticketMu sync.Mutex

	prizeRemote  channel.Remote
	ticketRemote channel.Remote
	minDuration  int64
}

// NodeOptions carries the pieces main assembles before the node starts.
type NodeOptions struct {
	NodeConfig   *config.Config
	DB           storage.Database
	Journal      *channel.Journal
	Seed         [32]byte
	HistoryLimit int
}

// controllerAddress derives a stable account for one controller side of a
// named network deployment.
func controllerAddress(network, side string) [20]byte {
	sum := crypto.Keccak256([]byte(network), []byte(side))
	var addr [20]byte
	copy(addr[:], sum[12:])
	return addr
}

// NewNode wires engines, ledgers, fabric, relay, and the randomness provider
// from the node configuration. The journal may be nil, which disables
// redelivery dedup (tests only).
func NewNode(opts NodeOptions) (*Node, error) {
	if opts.NodeConfig == nil {
		return nil, fmt.Errorf("node config required")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("database required")
	}
	nodeCfg := opts.NodeConfig
	if err := config.ValidateConfig(nodeCfg.Global); err != nil {
		return nil, fmt.Errorf("validate node config: %w", err)
	}

	prizeRemote, ticketRemote, err := nodeCfg.Remotes()
	if err != nil {
		return nil, err
	}
	if prizeRemote.Address == ([20]byte{}) {
		prizeRemote.Address = controllerAddress(nodeCfg.NetworkName, "prize")
	}
	if ticketRemote.Address == ([20]byte{}) {
		ticketRemote.Address = controllerAddress(nodeCfg.NetworkName, "ticket")
	}
	fee, err := nodeCfg.FeeWei()
	if err != nil {
		return nil, err
	}
	bounds, err := nodeCfg.Global.FeeBounds()
	if err != nil {
		return nil, err
	}
	if bounds.FloorWei.Sign() > 0 && fee.Cmp(bounds.FloorWei) < 0 {
		return nil, fmt.Errorf("channel fee %s below configured floor %s", fee, bounds.FloorWei)
	}
	if bounds.CeilWei.Sign() > 0 && fee.Cmp(bounds.CeilWei) > 0 {
		return nil, fmt.Errorf("channel fee %s above configured ceiling %s", fee, bounds.CeilWei)
	}

	n := &Node{
		nodeCfg:      nodeCfg,
		prizeRemote:  prizeRemote,
		ticketRemote: ticketRemote,
		minDuration:  int64(nodeCfg.Global.Raffle.MinDurationSecs),
	}

	n.prizeLedger = storage.NewPrizeLedger(opts.DB)
	n.ticketLedger = storage.NewTicketLedger(opts.DB)

	n.fabric = channel.NewMemoryRouter(controllerAddress(nodeCfg.NetworkName, "router"))
	n.fabric.SetFee(prizeRemote, fee)
	n.fabric.SetFee(ticketRemote, fee)

	n.vault = prize.NewMemoryVault()
	n.prizeEngine = prize.NewEngine()
	n.prizeEngine.SetState(n.prizeLedger)
	n.prizeEngine.SetVault(n.vault)
	n.prizeEngine.SetRouter(n.fabric.Endpoint(prizeRemote), n.fabric.Identity())
	n.prizeEngine.AllowCounterpart(ticketRemote)

	n.provider = vrf.NewSimProvider(opts.Seed)
	n.book = ticket.NewMemoryBook()
	n.bank = ticket.NewMemoryBank()
	n.ticketEngine = ticket.NewEngine()
	n.ticketEngine.SetState(n.ticketLedger)
	n.ticketEngine.SetBook(n.book)
	n.ticketEngine.SetBank(n.bank)
	n.ticketEngine.SetProvider(n.provider)
	n.ticketEngine.SetRouter(n.fabric.Endpoint(ticketRemote), n.fabric.Identity())
	n.ticketEngine.SetPrizeRemote(prizeRemote)
	n.ticketEngine.AllowCounterpart(prizeRemote)
	n.provider.SetConsumer(lockedConsumer{mu: &n.ticketMu, inner: n.ticketEngine})

	n.hub = NewEventHub(opts.HistoryLimit)
	emitter := events.EmitterFunc(func(evt events.Event) {
		if evt == nil {
			return
		}
		observability.Events().RecordEvent(evt.EventType())
		switch evt.EventType() {
		case events.TypeChannelMessageSent:
			observability.Channel().RecordSend(nil)
		case events.TypeChannelMessageDelivered:
			observability.Channel().RecordDelivery("accepted")
		case events.TypeChannelMessageRejected:
			observability.Channel().RecordDelivery("failed")
		}
		n.hub.Publish(evt.Event())
	})
	n.prizeEngine.SetEmitter(emitter)
	n.ticketEngine.SetEmitter(emitter)
	n.fabric.SetEmitter(emitter)

	n.relay = channel.NewRelay(n.fabric, opts.Journal)
	n.relay.SetEmitter(emitter)
	n.relay.SetMaxAttempts(nodeCfg.Global.Delivery.MaxAttempts)
	n.relay.Register(prizeRemote, handlerFunc(func(caller [20]byte, msg channel.Message) error {
		n.prizeMu.Lock()
		defer n.prizeMu.Unlock()
		return n.prizeEngine.HandleMessage(caller, msg)
	}))
	n.relay.Register(ticketRemote, handlerFunc(func(caller [20]byte, msg channel.Message) error {
		n.ticketMu.Lock()
		defer n.ticketMu.Unlock()
		return n.ticketEngine.HandleMessage(caller, msg)
	}))

	n.pauses = common.NewPauseSet()
	if nodeCfg.Global.Pauses.Prize {
		n.pauses.Pause(common.ModulePrize)
	}
	if nodeCfg.Global.Pauses.Ticket {
		n.pauses.Pause(common.ModuleTicket)
	}
	if nodeCfg.Global.Pauses.Channel {
		n.pauses.Pause(common.ModuleChannel)
	}
	n.quotas = newQuotaTracker()
	n.operator = controllerAddress(nodeCfg.NetworkName, "operator")
	n.roles = common.NewRoleSet(n.operator)

	return n, nil
}

// SetNowFunc overrides the clock on both engines and the event hub.
func (n *Node) SetNowFunc(now func() time.Time) {
	if now == nil {
		return
	}
	unix := func() int64 { return now().Unix() }
	n.prizeEngine.SetNowFunc(unix)
	n.ticketEngine.SetNowFunc(unix)
	n.hub.SetNowFunc(now)
	n.quotas.now = now
}

// Remotes returns the configured (prize, ticket) controller addresses.
func (n *Node) Remotes() (channel.Remote, channel.Remote) {
	return n.prizeRemote, n.ticketRemote
}

// Pauses exposes the pause registry for admin toggles.
func (n *Node) Pauses() *common.PauseSet { return n.pauses }

// Provider exposes the randomness simulator for the fulfilment loop.
func (n *Node) Provider() *vrf.SimProvider { return n.provider }

// Relay exposes the delivery pump the daemon drives.
func (n *Node) Relay() *channel.Relay { return n.relay }

// Subscribe attaches an event stream subscriber. See EventHub.Subscribe.
func (n *Node) Subscribe(ctx context.Context, cursor string) (<-chan EventUpdate, func(), []EventUpdate, error) {
	return n.hub.Subscribe(ctx, cursor)
}

// FulfillPending delivers every outstanding randomness request.
func (n *Node) FulfillPending() (int, error) {
	if err := common.Guard(n.pauses, common.ModuleTicket); err != nil {
		return 0, err
	}
	return n.provider.FulfillPending()
}

// DeliverOnce runs one relay pass over both controller inboxes. A paused
// channel skips the pass; queued messages wait for a resume.
func (n *Node) DeliverOnce(now time.Time) (int, error) {
	if common.Guard(n.pauses, common.ModuleChannel) != nil {
		return 0, nil
	}
	delivered, err := n.relay.Deliver(n.prizeRemote, now)
	if err != nil {
		return delivered, err
	}
	more, err := n.relay.Deliver(n.ticketRemote, now)
	return delivered + more, err
}

func (n *Node) observePrize(op string, fn func() error) error {
	if err := common.Guard(n.pauses, common.ModulePrize); err != nil {
		return err
	}
	start := time.Now()
	n.prizeMu.Lock()
	err := fn()
	locked := n.prizeEngine.LockedETH()
	n.prizeMu.Unlock()
	observability.Prize().Observe(op, time.Since(start), err)
	if err == nil {
		observability.Prize().SetLockedWei(locked)
	}
	return err
}

func (n *Node) observeTicket(op string, fn func() error) error {
	if err := common.Guard(n.pauses, common.ModuleTicket); err != nil {
		return err
	}
	start := time.Now()
	n.ticketMu.Lock()
	err := fn()
	pot := n.bank.Balance()
	n.ticketMu.Unlock()
	observability.Ticket().Observe(op, time.Since(start), err)
	if err == nil {
		observability.Ticket().SetPotWei(pot)
	}
	return err
}

// LockNFT locks an NFT prize and notifies the ticket side.
func (n *Node) LockNFT(raffleID uint64, collection [20]byte, tokenID *big.Int) error {
	return n.observePrize("lock_nft", func() error {
		return n.prizeEngine.LockNFT(n.ticketRemote, raffleID, collection, tokenID)
	})
}

// LockETH locks a native-value prize and notifies the ticket side.
func (n *Node) LockETH(raffleID uint64, amount *big.Int) error {
	return n.observePrize("lock_eth", func() error {
		return n.prizeEngine.LockETH(n.ticketRemote, raffleID, amount)
	})
}

// LockTokens locks a fungible-token prize and notifies the ticket side.
func (n *Node) LockTokens(raffleID uint64, token [20]byte, amount *big.Int) error {
	return n.observePrize("lock_tokens", func() error {
		return n.prizeEngine.LockTokens(n.ticketRemote, raffleID, token, amount)
	})
}

// ClaimPrize pays the recorded winner.
func (n *Node) ClaimPrize(caller [20]byte, raffleID uint64) error {
	quota, ok := n.nodeCfg.Global.QuotaFor("claim")
	if ok {
		if err := n.quotas.check("claim", quota, caller, 1, 0); err != nil {
			return err
		}
	}
	return n.observePrize("claim", func() error {
		return n.prizeEngine.ClaimPrize(caller, raffleID)
	})
}

// WithdrawETH moves unlocked native value out of custody.
func (n *Node) WithdrawETH(to [20]byte, amount *big.Int) error {
	return n.observePrize("withdraw_eth", func() error {
		return n.prizeEngine.WithdrawETH(to, amount)
	})
}

// WithdrawTokens moves unlocked token balance out of custody.
func (n *Node) WithdrawTokens(token [20]byte, to [20]byte, amount *big.Int) error {
	return n.observePrize("withdraw_tokens", func() error {
		return n.prizeEngine.WithdrawTokens(token, to, amount)
	})
}

// WithdrawNFT moves an unlocked NFT out of custody.
func (n *Node) WithdrawNFT(collection [20]byte, tokenID *big.Int, to [20]byte) error {
	return n.observePrize("withdraw_nft", func() error {
		return n.prizeEngine.WithdrawNFT(collection, tokenID, to)
	})
}

// DepositETH adds native value to the prize vault so it can be locked.
func (n *Node) DepositETH(amount *big.Int) error {
	return n.observePrize("deposit_eth", func() error {
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("deposit amount must be positive")
		}
		n.vault.DepositETH(amount)
		return nil
	})
}

// DepositToken adds token balance to the prize vault.
func (n *Node) DepositToken(token [20]byte, amount *big.Int) error {
	return n.observePrize("deposit_token", func() error {
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("deposit amount must be positive")
		}
		n.vault.DepositToken(token, amount)
		return nil
	})
}

// DepositNFT places an NFT into the prize vault.
func (n *Node) DepositNFT(collection [20]byte, tokenID *big.Int) error {
	return n.observePrize("deposit_nft", func() error {
		if tokenID == nil {
			return fmt.Errorf("token id required")
		}
		n.vault.DepositNFT(collection, tokenID)
		return nil
	})
}

// FundPrizeFees credits the prize side's channel fee balance.
func (n *Node) FundPrizeFees(amount *big.Int) error {
	err := n.observePrize("fund_fees", func() error {
		return n.prizeEngine.FundFees(amount)
	})
	if err == nil {
		n.prizeMu.Lock()
		balance := n.prizeEngine.FeeBalance()
		n.prizeMu.Unlock()
		observability.Channel().SetFeeBalance("prize", balance)
	}
	return err
}

// FundTicketFees credits the ticket side's channel fee balance.
func (n *Node) FundTicketFees(amount *big.Int) error {
	err := n.observeTicket("fund_fees", func() error {
		return n.ticketEngine.FundFees(amount)
	})
	if err == nil {
		n.ticketMu.Lock()
		balance := n.ticketEngine.FeeBalance()
		n.ticketMu.Unlock()
		observability.Channel().SetFeeBalance("ticket", balance)
	}
	return err
}

// CreateRaffle opens ticket sales. The configured minimum window may be
// stricter than the protocol floor; both apply.
func (n *Node) CreateRaffle(raffleID uint64, startsAt, endsAt int64, minTickets, maxTickets, maxHoldings uint32) error {
	return n.observeTicket("create", func() error {
		if endsAt != 0 && n.minDuration > ticket.MinRaffleDuration {
			if endsAt < startsAt+n.minDuration {
				return ticket.ErrRaffleClosingTooSoon
			}
		}
		return n.ticketEngine.CreateRaffle(raffleID, startsAt, endsAt, minTickets, maxTickets, maxHoldings)
	})
}

// BuyTickets settles a signed coupon purchase.
func (n *Node) BuyTickets(buyer [20]byte, raffleID uint64, count uint32, value uint64, expiry int64, sig []byte) error {
	quota, ok := n.nodeCfg.Global.QuotaFor("ticket")
	if ok {
		if err := n.quotas.check("ticket", quota, buyer, 1, value); err != nil {
			return err
		}
	}
	err := n.observeTicket("buy", func() error {
		return n.ticketEngine.BuyTickets(buyer, raffleID, count, value, expiry, sig)
	})
	if err == nil {
		observability.Ticket().AddTicketsSold(count)
	}
	return err
}

// DrawWinner requests randomness for a closeable raffle.
func (n *Node) DrawWinner(raffleID uint64) error {
	return n.observeTicket("draw", func() error {
		return n.ticketEngine.DrawWinner(raffleID)
	})
}

// PropagateWinner computes the winner and notifies the prize side.
func (n *Node) PropagateWinner(raffleID uint64) error {
	return n.observeTicket("propagate", func() error {
		return n.ticketEngine.PropagateWinner(raffleID)
	})
}

// CancelRaffle cancels an under-threshold or never-opened raffle and notifies
// the prize side.
func (n *Node) CancelRaffle(raffleID uint64) error {
	return n.observeTicket("cancel", func() error {
		return n.ticketEngine.CancelRaffle(raffleID)
	})
}

// RefundPlayers returns sale proceeds to players of a canceled raffle.
func (n *Node) RefundPlayers(raffleID uint64, players [][20]byte) error {
	return n.observeTicket("refund", func() error {
		return n.ticketEngine.RefundPlayers(raffleID, players)
	})
}

// AddSigner grants the coupon-signer role to the address and trusts it on the
// ticket controller.
func (n *Node) AddSigner(signer [20]byte) error {
	if err := n.roles.Grant(n.operator, common.RoleAPISigner, signer); err != nil {
		return err
	}
	n.ticketMu.Lock()
	defer n.ticketMu.Unlock()
	n.ticketEngine.AddSigner(signer)
	return nil
}

// RemoveSigner revokes the coupon-signer role and withdraws trust from the
// address.
func (n *Node) RemoveSigner(signer [20]byte) error {
	if err := n.roles.Revoke(n.operator, common.RoleAPISigner, signer); err != nil {
		return err
	}
	n.ticketMu.Lock()
	defer n.ticketMu.Unlock()
	n.ticketEngine.RemoveSigner(signer)
	return nil
}

// Signers lists the trusted coupon signers.
func (n *Node) Signers() [][20]byte {
	n.ticketMu.Lock()
	defer n.ticketMu.Unlock()
	return n.ticketEngine.Signers()
}

// AllowPrizeCounterpart trusts an additional ticket-side sender on the prize
// controller.
func (n *Node) AllowPrizeCounterpart(remote channel.Remote) {
	n.prizeMu.Lock()
	defer n.prizeMu.Unlock()
	n.prizeEngine.AllowCounterpart(remote)
}

// RevokePrizeCounterpart removes a ticket-side sender from the prize
// controller's allow-list.
func (n *Node) RevokePrizeCounterpart(remote channel.Remote) {
	n.prizeMu.Lock()
	defer n.prizeMu.Unlock()
	n.prizeEngine.RevokeCounterpart(remote)
}

// PrizeCounterparts lists the prize controller's trusted senders.
func (n *Node) PrizeCounterparts() []channel.Remote {
	n.prizeMu.Lock()
	defer n.prizeMu.Unlock()
	return n.prizeEngine.Counterparts()
}

// AllowTicketCounterpart trusts an additional prize-side sender on the ticket
// controller.
func (n *Node) AllowTicketCounterpart(remote channel.Remote) {
	n.ticketMu.Lock()
	defer n.ticketMu.Unlock()
	n.ticketEngine.AllowCounterpart(remote)
}

// RevokeTicketCounterpart removes a prize-side sender from the ticket
// controller's allow-list.
func (n *Node) RevokeTicketCounterpart(remote channel.Remote) {
	n.ticketMu.Lock()
	defer n.ticketMu.Unlock()
	n.ticketEngine.RevokeCounterpart(remote)
}

// TicketCounterparts lists the ticket controller's trusted senders.
func (n *Node) TicketCounterparts() []channel.Remote {
	n.ticketMu.Lock()
	defer n.ticketMu.Unlock()
	return n.ticketEngine.Counterparts()
}

// GetWinner recomputes the winner of a fulfilled raffle.
func (n *Node) GetWinner(raffleID uint64) ([20]byte, error) {
	n.ticketMu.Lock()
	defer n.ticketMu.Unlock()
	return n.ticketEngine.GetWinner(raffleID)
}

// Raffle returns the ticket-side record.
func (n *Node) Raffle(raffleID uint64) (*ticket.Raffle, error) {
	n.ticketMu.Lock()
	defer n.ticketMu.Unlock()
	return n.ticketEngine.Raffle(raffleID)
}

// Participation returns one player's sale record.
func (n *Node) Participation(raffleID uint64, player [20]byte) (ticket.Participation, error) {
	n.ticketMu.Lock()
	defer n.ticketMu.Unlock()
	return n.ticketEngine.Participation(raffleID, player)
}

// TicketSupply reports issued tickets for the raffle.
func (n *Node) TicketSupply(raffleID uint64) uint32 {
	n.ticketMu.Lock()
	defer n.ticketMu.Unlock()
	return n.ticketEngine.TicketSupply(raffleID)
}

// Holdings reports one account's tickets for the raffle.
func (n *Node) Holdings(raffleID uint64, holder [20]byte) uint32 {
	n.ticketMu.Lock()
	defer n.ticketMu.Unlock()
	return n.ticketEngine.Holdings(raffleID, holder)
}

// BuyerNonce reports the next coupon nonce expected for the buyer.
func (n *Node) BuyerNonce(buyer [20]byte) uint64 {
	n.ticketMu.Lock()
	defer n.ticketMu.Unlock()
	return n.ticketEngine.BuyerNonce(buyer)
}

// PrizeView returns the prize-side summary for the raffle.
func (n *Node) PrizeView(raffleID uint64) (prize.RaffleView, error) {
	n.prizeMu.Lock()
	defer n.prizeMu.Unlock()
	return n.prizeEngine.Raffle(raffleID)
}

// PrizeRecord returns the full custody record for the raffle.
func (n *Node) PrizeRecord(raffleID uint64) (*prize.Record, error) {
	n.prizeMu.Lock()
	defer n.prizeMu.Unlock()
	return n.prizeEngine.Prize(raffleID)
}

// PrizeWinner returns the winner propagated to the prize side.
func (n *Node) PrizeWinner(raffleID uint64) ([20]byte, error) {
	n.prizeMu.Lock()
	defer n.prizeMu.Unlock()
	return n.prizeEngine.Winner(raffleID)
}

// FeeBalances reports both sides' channel fee balances.
func (n *Node) FeeBalances() (*big.Int, *big.Int) {
	n.prizeMu.Lock()
	prizeFees := n.prizeEngine.FeeBalance()
	n.prizeMu.Unlock()
	n.ticketMu.Lock()
	ticketFees := n.ticketEngine.FeeBalance()
	n.ticketMu.Unlock()
	return prizeFees, ticketFees
}

// PotBalance reports the sale proceeds currently held by the ticket side.
func (n *Node) PotBalance() *big.Int {
	n.ticketMu.Lock()
	defer n.ticketMu.Unlock()
	return n.bank.Balance()
}

// Ledgers exposes the stores for the recon exporter.
func (n *Node) Ledgers() (*storage.PrizeLedger, *storage.TicketLedger) {
	return n.prizeLedger, n.ticketLedger
}
