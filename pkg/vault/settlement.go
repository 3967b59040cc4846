package vault

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/log"
)

type nonceKey struct {
	principal string
	asset     string
}

// SettlementEngine executes bilateral trades between two counterparties who
// each pre-signed the order terms. One settlement is one atomic two-leg
// exchange: either both asset transfers land or neither does.
type SettlementEngine struct {
	ledger AssetLedger
	logger log.Logger
	addr   string // spender identity both parties pre-approve on the ledger

	nonces   map[nonceKey]uint64
	executed map[[32]byte]bool

	guard  callGuard
	mu     sync.RWMutex
	events chan<- Event
}

// NewSettlementEngine creates a settlement engine over the given ledger.
// addr is the identity counterparties grant allowances to.
func NewSettlementEngine(ledger AssetLedger, addr string, logger log.Logger, events chan<- Event) (*SettlementEngine, error) {
	if ledger == nil || addr == "" {
		return nil, fmt.Errorf("ledger and engine address required")
	}
	if logger == nil {
		logger = log.Root().New("module", "settlement")
	}
	return &SettlementEngine{
		ledger:   ledger,
		logger:   logger,
		addr:     addr,
		nonces:   make(map[nonceKey]uint64),
		executed: make(map[[32]byte]bool),
		events:   events,
	}, nil
}

// SettleTrade verifies both parties' signatures and executes the two-leg
// exchange. Returns the content-derived trade identifier.
//
// Ordering follows checks-effects-interactions: the trade identifier is
// recorded and both nonces advance before any ledger transfer, so a
// reentrant call cannot reuse either; a failed transfer rolls every effect
// back as a unit.
func (e *SettlementEngine) SettleTrade(inst SettlementInstruction) ([32]byte, error) {
	var zero [32]byte
	if err := e.guard.enter(); err != nil {
		return zero, err
	}
	defer e.guard.exit()
	e.mu.Lock()
	defer e.mu.Unlock()

	order := inst.Order
	if !order.Valid {
		return zero, ErrInvalidOrder
	}
	if inst.Party1 == "" || inst.Party2 == "" {
		return zero, ErrEmptyDestination
	}
	if order.Price == nil || order.Price.Sign() <= 0 ||
		order.Quantity == nil || order.Quantity.Sign() <= 0 {
		return zero, ErrZeroAmount
	}
	if inst.Side1 == inst.Side2 {
		return zero, ErrSameSide
	}
	if inst.Qty1 == nil || inst.Qty2 == nil ||
		inst.Qty1.Cmp(order.Quantity) != 0 || inst.Qty2.Cmp(order.Quantity) != 0 {
		return zero, ErrQuantityMismatch
	}

	hash := TradeHash(inst.Party1, inst.Party2, order.BaseAsset, order.QuoteAsset,
		order.Price, order.Quantity, order.Timestamp)
	if e.executed[hash] {
		return zero, ErrTradeExecuted
	}

	k1 := nonceKey{inst.Party1, order.BaseAsset}
	k2 := nonceKey{inst.Party2, order.BaseAsset}
	if inst.Nonce1 != e.nonces[k1] || inst.Nonce2 != e.nonces[k2] {
		return zero, ErrStaleNonce
	}

	if !VerifySignature(inst.Party1, order.OrderID, order.BaseAsset, order.QuoteAsset,
		order.Price, inst.Qty1, inst.Side1, order.Timestamp, inst.Nonce1, inst.Sig1) {
		return zero, fmt.Errorf("party1: %w", ErrBadSignature)
	}
	if !VerifySignature(inst.Party2, order.OrderID, order.BaseAsset, order.QuoteAsset,
		order.Price, inst.Qty2, inst.Side2, order.Timestamp, inst.Nonce2, inst.Sig2) {
		return zero, fmt.Errorf("party2: %w", ErrBadSignature)
	}

	// The bid side pays quote and receives base.
	basePayer, baseReceiver := inst.Party2, inst.Party1
	if inst.Side1 == Ask {
		basePayer, baseReceiver = inst.Party1, inst.Party2
	}
	quotePayer, quoteReceiver := baseReceiver, basePayer

	baseAmount := new(big.Int).Set(order.Quantity)
	quoteAmount := mulDiv(order.Quantity, order.Price, PriceScale)
	if quoteAmount.Sign() <= 0 {
		return zero, ErrZeroAmount
	}

	// Pre-flight: allowances first, then balances, before any transfer.
	if e.ledger.Allowance(basePayer, e.addr, order.BaseAsset).Cmp(baseAmount) < 0 {
		return zero, fmt.Errorf("base leg: %w", ErrInsufficientAllowance)
	}
	if e.ledger.Allowance(quotePayer, e.addr, order.QuoteAsset).Cmp(quoteAmount) < 0 {
		return zero, fmt.Errorf("quote leg: %w", ErrInsufficientAllowance)
	}
	if e.ledger.Balance(basePayer, order.BaseAsset).Cmp(baseAmount) < 0 {
		return zero, fmt.Errorf("base leg: %w", ErrInsufficientBalance)
	}
	if e.ledger.Balance(quotePayer, order.QuoteAsset).Cmp(quoteAmount) < 0 {
		return zero, fmt.Errorf("quote leg: %w", ErrInsufficientBalance)
	}

	var rb rollback
	e.executed[hash] = true
	rb.record(func() { delete(e.executed, hash) })
	e.nonces[k1]++
	e.nonces[k2]++
	rb.record(func() {
		e.nonces[k1]--
		e.nonces[k2]--
	})

	if err := e.ledger.TransferFrom(basePayer, e.addr, baseReceiver, order.BaseAsset, baseAmount); err != nil {
		rb.run()
		return zero, fmt.Errorf("base leg: %w", err)
	}
	rb.record(func() {
		// Compensating reversal of the committed base leg.
		if err := e.ledger.Transfer(baseReceiver, basePayer, order.BaseAsset, baseAmount); err != nil {
			e.logger.Error("base leg reversal failed", "error", err)
		}
	})
	if err := e.ledger.TransferFrom(quotePayer, e.addr, quoteReceiver, order.QuoteAsset, quoteAmount); err != nil {
		rb.run()
		return zero, fmt.Errorf("quote leg: %w", err)
	}

	e.emit(newEvent(EventSettlement, SettlementRecord{
		TradeHash:   hex.EncodeToString(hash[:]),
		Party1:      inst.Party1,
		Party2:      inst.Party2,
		BaseAsset:   order.BaseAsset,
		QuoteAsset:  order.QuoteAsset,
		BaseAmount:  baseAmount.String(),
		QuoteAmount: quoteAmount.String(),
		Price:       order.Price.String(),
	}))
	e.logger.Info("trade settled",
		"hash", hex.EncodeToString(hash[:8]),
		"party1", inst.Party1, "party2", inst.Party2,
		"base", baseAmount, "quote", quoteAmount)
	return hash, nil
}

// GetUserNonce returns the next expected nonce for (principal, asset).
func (e *SettlementEngine) GetUserNonce(principal, asset string) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nonces[nonceKey{principal, asset}]
}

// IsExecuted reports whether a trade identifier has already settled.
func (e *SettlementEngine) IsExecuted(hash [32]byte) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.executed[hash]
}

// Address returns the spender identity parties approve on the ledger.
func (e *SettlementEngine) Address() string { return e.addr }

// CheckAllowance reports whether owner has granted the engine at least
// amount of asset, and the current allowance.
func (e *SettlementEngine) CheckAllowance(owner, asset string, amount *big.Int) (bool, *big.Int) {
	current := e.ledger.Allowance(owner, e.addr, asset)
	return current.Cmp(amount) >= 0, current
}

// CheckBalance reports whether owner holds at least amount of asset, and
// the current balance.
func (e *SettlementEngine) CheckBalance(owner, asset string, amount *big.Int) (bool, *big.Int) {
	current := e.ledger.Balance(owner, asset)
	return current.Cmp(amount) >= 0, current
}

// BatchCheckAllowances checks several (owner, asset, amount) triples in one
// call. The three slices must have equal length. Read-only.
func (e *SettlementEngine) BatchCheckAllowances(owners, assets []string, amounts []*big.Int) ([]bool, []*big.Int, error) {
	if len(owners) != len(assets) || len(assets) != len(amounts) {
		return nil, nil, ErrLengthMismatch
	}
	sufficient := make([]bool, len(owners))
	current := make([]*big.Int, len(owners))
	for i := range owners {
		sufficient[i], current[i] = e.CheckAllowance(owners[i], assets[i], amounts[i])
	}
	return sufficient, current, nil
}

func (e *SettlementEngine) emit(ev Event) {
	if e.events == nil {
		return
	}
	select {
	case e.events <- ev:
	default:
		// Channel full, drop event.
	}
}
