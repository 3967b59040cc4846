package vault

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/log"
)

// Fund pools depositor capital into shares of one custody asset and lends
// fractions of it to authorized trading agents. All state transitions are
// all-or-nothing: bookkeeping is applied before the external ledger call
// and undone as a unit if the call fails.
type Fund struct {
	ledger AssetLedger
	logger log.Logger

	asset        string
	addr         string
	admin        string
	feeRecipient string

	minDeposit       *big.Int
	maxAllocationBps uint64
	managementFeeBps uint64
	withdrawalFeeBps uint64

	totalShares    *big.Int
	shares         map[string]*big.Int
	totalAllocated *big.Int

	accruedMgmtFees   *big.Int
	accruedOtherFees  *big.Int
	lastFeeCheckpoint time.Time

	agentSet  map[string]bool
	agentList []string

	paused bool

	guard  callGuard
	mu     sync.RWMutex
	events chan<- Event
	now    func() time.Time
}

// NewFund creates a fund over the given ledger. A nil logger falls back to
// the root logger; a nil events channel disables event emission.
func NewFund(ledger AssetLedger, cfg FundConfig, logger log.Logger, events chan<- Event) (*Fund, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if cfg.Address == "" || cfg.Asset == "" || cfg.Admin == "" {
		return nil, fmt.Errorf("fund address, asset and admin required")
	}
	if cfg.ManagementFeeBps > MaxManagementFeeBps ||
		cfg.WithdrawalFeeBps > MaxWithdrawalFeeBps ||
		cfg.MaxAllocationBps > MaxAllocationBps {
		return nil, ErrFeeTooHigh
	}
	if logger == nil {
		logger = log.Root().New("module", "vault")
	}
	minDeposit := big.NewInt(0)
	if cfg.MinDeposit != nil {
		minDeposit = new(big.Int).Set(cfg.MinDeposit)
	}
	return &Fund{
		ledger:            ledger,
		logger:            logger,
		asset:             cfg.Asset,
		addr:              cfg.Address,
		admin:             cfg.Admin,
		feeRecipient:      cfg.FeeRecipient,
		minDeposit:        minDeposit,
		maxAllocationBps:  cfg.MaxAllocationBps,
		managementFeeBps:  cfg.ManagementFeeBps,
		withdrawalFeeBps:  cfg.WithdrawalFeeBps,
		totalShares:       big.NewInt(0),
		shares:            make(map[string]*big.Int),
		totalAllocated:    big.NewInt(0),
		accruedMgmtFees:   big.NewInt(0),
		accruedOtherFees:  big.NewInt(0),
		lastFeeCheckpoint: time.Now(),
		agentSet:          make(map[string]bool),
		events:            events,
		now:               time.Now,
	}, nil
}

// Deposit converts amount of the custody asset into newly issued shares for
// caller. The caller must have pre-approved the fund on the ledger. Returns
// the share count issued.
func (f *Fund) Deposit(caller string, amount *big.Int) (*big.Int, error) {
	if err := f.guard.enter(); err != nil {
		return nil, err
	}
	defer f.guard.exit()
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.paused {
		return nil, ErrFundPaused
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if amount.Cmp(f.minDeposit) < 0 {
		return nil, fmt.Errorf("%w: minimum %s", ErrBelowMinDeposit, f.minDeposit)
	}

	var rb rollback
	f.accrueLocked(&rb)
	nav := f.netAssetsLocked()

	var shares *big.Int
	if f.totalShares.Sign() == 0 {
		// First issuance establishes the 1:1 exchange rate.
		shares = new(big.Int).Set(amount)
	} else {
		if nav.Sign() == 0 {
			rb.run()
			return nil, ErrZeroNetAssets
		}
		shares = mulDiv(amount, f.totalShares, nav)
	}
	if shares.Sign() == 0 {
		// Dust deposit against a large fund rounds to nothing.
		rb.run()
		return nil, ErrZeroShares
	}

	bal := f.shareBalanceLocked(caller)
	bal.Add(bal, shares)
	f.totalShares.Add(f.totalShares, shares)
	rb.record(func() {
		bal.Sub(bal, shares)
		f.totalShares.Sub(f.totalShares, shares)
	})

	if err := f.ledger.TransferFrom(caller, f.addr, f.addr, f.asset, amount); err != nil {
		rb.run()
		return nil, err
	}

	f.emit(newEvent(EventDeposit, DepositRecord{
		Depositor:   caller,
		Amount:      amount.String(),
		Shares:      shares.String(),
		TotalShares: f.totalShares.String(),
	}))
	f.logger.Info("deposit", "depositor", caller, "amount", amount, "shares", shares)
	return shares, nil
}

// Withdraw redeems the caller's entire share balance. Partial redemption is
// not supported. The withdrawal fee is routed to the fee accumulators; the
// remainder is paid out. Returns the net assets paid.
func (f *Fund) Withdraw(caller string) (*big.Int, error) {
	if err := f.guard.enter(); err != nil {
		return nil, err
	}
	defer f.guard.exit()
	f.mu.Lock()
	defer f.mu.Unlock()

	bal, ok := f.shares[caller]
	if !ok || bal.Sign() == 0 {
		return nil, ErrNoShares
	}

	var rb rollback
	f.accrueLocked(&rb)
	nav := f.netAssetsLocked()

	shares := new(big.Int).Set(bal)
	assets := mulDiv(shares, nav, f.totalShares)
	if assets.Sign() == 0 {
		rb.run()
		return nil, ErrZeroAssets
	}
	fee := mulDivBps(assets, f.withdrawalFeeBps)
	net := new(big.Int).Sub(assets, fee)

	bal.Sub(bal, shares)
	f.totalShares.Sub(f.totalShares, shares)
	f.accruedOtherFees.Add(f.accruedOtherFees, fee)
	rb.record(func() {
		bal.Add(bal, shares)
		f.totalShares.Add(f.totalShares, shares)
		f.accruedOtherFees.Sub(f.accruedOtherFees, fee)
	})

	if err := f.ledger.Transfer(f.addr, caller, f.asset, net); err != nil {
		rb.run()
		return nil, err
	}

	f.emit(newEvent(EventWithdrawal, WithdrawalRecord{
		Holder:      caller,
		Shares:      shares.String(),
		GrossAssets: assets.String(),
		Fee:         fee.String(),
		NetPaid:     net.String(),
		TotalShares: f.totalShares.String(),
	}))
	f.logger.Info("withdrawal", "holder", caller, "shares", shares, "paid", net, "fee", fee)
	return net, nil
}

// Pause halts deposits and agent allocation. Withdrawals stay open.
func (f *Fund) Pause(caller string) error {
	return f.setPaused(caller, true)
}

// Unpause reopens the fund.
func (f *Fund) Unpause(caller string) error {
	return f.setPaused(caller, false)
}

func (f *Fund) setPaused(caller string, paused bool) error {
	if err := f.guard.enter(); err != nil {
		return err
	}
	defer f.guard.exit()
	f.mu.Lock()
	defer f.mu.Unlock()

	if caller != f.admin {
		return ErrNotAdmin
	}
	f.paused = paused
	typ := EventPaused
	if !paused {
		typ = EventUnpaused
	}
	f.emit(newEvent(typ, nil))
	return nil
}

// GrossAssets is the fund's custodied value: ledger balance plus capital
// currently out with agents.
func (f *Fund) GrossAssets() *big.Int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.grossAssetsLocked()
}

// NetAssets is gross assets minus all posted and pending fees, floored at
// zero. Pure view; posts nothing.
func (f *Fund) NetAssets() *big.Int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.netAssetsLocked()
}

// GetSharePrice returns the PriceScale-fixed-point value of one share,
// defined as 1.0 when no shares are outstanding.
func (f *Fund) GetSharePrice() *big.Int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.totalShares.Sign() == 0 {
		return new(big.Int).Set(PriceScale)
	}
	return mulDiv(f.netAssetsLocked(), PriceScale, f.totalShares)
}

// GetAvailableAssets returns net assets not currently allocated to agents.
func (f *Fund) GetAvailableAssets() *big.Int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	avail := new(big.Int).Sub(f.netAssetsLocked(), f.totalAllocated)
	if avail.Sign() < 0 {
		return big.NewInt(0)
	}
	return avail
}

// ShareBalanceOf returns the share count held by principal.
func (f *Fund) ShareBalanceOf(principal string) *big.Int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if bal, ok := f.shares[principal]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// TotalShares returns the outstanding share supply.
func (f *Fund) TotalShares() *big.Int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return new(big.Int).Set(f.totalShares)
}

// TotalAllocated returns capital currently out with agents.
func (f *Fund) TotalAllocated() *big.Int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return new(big.Int).Set(f.totalAllocated)
}

// Snapshot returns a consistent read-only view of the fund state.
func (f *Fund) Snapshot() FundSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()

	sharePrice := new(big.Int).Set(PriceScale)
	if f.totalShares.Sign() > 0 {
		sharePrice = mulDiv(f.netAssetsLocked(), PriceScale, f.totalShares)
	}
	agents := make([]string, len(f.agentList))
	copy(agents, f.agentList)

	return FundSnapshot{
		Asset:             f.asset,
		GrossAssets:       f.grossAssetsLocked(),
		NetAssets:         f.netAssetsLocked(),
		TotalShares:       new(big.Int).Set(f.totalShares),
		TotalAllocated:    new(big.Int).Set(f.totalAllocated),
		SharePrice:        sharePrice,
		AccruedMgmtFees:   new(big.Int).Set(f.accruedMgmtFees),
		AccruedOtherFees:  new(big.Int).Set(f.accruedOtherFees),
		LastFeeCheckpoint: f.lastFeeCheckpoint,
		MinDeposit:        new(big.Int).Set(f.minDeposit),
		MaxAllocationBps:  f.maxAllocationBps,
		ManagementFeeBps:  f.managementFeeBps,
		WithdrawalFeeBps:  f.withdrawalFeeBps,
		FeeRecipient:      f.feeRecipient,
		Paused:            f.paused,
		Agents:            agents,
	}
}

// Address returns the fund's ledger identity.
func (f *Fund) Address() string { return f.addr }

// Asset returns the custody asset symbol.
func (f *Fund) Asset() string { return f.asset }

func (f *Fund) grossAssetsLocked() *big.Int {
	gross := f.ledger.Balance(f.addr, f.asset)
	return gross.Add(gross, f.totalAllocated)
}

func (f *Fund) shareBalanceLocked(principal string) *big.Int {
	bal, ok := f.shares[principal]
	if !ok {
		bal = big.NewInt(0)
		f.shares[principal] = bal
	}
	return bal
}

func (f *Fund) emit(ev Event) {
	if f.events == nil {
		return
	}
	select {
	case f.events <- ev:
	default:
		// Channel full, drop event.
	}
}
