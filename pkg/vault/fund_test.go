package vault

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAsset = "USDC"
	fundAddr  = "0xfund"
	adminAddr = "0xadmin"
	feeAddr   = "0xfees"
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), PriceScale)
}

func newTestFund(t *testing.T, cfg FundConfig) (*Fund, *TokenLedger) {
	t.Helper()
	ledger := NewTokenLedger()
	if cfg.Address == "" {
		cfg.Address = fundAddr
	}
	if cfg.Asset == "" {
		cfg.Asset = testAsset
	}
	if cfg.Admin == "" {
		cfg.Admin = adminAddr
	}
	fund, err := NewFund(ledger, cfg, nil, nil)
	require.NoError(t, err)
	return fund, ledger
}

func fundDeposit(t *testing.T, fund *Fund, ledger *TokenLedger, who string, amount *big.Int) *big.Int {
	t.Helper()
	ledger.Mint(who, testAsset, amount)
	ledger.Approve(who, fundAddr, testAsset, amount)
	shares, err := fund.Deposit(who, amount)
	require.NoError(t, err)
	return shares
}

func TestNewFund(t *testing.T) {
	ledger := NewTokenLedger()

	t.Run("Valid", func(t *testing.T) {
		fund, err := NewFund(ledger, FundConfig{
			Address: fundAddr, Asset: testAsset, Admin: adminAddr,
			MinDeposit: big.NewInt(1),
		}, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, fundAddr, fund.Address())
		assert.Equal(t, testAsset, fund.Asset())
		assert.Equal(t, 0, fund.TotalShares().Sign())
	})

	t.Run("MissingIdentity", func(t *testing.T) {
		_, err := NewFund(ledger, FundConfig{Asset: testAsset, Admin: adminAddr}, nil, nil)
		assert.Error(t, err)
	})

	t.Run("FeeAboveCeiling", func(t *testing.T) {
		_, err := NewFund(ledger, FundConfig{
			Address: fundAddr, Asset: testAsset, Admin: adminAddr,
			ManagementFeeBps: MaxManagementFeeBps + 1,
		}, nil, nil)
		assert.ErrorIs(t, err, ErrFeeTooHigh)
	})
}

func TestDepositInitialExchangeRate(t *testing.T) {
	// First depositor into an empty fund gets shares 1:1.
	fund, ledger := newTestFund(t, FundConfig{MinDeposit: big.NewInt(1)})

	shares := fundDeposit(t, fund, ledger, "0xalice", units(100))
	assert.Equal(t, units(100), shares)
	assert.Equal(t, units(100), fund.TotalShares())
	assert.Equal(t, PriceScale, fund.GetSharePrice())
	assert.Equal(t, units(100), ledger.Balance(fundAddr, testAsset))
}

func TestDepositValidation(t *testing.T) {
	fund, ledger := newTestFund(t, FundConfig{MinDeposit: units(10)})

	t.Run("ZeroAmount", func(t *testing.T) {
		_, err := fund.Deposit("0xalice", big.NewInt(0))
		assert.ErrorIs(t, err, ErrZeroAmount)
	})

	t.Run("BelowMinimum", func(t *testing.T) {
		_, err := fund.Deposit("0xalice", units(5))
		assert.ErrorIs(t, err, ErrBelowMinDeposit)
	})

	t.Run("NoAllowance", func(t *testing.T) {
		ledger.Mint("0xalice", testAsset, units(50))
		_, err := fund.Deposit("0xalice", units(50))
		assert.ErrorIs(t, err, ErrInsufficientAllowance)
		// Bookkeeping rolled back with the failed pull.
		assert.Equal(t, 0, fund.TotalShares().Sign())
		assert.Equal(t, 0, fund.ShareBalanceOf("0xalice").Sign())
	})

	t.Run("DustRoundsToZeroShares", func(t *testing.T) {
		fund, ledger := newTestFund(t, FundConfig{MinDeposit: big.NewInt(1)})
		fundDeposit(t, fund, ledger, "0xwhale", units(1_000_000))

		// One base unit against a huge fund mints nothing.
		ledger.Mint("0xdust", testAsset, big.NewInt(1))
		ledger.Approve("0xdust", fundAddr, testAsset, big.NewInt(1))
		_, err := fund.Deposit("0xdust", big.NewInt(1))
		assert.ErrorIs(t, err, ErrZeroShares)
	})

	t.Run("Paused", func(t *testing.T) {
		require.NoError(t, fund.Pause(adminAddr))
		_, err := fund.Deposit("0xalice", units(50))
		assert.ErrorIs(t, err, ErrFundPaused)
		require.NoError(t, fund.Unpause(adminAddr))
	})
}

func TestShareConservation(t *testing.T) {
	// Sum of all share balances equals total supply after every operation.
	fund, ledger := newTestFund(t, FundConfig{MinDeposit: big.NewInt(1)})
	holders := []string{"0xa", "0xb", "0xc"}

	check := func() {
		sum := big.NewInt(0)
		for _, h := range holders {
			sum.Add(sum, fund.ShareBalanceOf(h))
		}
		assert.Equal(t, fund.TotalShares(), sum)
	}

	fundDeposit(t, fund, ledger, "0xa", units(100))
	check()
	fundDeposit(t, fund, ledger, "0xb", units(250))
	check()
	fundDeposit(t, fund, ledger, "0xc", units(37))
	check()

	_, err := fund.Withdraw("0xb")
	require.NoError(t, err)
	check()

	fundDeposit(t, fund, ledger, "0xb", units(10))
	check()

	_, err = fund.Withdraw("0xa")
	require.NoError(t, err)
	check()
}

func TestWithdraw(t *testing.T) {
	t.Run("FullRedemptionWithFee", func(t *testing.T) {
		// 100 shares at 1:1 with a 10 bps withdrawal fee pays 99.9 units.
		fund, ledger := newTestFund(t, FundConfig{
			MinDeposit:       big.NewInt(1),
			WithdrawalFeeBps: 10,
		})
		fundDeposit(t, fund, ledger, "0xalice", units(100))

		paid, err := fund.Withdraw("0xalice")
		require.NoError(t, err)

		expectedFee := new(big.Int).Div(units(100), big.NewInt(1000)) // 0.1 units
		expected := new(big.Int).Sub(units(100), expectedFee)
		assert.Equal(t, expected, paid)
		assert.Equal(t, expected, ledger.Balance("0xalice", testAsset))

		_, other := fund.AccruedFees()
		assert.Equal(t, expectedFee, other)
		assert.Equal(t, 0, fund.TotalShares().Sign())
		assert.Equal(t, 0, fund.ShareBalanceOf("0xalice").Sign())
	})

	t.Run("NoShares", func(t *testing.T) {
		fund, _ := newTestFund(t, FundConfig{MinDeposit: big.NewInt(1)})
		_, err := fund.Withdraw("0xnobody")
		assert.ErrorIs(t, err, ErrNoShares)
	})

	t.Run("AllowedWhilePaused", func(t *testing.T) {
		fund, ledger := newTestFund(t, FundConfig{MinDeposit: big.NewInt(1)})
		fundDeposit(t, fund, ledger, "0xalice", units(100))
		require.NoError(t, fund.Pause(adminAddr))

		_, err := fund.Withdraw("0xalice")
		assert.NoError(t, err)
	})
}

func TestSharePriceTracksValue(t *testing.T) {
	fund, ledger := newTestFund(t, FundConfig{MinDeposit: big.NewInt(1)})
	fundDeposit(t, fund, ledger, "0xalice", units(100))

	// Outside value lands in the fund wallet; the price doubles.
	ledger.Mint(fundAddr, testAsset, units(100))
	assert.Equal(t, new(big.Int).Mul(PriceScale, big.NewInt(2)), fund.GetSharePrice())

	// A new depositor gets shares at the higher price.
	ledger.Mint("0xbob", testAsset, units(100))
	ledger.Approve("0xbob", fundAddr, testAsset, units(100))
	shares, err := fund.Deposit("0xbob", units(100))
	require.NoError(t, err)
	assert.Equal(t, units(50), shares)
}

func TestSnapshot(t *testing.T) {
	fund, ledger := newTestFund(t, FundConfig{
		MinDeposit:       units(1),
		MaxAllocationBps: 9000,
		WithdrawalFeeBps: 10,
		FeeRecipient:     feeAddr,
	})
	fundDeposit(t, fund, ledger, "0xalice", units(100))
	require.NoError(t, fund.AddAgent(adminAddr, "0xagent"))

	snap := fund.Snapshot()
	assert.Equal(t, testAsset, snap.Asset)
	assert.Equal(t, units(100), snap.GrossAssets)
	assert.Equal(t, units(100), snap.NetAssets)
	assert.Equal(t, units(100), snap.TotalShares)
	assert.Equal(t, PriceScale, snap.SharePrice)
	assert.Equal(t, uint64(9000), snap.MaxAllocationBps)
	assert.Equal(t, feeAddr, snap.FeeRecipient)
	assert.Equal(t, []string{"0xagent"}, snap.Agents)
	assert.False(t, snap.Paused)
}

// reentrantLedger re-invokes a fund operation from inside a transfer, the
// way a hostile token could.
type reentrantLedger struct {
	*TokenLedger
	fund    *Fund
	attempt func(*Fund) error
	got     error
}

func (l *reentrantLedger) TransferFrom(owner, spender, to, asset string, amount *big.Int) error {
	l.got = l.attempt(l.fund)
	return l.TokenLedger.TransferFrom(owner, spender, to, asset, amount)
}

func TestReentrantCallRejected(t *testing.T) {
	inner := NewTokenLedger()
	mal := &reentrantLedger{TokenLedger: inner, attempt: func(f *Fund) error {
		_, err := f.Withdraw("0xalice")
		return err
	}}
	fund, err := NewFund(mal, FundConfig{
		Address: fundAddr, Asset: testAsset, Admin: adminAddr,
		MinDeposit: big.NewInt(1),
	}, nil, nil)
	require.NoError(t, err)
	mal.fund = fund

	inner.Mint("0xalice", testAsset, units(10))
	inner.Approve("0xalice", fundAddr, testAsset, units(10))
	_, err = fund.Deposit("0xalice", units(10))
	require.NoError(t, err)

	assert.ErrorIs(t, mal.got, ErrReentrantCall)
	// The outer deposit itself still committed.
	assert.Equal(t, units(10), fund.TotalShares())
}

func TestPauseAuthorization(t *testing.T) {
	fund, _ := newTestFund(t, FundConfig{MinDeposit: big.NewInt(1)})
	assert.ErrorIs(t, fund.Pause("0xrando"), ErrNotAdmin)
	assert.NoError(t, fund.Pause(adminAddr))
	assert.True(t, fund.Snapshot().Paused)
}

func TestNetAssetsFloorsAtZero(t *testing.T) {
	fund, ledger := newTestFund(t, FundConfig{
		MinDeposit:       big.NewInt(1),
		ManagementFeeBps: 500,
	})
	fundDeposit(t, fund, ledger, "0xalice", units(100))

	// Push the projected fee far past gross value.
	fund.mu.Lock()
	fund.lastFeeCheckpoint = time.Now().Add(-100 * 365 * 24 * time.Hour)
	fund.mu.Unlock()

	assert.Equal(t, 0, fund.NetAssets().Sign())
}
