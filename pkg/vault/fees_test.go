package vault

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setClock pins the fund's clock and returns a function to advance it.
func setClock(fund *Fund, start time.Time) func(time.Duration) {
	current := start
	fund.mu.Lock()
	fund.now = func() time.Time { return current }
	fund.lastFeeCheckpoint = start
	fund.mu.Unlock()
	return func(d time.Duration) { current = current.Add(d) }
}

func TestManagementFeeAccrual(t *testing.T) {
	fund, ledger := newTestFund(t, FundConfig{
		MinDeposit:       big.NewInt(1),
		ManagementFeeBps: 200, // 2% per year
	})
	advance := setClock(fund, time.Now())
	fundDeposit(t, fund, ledger, "0xalice", units(1000))

	t.Run("HalfYear", func(t *testing.T) {
		advance(time.Duration(secondsPerYear/2) * time.Second)
		fund.mu.Lock()
		fund.accrueLocked(nil)
		fund.mu.Unlock()

		mgmt, _ := fund.AccruedFees()
		// 1000 * 2% / 2 = 10 units.
		assert.Equal(t, units(10), mgmt)
	})

	t.Run("IdempotentSameInstant", func(t *testing.T) {
		before, _ := fund.AccruedFees()
		fund.mu.Lock()
		fund.accrueLocked(nil)
		fund.accrueLocked(nil)
		fund.mu.Unlock()
		after, _ := fund.AccruedFees()
		assert.Equal(t, before, after)
	})

	t.Run("MonotonicUnderTimeAdvance", func(t *testing.T) {
		prev, _ := fund.AccruedFees()
		for i := 0; i < 5; i++ {
			advance(24 * time.Hour)
			fund.mu.Lock()
			fund.accrueLocked(nil)
			fund.mu.Unlock()
			cur, _ := fund.AccruedFees()
			assert.True(t, cur.Cmp(prev) >= 0, "accrued fees must not decrease")
			prev = cur
		}
	})
}

func TestNetAssetsProjectsUnpostedFees(t *testing.T) {
	// Share pricing must see owed fees even before accrue posts them.
	fund, ledger := newTestFund(t, FundConfig{
		MinDeposit:       big.NewInt(1),
		ManagementFeeBps: 200,
	})
	advance := setClock(fund, time.Now())
	fundDeposit(t, fund, ledger, "0xalice", units(1000))

	advance(time.Duration(secondsPerYear/2) * time.Second)

	// Nothing posted yet, but the view already deducts the projection.
	mgmt, _ := fund.AccruedFees()
	assert.Equal(t, 0, mgmt.Sign())
	assert.Equal(t, units(990), fund.NetAssets())

	// Posting the fee does not change the view.
	fund.mu.Lock()
	fund.accrueLocked(nil)
	fund.mu.Unlock()
	assert.Equal(t, units(990), fund.NetAssets())
}

func TestDepositPricesAgainstAccruedFees(t *testing.T) {
	// A depositor timing their entry between accruals gets no discount.
	fund, ledger := newTestFund(t, FundConfig{
		MinDeposit:       big.NewInt(1),
		ManagementFeeBps: 200,
	})
	advance := setClock(fund, time.Now())
	fundDeposit(t, fund, ledger, "0xalice", units(1000))

	advance(time.Duration(secondsPerYear/2) * time.Second)

	// NAV is 990, so 99 units buys 100 shares.
	ledger.Mint("0xbob", testAsset, units(99))
	ledger.Approve("0xbob", fundAddr, testAsset, units(99))
	shares, err := fund.Deposit("0xbob", units(99))
	require.NoError(t, err)
	assert.Equal(t, units(100), shares)
}

func TestWithdrawFees(t *testing.T) {
	t.Run("RecipientCollects", func(t *testing.T) {
		fund, ledger := newTestFund(t, FundConfig{
			MinDeposit:       big.NewInt(1),
			WithdrawalFeeBps: 100,
			FeeRecipient:     feeAddr,
		})
		fundDeposit(t, fund, ledger, "0xalice", units(100))
		_, err := fund.Withdraw("0xalice") // posts a 1 unit event fee
		require.NoError(t, err)

		collected, err := fund.WithdrawFees(feeAddr)
		require.NoError(t, err)
		assert.Equal(t, units(1), collected)
		assert.Equal(t, units(1), ledger.Balance(feeAddr, testAsset))

		// Both accumulators reset atomically with the transfer.
		mgmt, other := fund.AccruedFees()
		assert.Equal(t, 0, mgmt.Sign())
		assert.Equal(t, 0, other.Sign())
	})

	t.Run("AdminMayCollect", func(t *testing.T) {
		fund, ledger := newTestFund(t, FundConfig{
			MinDeposit:       big.NewInt(1),
			WithdrawalFeeBps: 100,
			FeeRecipient:     feeAddr,
		})
		fundDeposit(t, fund, ledger, "0xalice", units(100))
		_, err := fund.Withdraw("0xalice")
		require.NoError(t, err)

		_, err = fund.WithdrawFees(adminAddr)
		assert.NoError(t, err)
		assert.Equal(t, units(1), ledger.Balance(feeAddr, testAsset))
	})

	t.Run("StrangerRejected", func(t *testing.T) {
		fund, _ := newTestFund(t, FundConfig{
			MinDeposit:   big.NewInt(1),
			FeeRecipient: feeAddr,
		})
		_, err := fund.WithdrawFees("0xrando")
		assert.ErrorIs(t, err, ErrNotFeeRecipient)
	})

	t.Run("NoRecipientConfigured", func(t *testing.T) {
		fund, _ := newTestFund(t, FundConfig{MinDeposit: big.NewInt(1)})
		_, err := fund.WithdrawFees(adminAddr)
		assert.ErrorIs(t, err, ErrNoFeeRecipient)
	})

	t.Run("NothingAccrued", func(t *testing.T) {
		fund, _ := newTestFund(t, FundConfig{
			MinDeposit:   big.NewInt(1),
			FeeRecipient: feeAddr,
		})
		_, err := fund.WithdrawFees(feeAddr)
		assert.ErrorIs(t, err, ErrNoFeesAccrued)
	})
}

func TestAdminSetters(t *testing.T) {
	fund, _ := newTestFund(t, FundConfig{MinDeposit: big.NewInt(1)})

	t.Run("NonAdminRejected", func(t *testing.T) {
		assert.ErrorIs(t, fund.SetMaxAllocation("0xrando", 5000), ErrNotAdmin)
		assert.ErrorIs(t, fund.SetManagementFee("0xrando", 100), ErrNotAdmin)
	})

	t.Run("BoundsEnforced", func(t *testing.T) {
		assert.ErrorIs(t, fund.SetMaxAllocation(adminAddr, MaxAllocationBps+1), ErrAllocationTooHigh)
		assert.ErrorIs(t, fund.SetManagementFee(adminAddr, MaxManagementFeeBps+1), ErrFeeTooHigh)
		assert.ErrorIs(t, fund.SetWithdrawalFee(adminAddr, MaxWithdrawalFeeBps+1), ErrFeeTooHigh)
		assert.ErrorIs(t, fund.SetFeeRecipient(adminAddr, ""), ErrEmptyDestination)
	})

	t.Run("ValidChangesApply", func(t *testing.T) {
		require.NoError(t, fund.SetMaxAllocation(adminAddr, 2500))
		require.NoError(t, fund.SetMinDeposit(adminAddr, units(5)))
		require.NoError(t, fund.SetManagementFee(adminAddr, 100))
		require.NoError(t, fund.SetWithdrawalFee(adminAddr, 25))
		require.NoError(t, fund.SetFeeRecipient(adminAddr, feeAddr))

		snap := fund.Snapshot()
		assert.Equal(t, uint64(2500), snap.MaxAllocationBps)
		assert.Equal(t, units(5), snap.MinDeposit)
		assert.Equal(t, uint64(100), snap.ManagementFeeBps)
		assert.Equal(t, uint64(25), snap.WithdrawalFeeBps)
		assert.Equal(t, feeAddr, snap.FeeRecipient)
	})
}
