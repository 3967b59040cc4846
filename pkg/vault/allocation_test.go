package vault

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	agentAddr  = "0xagent"
	walletAddr = "0xwallet"
)

func newFundedFund(t *testing.T, total int64, maxAllocationBps uint64) (*Fund, *TokenLedger) {
	t.Helper()
	fund, ledger := newTestFund(t, FundConfig{
		MinDeposit:       big.NewInt(1),
		MaxAllocationBps: maxAllocationBps,
	})
	fundDeposit(t, fund, ledger, "0xalice", units(total))
	require.NoError(t, fund.AddAgent(adminAddr, agentAddr))
	return fund, ledger
}

func TestAgentRegistry(t *testing.T) {
	fund, _ := newTestFund(t, FundConfig{MinDeposit: big.NewInt(1)})

	t.Run("AddRequiresAdmin", func(t *testing.T) {
		assert.ErrorIs(t, fund.AddAgent("0xrando", agentAddr), ErrNotAdmin)
	})

	t.Run("AddAndList", func(t *testing.T) {
		require.NoError(t, fund.AddAgent(adminAddr, "0xa1"))
		require.NoError(t, fund.AddAgent(adminAddr, "0xa2"))
		require.NoError(t, fund.AddAgent(adminAddr, "0xa3"))
		assert.Equal(t, []string{"0xa1", "0xa2", "0xa3"}, fund.GetAuthorizedAgents())
		assert.True(t, fund.IsAgent("0xa2"))
	})

	t.Run("DuplicateRejected", func(t *testing.T) {
		assert.ErrorIs(t, fund.AddAgent(adminAddr, "0xa1"), ErrAgentExists)
	})

	t.Run("RemoveSwapsWithLast", func(t *testing.T) {
		require.NoError(t, fund.RemoveAgent(adminAddr, "0xa1"))
		assert.Equal(t, []string{"0xa3", "0xa2"}, fund.GetAuthorizedAgents())
		assert.False(t, fund.IsAgent("0xa1"))
	})

	t.Run("RemoveUnknownRejected", func(t *testing.T) {
		assert.ErrorIs(t, fund.RemoveAgent(adminAddr, "0xghost"), ErrAgentNotFound)
	})

	t.Run("ListAndSetNeverDiverge", func(t *testing.T) {
		fund, _ := newTestFund(t, FundConfig{MinDeposit: big.NewInt(1)})
		names := []string{"0x1", "0x2", "0x3", "0x4", "0x5"}
		for _, n := range names {
			require.NoError(t, fund.AddAgent(adminAddr, n))
		}
		for _, n := range []string{"0x3", "0x1", "0x5"} {
			require.NoError(t, fund.RemoveAgent(adminAddr, n))
		}
		list := fund.GetAuthorizedAgents()
		assert.Len(t, list, 2)
		seen := make(map[string]bool)
		for _, n := range list {
			assert.True(t, fund.IsAgent(n))
			assert.False(t, seen[n], "duplicate entry %s", n)
			seen[n] = true
		}
		for _, n := range []string{"0x2", "0x4"} {
			assert.True(t, seen[n])
		}
	})
}

func TestMoveToAgent(t *testing.T) {
	t.Run("MovesCapital", func(t *testing.T) {
		fund, ledger := newFundedFund(t, 1000, 9000)
		require.NoError(t, fund.MoveToAgent(agentAddr, units(300), walletAddr))

		assert.Equal(t, units(300), ledger.Balance(walletAddr, testAsset))
		assert.Equal(t, units(300), fund.TotalAllocated())
		assert.Equal(t, units(700), fund.GetAvailableAssets())
		// Moving capital out does not change gross or net value.
		assert.Equal(t, units(1000), fund.NetAssets())
	})

	t.Run("NonAgentRejected", func(t *testing.T) {
		fund, _ := newFundedFund(t, 1000, 9000)
		assert.ErrorIs(t, fund.MoveToAgent("0xrando", units(10), walletAddr), ErrNotAgent)
	})

	t.Run("ZeroAmountRejected", func(t *testing.T) {
		fund, _ := newFundedFund(t, 1000, 9000)
		assert.ErrorIs(t, fund.MoveToAgent(agentAddr, big.NewInt(0), walletAddr), ErrZeroAmount)
	})

	t.Run("EmptyDestinationRejected", func(t *testing.T) {
		fund, _ := newFundedFund(t, 1000, 9000)
		assert.ErrorIs(t, fund.MoveToAgent(agentAddr, units(10), ""), ErrEmptyDestination)
	})

	t.Run("CeilingEnforced", func(t *testing.T) {
		// At the 90% ceiling, 50 more units must be rejected untouched.
		fund, _ := newFundedFund(t, 1000, 9000)
		require.NoError(t, fund.MoveToAgent(agentAddr, units(900), walletAddr))

		err := fund.MoveToAgent(agentAddr, units(50), walletAddr)
		assert.ErrorIs(t, err, ErrAllocationTooHigh)
		assert.Equal(t, units(900), fund.TotalAllocated())
	})

	t.Run("CannotExceedAvailable", func(t *testing.T) {
		fund, _ := newFundedFund(t, 1000, 10000)
		require.NoError(t, fund.MoveToAgent(agentAddr, units(800), walletAddr))
		err := fund.MoveToAgent(agentAddr, units(300), walletAddr)
		assert.ErrorIs(t, err, ErrInsufficientAvailable)
	})

	t.Run("RejectedWhilePaused", func(t *testing.T) {
		fund, _ := newFundedFund(t, 1000, 9000)
		require.NoError(t, fund.Pause(adminAddr))
		assert.ErrorIs(t, fund.MoveToAgent(agentAddr, units(10), walletAddr), ErrFundPaused)
	})
}

func TestReturnFromAgent(t *testing.T) {
	t.Run("CapitalPlusProfit", func(t *testing.T) {
		fund, ledger := newFundedFund(t, 1000, 9000)
		require.NoError(t, fund.MoveToAgent(agentAddr, units(300), walletAddr))

		// Agent made 20 units; returns 320 with 20 declared profit.
		ledger.Mint(walletAddr, testAsset, units(20))
		ledger.Approve(walletAddr, fundAddr, testAsset, units(320))
		require.NoError(t, fund.ReturnFromAgent(agentAddr, units(320), units(20), walletAddr))

		assert.Equal(t, 0, fund.TotalAllocated().Sign())
		assert.Equal(t, units(1020), fund.NetAssets())
	})

	t.Run("PartialReturn", func(t *testing.T) {
		fund, ledger := newFundedFund(t, 1000, 9000)
		require.NoError(t, fund.MoveToAgent(agentAddr, units(300), walletAddr))

		ledger.Approve(walletAddr, fundAddr, testAsset, units(100))
		require.NoError(t, fund.ReturnFromAgent(agentAddr, units(100), big.NewInt(0), walletAddr))
		assert.Equal(t, units(200), fund.TotalAllocated())
	})

	t.Run("NonAgentRejected", func(t *testing.T) {
		fund, _ := newFundedFund(t, 1000, 9000)
		err := fund.ReturnFromAgent("0xrando", units(10), big.NewInt(0), walletAddr)
		assert.ErrorIs(t, err, ErrNotAgent)
	})

	t.Run("CapitalAboveOutstandingRejected", func(t *testing.T) {
		fund, ledger := newFundedFund(t, 1000, 9000)
		require.NoError(t, fund.MoveToAgent(agentAddr, units(100), walletAddr))

		ledger.Mint(walletAddr, testAsset, units(200))
		ledger.Approve(walletAddr, fundAddr, testAsset, units(300))
		err := fund.ReturnFromAgent(agentAddr, units(300), big.NewInt(0), walletAddr)
		assert.ErrorIs(t, err, ErrExcessiveReturn)
		assert.Equal(t, units(100), fund.TotalAllocated())
	})

	t.Run("NoAllowanceRollsBack", func(t *testing.T) {
		fund, _ := newFundedFund(t, 1000, 9000)
		require.NoError(t, fund.MoveToAgent(agentAddr, units(300), walletAddr))

		err := fund.ReturnFromAgent(agentAddr, units(300), big.NewInt(0), walletAddr)
		assert.ErrorIs(t, err, ErrInsufficientAllowance)
		assert.Equal(t, units(300), fund.TotalAllocated())
	})
}

func TestReturnAllCapital(t *testing.T) {
	t.Run("SweepsWalletAndResets", func(t *testing.T) {
		fund, ledger := newFundedFund(t, 1000, 9000)
		require.NoError(t, fund.MoveToAgent(agentAddr, units(400), walletAddr))

		// Wallet grew to 450; everything above 400 reports as profit.
		ledger.Mint(walletAddr, testAsset, units(50))
		ledger.Approve(walletAddr, fundAddr, testAsset, units(450))
		require.NoError(t, fund.ReturnAllCapital(agentAddr, walletAddr))

		assert.Equal(t, 0, fund.TotalAllocated().Sign())
		assert.Equal(t, 0, ledger.Balance(walletAddr, testAsset).Sign())
		assert.Equal(t, units(1050), fund.NetAssets())
	})

	t.Run("ShortWalletRejected", func(t *testing.T) {
		fund, ledger := newFundedFund(t, 1000, 9000)
		require.NoError(t, fund.MoveToAgent(agentAddr, units(400), walletAddr))

		// Wallet lost value; the sweep must not run.
		require.NoError(t, ledger.Transfer(walletAddr, "0xelsewhere", testAsset, units(100)))
		err := fund.ReturnAllCapital(agentAddr, walletAddr)
		assert.ErrorIs(t, err, ErrShortReturn)
		assert.Equal(t, units(400), fund.TotalAllocated())
	})
}
