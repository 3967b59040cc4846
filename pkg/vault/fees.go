package vault

import (
	"fmt"
	"math/big"
)

// accrueLocked converts elapsed time into owed management fees. A second
// call in the same instant is a no-op. Undo actions are recorded on rb so a
// failing caller rolls the posting back with the rest of its effects.
func (f *Fund) accrueLocked(rb *rollback) {
	now := f.now()
	dt := now.Sub(f.lastFeeCheckpoint)
	if dt <= 0 {
		return
	}

	gross := f.grossAssetsLocked()
	if gross.Sign() > 0 && f.managementFeeBps > 0 {
		fee := proratedFee(gross, f.managementFeeBps, int64(dt.Seconds()))
		if fee.Sign() > 0 {
			f.accruedMgmtFees.Add(f.accruedMgmtFees, fee)
			if rb != nil {
				rb.record(func() { f.accruedMgmtFees.Sub(f.accruedMgmtFees, fee) })
			}
			f.emit(newEvent(EventFeeAccrual, FeeRecord{
				ManagementFees: f.accruedMgmtFees.String(),
				OtherFees:      f.accruedOtherFees.String(),
			}))
		}
	}

	prev := f.lastFeeCheckpoint
	f.lastFeeCheckpoint = now
	if rb != nil {
		rb.record(func() { f.lastFeeCheckpoint = prev })
	}
}

// netAssetsLocked is gross assets minus posted fees minus the projection of
// what accrueLocked would post right now, so share pricing never understates
// owed fees between accrual calls. Floors at zero.
func (f *Fund) netAssetsLocked() *big.Int {
	gross := f.grossAssetsLocked()
	net := new(big.Int).Sub(gross, f.accruedMgmtFees)
	net.Sub(net, f.accruedOtherFees)

	if dt := f.now().Sub(f.lastFeeCheckpoint); dt > 0 && gross.Sign() > 0 && f.managementFeeBps > 0 {
		net.Sub(net, proratedFee(gross, f.managementFeeBps, int64(dt.Seconds())))
	}
	if net.Sign() < 0 {
		return big.NewInt(0)
	}
	return net
}

// proratedFee is gross * bps / 10000 * seconds / secondsPerYear, with
// truncation at each division.
func proratedFee(gross *big.Int, bps uint64, seconds int64) *big.Int {
	fee := mulDivBps(gross, bps)
	fee.Mul(fee, big.NewInt(seconds))
	return fee.Div(fee, big.NewInt(secondsPerYear))
}

// GetTotalAccumulatedFees returns posted management plus event fees.
func (f *Fund) GetTotalAccumulatedFees() *big.Int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return new(big.Int).Add(f.accruedMgmtFees, f.accruedOtherFees)
}

// AccruedFees returns the posted management and event fee accumulators.
func (f *Fund) AccruedFees() (mgmt, other *big.Int) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return new(big.Int).Set(f.accruedMgmtFees), new(big.Int).Set(f.accruedOtherFees)
}

// WithdrawFees pays the full accumulated fee balance to the fee recipient
// and resets both accumulators, atomically with the transfer. Callable by
// the fee recipient or the administrator.
func (f *Fund) WithdrawFees(caller string) (*big.Int, error) {
	if err := f.guard.enter(); err != nil {
		return nil, err
	}
	defer f.guard.exit()
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.feeRecipient == "" {
		return nil, ErrNoFeeRecipient
	}
	if caller != f.feeRecipient && caller != f.admin {
		return nil, ErrNotFeeRecipient
	}

	var rb rollback
	f.accrueLocked(&rb)

	total := new(big.Int).Add(f.accruedMgmtFees, f.accruedOtherFees)
	if total.Sign() == 0 {
		rb.run()
		return nil, ErrNoFeesAccrued
	}

	mgmt := new(big.Int).Set(f.accruedMgmtFees)
	other := new(big.Int).Set(f.accruedOtherFees)
	f.accruedMgmtFees.SetInt64(0)
	f.accruedOtherFees.SetInt64(0)
	rb.record(func() {
		f.accruedMgmtFees.Set(mgmt)
		f.accruedOtherFees.Set(other)
	})

	if err := f.ledger.Transfer(f.addr, f.feeRecipient, f.asset, total); err != nil {
		rb.run()
		return nil, err
	}

	f.emit(newEvent(EventFeeWithdrawal, FeeRecord{
		ManagementFees: mgmt.String(),
		OtherFees:      other.String(),
		Recipient:      f.feeRecipient,
	}))
	f.logger.Info("fees withdrawn", "recipient", f.feeRecipient, "amount", total)
	return total, nil
}

// SetMaxAllocation sets the allocation ceiling in basis points (≤ 100%).
func (f *Fund) SetMaxAllocation(caller string, bps uint64) error {
	return f.setParam(caller, "maxAllocationBps", func() error {
		if bps > MaxAllocationBps {
			return ErrAllocationTooHigh
		}
		f.maxAllocationBps = bps
		return nil
	}, fmt.Sprintf("%d", bps))
}

// SetMinDeposit sets the minimum accepted deposit.
func (f *Fund) SetMinDeposit(caller string, amount *big.Int) error {
	return f.setParam(caller, "minDeposit", func() error {
		if amount == nil || amount.Sign() < 0 {
			return ErrZeroAmount
		}
		f.minDeposit = new(big.Int).Set(amount)
		return nil
	}, amount.String())
}

// SetManagementFee sets the annual management fee (≤ 5%). Fees owed for the
// elapsed period accrue at the old rate first.
func (f *Fund) SetManagementFee(caller string, bps uint64) error {
	return f.setParam(caller, "managementFeeBps", func() error {
		if bps > MaxManagementFeeBps {
			return ErrFeeTooHigh
		}
		f.accrueLocked(nil)
		f.managementFeeBps = bps
		return nil
	}, fmt.Sprintf("%d", bps))
}

// SetWithdrawalFee sets the flat withdrawal/performance fee (≤ cap).
func (f *Fund) SetWithdrawalFee(caller string, bps uint64) error {
	return f.setParam(caller, "withdrawalFeeBps", func() error {
		if bps > MaxWithdrawalFeeBps {
			return ErrFeeTooHigh
		}
		f.withdrawalFeeBps = bps
		return nil
	}, fmt.Sprintf("%d", bps))
}

// SetFeeRecipient changes where withdrawn fees are paid.
func (f *Fund) SetFeeRecipient(caller, recipient string) error {
	return f.setParam(caller, "feeRecipient", func() error {
		if recipient == "" {
			return ErrEmptyDestination
		}
		f.feeRecipient = recipient
		return nil
	}, recipient)
}

func (f *Fund) setParam(caller, name string, apply func() error, value string) error {
	if err := f.guard.enter(); err != nil {
		return err
	}
	defer f.guard.exit()
	f.mu.Lock()
	defer f.mu.Unlock()

	if caller != f.admin {
		return ErrNotAdmin
	}
	if err := apply(); err != nil {
		return err
	}
	f.emit(newEvent(EventParamChanged, ParamRecord{Name: name, Value: value}))
	f.logger.Info("parameter changed", "name", name, "value", value)
	return nil
}
