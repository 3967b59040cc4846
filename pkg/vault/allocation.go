package vault

import (
	"math/big"
)

// AddAgent authorizes principal to move pooled capital. Administrator only.
func (f *Fund) AddAgent(caller, agent string) error {
	if err := f.guard.enter(); err != nil {
		return err
	}
	defer f.guard.exit()
	f.mu.Lock()
	defer f.mu.Unlock()

	if caller != f.admin {
		return ErrNotAdmin
	}
	if agent == "" {
		return ErrEmptyDestination
	}
	if f.agentSet[agent] {
		return ErrAgentExists
	}
	f.agentSet[agent] = true
	f.agentList = append(f.agentList, agent)

	f.emit(newEvent(EventAgentAdded, AgentRecord{Agent: agent, Agents: f.agentsLocked()}))
	f.logger.Info("agent added", "agent", agent)
	return nil
}

// RemoveAgent revokes an agent. The ordered list and the membership flag are
// changed together so they never diverge.
func (f *Fund) RemoveAgent(caller, agent string) error {
	if err := f.guard.enter(); err != nil {
		return err
	}
	defer f.guard.exit()
	f.mu.Lock()
	defer f.mu.Unlock()

	if caller != f.admin {
		return ErrNotAdmin
	}
	if !f.agentSet[agent] {
		return ErrAgentNotFound
	}
	for i, a := range f.agentList {
		if a == agent {
			last := len(f.agentList) - 1
			f.agentList[i] = f.agentList[last]
			f.agentList = f.agentList[:last]
			break
		}
	}
	delete(f.agentSet, agent)

	f.emit(newEvent(EventAgentRemoved, AgentRecord{Agent: agent, Agents: f.agentsLocked()}))
	f.logger.Info("agent removed", "agent", agent)
	return nil
}

// GetAuthorizedAgents returns the ordered agent list.
func (f *Fund) GetAuthorizedAgents() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.agentsLocked()
}

// IsAgent reports whether principal is an authorized agent.
func (f *Fund) IsAgent(principal string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.agentSet[principal]
}

func (f *Fund) agentsLocked() []string {
	out := make([]string, len(f.agentList))
	copy(out, f.agentList)
	return out
}

// MoveToAgent pushes amount of pooled capital to an agent-controlled wallet.
// The new allocation total may not exceed the configured fraction of net
// assets, and only unallocated capital can move.
func (f *Fund) MoveToAgent(caller string, amount *big.Int, destination string) error {
	if err := f.guard.enter(); err != nil {
		return err
	}
	defer f.guard.exit()
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.paused {
		return ErrFundPaused
	}
	if !f.agentSet[caller] {
		return ErrNotAgent
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if destination == "" {
		return ErrEmptyDestination
	}

	nav := f.netAssetsLocked()
	available := new(big.Int).Sub(nav, f.totalAllocated)
	if amount.Cmp(available) > 0 {
		return ErrInsufficientAvailable
	}
	newTotal := new(big.Int).Add(f.totalAllocated, amount)
	if newTotal.Cmp(mulDivBps(nav, f.maxAllocationBps)) > 0 {
		return ErrAllocationTooHigh
	}

	var rb rollback
	f.totalAllocated.Add(f.totalAllocated, amount)
	rb.record(func() { f.totalAllocated.Sub(f.totalAllocated, amount) })

	if err := f.ledger.Transfer(f.addr, destination, f.asset, amount); err != nil {
		rb.run()
		return err
	}

	f.emit(newEvent(EventAllocation, AllocationRecord{
		Agent:          caller,
		Destination:    destination,
		Amount:         amount.String(),
		TotalAllocated: f.totalAllocated.String(),
	}))
	f.logger.Info("capital allocated", "agent", caller, "destination", destination, "amount", amount)
	return nil
}

// ReturnFromAgent pulls amount back from an agent wallet. declaredProfit is
// the caller-reported profit portion; the remainder reduces the outstanding
// allocation. The source wallet must have pre-approved the fund's pull.
func (f *Fund) ReturnFromAgent(caller string, amount, declaredProfit *big.Int, source string) error {
	if err := f.guard.enter(); err != nil {
		return err
	}
	defer f.guard.exit()
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.agentSet[caller] {
		return ErrNotAgent
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if source == "" {
		return ErrEmptyDestination
	}
	if declaredProfit == nil {
		declaredProfit = big.NewInt(0)
	}
	if declaredProfit.Sign() < 0 || declaredProfit.Cmp(amount) > 0 {
		return ErrZeroAmount
	}

	var rb rollback
	f.accrueLocked(&rb)

	capital := new(big.Int).Sub(amount, declaredProfit)
	if capital.Cmp(f.totalAllocated) > 0 {
		rb.run()
		return ErrExcessiveReturn
	}

	f.totalAllocated.Sub(f.totalAllocated, capital)
	rb.record(func() { f.totalAllocated.Add(f.totalAllocated, capital) })

	if err := f.ledger.TransferFrom(source, f.addr, f.addr, f.asset, amount); err != nil {
		rb.run()
		return err
	}

	f.emit(newEvent(EventCapitalReturn, CapitalReturnRecord{
		Agent:          caller,
		Source:         source,
		Amount:         amount.String(),
		DeclaredProfit: declaredProfit.String(),
		TotalAllocated: f.totalAllocated.String(),
	}))
	f.logger.Info("capital returned", "agent", caller, "source", source,
		"amount", amount, "profit", declaredProfit)
	return nil
}

// ReturnAllCapital pulls the source wallet's entire balance back into the
// fund. The balance must cover the outstanding allocation; any excess is
// reported as profit. Resets the allocation total to zero.
func (f *Fund) ReturnAllCapital(caller, source string) error {
	if err := f.guard.enter(); err != nil {
		return err
	}
	defer f.guard.exit()
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.agentSet[caller] {
		return ErrNotAgent
	}
	if source == "" {
		return ErrEmptyDestination
	}

	var rb rollback
	f.accrueLocked(&rb)

	balance := f.ledger.Balance(source, f.asset)
	if balance.Cmp(f.totalAllocated) < 0 {
		rb.run()
		return ErrShortReturn
	}
	profit := new(big.Int).Sub(balance, f.totalAllocated)

	prev := new(big.Int).Set(f.totalAllocated)
	f.totalAllocated.SetInt64(0)
	rb.record(func() { f.totalAllocated.Set(prev) })

	if balance.Sign() > 0 {
		if err := f.ledger.TransferFrom(source, f.addr, f.addr, f.asset, balance); err != nil {
			rb.run()
			return err
		}
	}

	f.emit(newEvent(EventCapitalReturn, CapitalReturnRecord{
		Agent:          caller,
		Source:         source,
		Amount:         balance.String(),
		DeclaredProfit: profit.String(),
		TotalAllocated: "0",
	}))
	f.logger.Info("all capital returned", "agent", caller, "source", source,
		"amount", balance, "profit", profit)
	return nil
}
