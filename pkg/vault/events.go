package vault

import (
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the engine. Each state-mutating public operation
// produces exactly one event on success.
const (
	EventDeposit       = "deposit"
	EventWithdrawal    = "withdrawal"
	EventAllocation    = "allocation"
	EventCapitalReturn = "capital_return"
	EventSettlement    = "settlement"
	EventFeeAccrual    = "fee_accrual"
	EventFeeWithdrawal = "fee_withdrawal"
	EventAgentAdded    = "agent_added"
	EventAgentRemoved  = "agent_removed"
	EventParamChanged  = "param_changed"
	EventPaused        = "paused"
	EventUnpaused      = "unpaused"
)

// Event is one record of the append-only externally-observable log. The
// core only produces events; it never reads them back.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// DepositRecord describes a completed deposit.
type DepositRecord struct {
	Depositor   string `json:"depositor"`
	Amount      string `json:"amount"`
	Shares      string `json:"shares"`
	TotalShares string `json:"totalShares"`
}

// WithdrawalRecord describes a completed full redemption.
type WithdrawalRecord struct {
	Holder      string `json:"holder"`
	Shares      string `json:"shares"`
	GrossAssets string `json:"grossAssets"`
	Fee         string `json:"fee"`
	NetPaid     string `json:"netPaid"`
	TotalShares string `json:"totalShares"`
}

// AllocationRecord describes capital moved to an agent wallet.
type AllocationRecord struct {
	Agent          string `json:"agent"`
	Destination    string `json:"destination"`
	Amount         string `json:"amount"`
	TotalAllocated string `json:"totalAllocated"`
}

// CapitalReturnRecord describes capital pulled back from an agent wallet.
type CapitalReturnRecord struct {
	Agent          string `json:"agent"`
	Source         string `json:"source"`
	Amount         string `json:"amount"`
	DeclaredProfit string `json:"declaredProfit"`
	TotalAllocated string `json:"totalAllocated"`
}

// SettlementRecord describes an executed bilateral trade.
type SettlementRecord struct {
	TradeHash   string `json:"tradeHash"`
	Party1      string `json:"party1"`
	Party2      string `json:"party2"`
	BaseAsset   string `json:"baseAsset"`
	QuoteAsset  string `json:"quoteAsset"`
	BaseAmount  string `json:"baseAmount"`
	QuoteAmount string `json:"quoteAmount"`
	Price       string `json:"price"`
}

// FeeRecord describes accrued or collected fees.
type FeeRecord struct {
	ManagementFees string `json:"managementFees"`
	OtherFees      string `json:"otherFees"`
	Recipient      string `json:"recipient,omitempty"`
}

// AgentRecord describes an agent registry change.
type AgentRecord struct {
	Agent  string   `json:"agent"`
	Agents []string `json:"agents"`
}

// ParamRecord describes an admin parameter change.
type ParamRecord struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func newEvent(typ string, data interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now(),
		Data:      data,
	}
}
