package client

// DepositResult is the response to a deposit.
type DepositResult struct {
	Account string `json:"account"`
	Shares  string `json:"shares"`
	Status  string `json:"status"`
}

// WithdrawResult is the response to a full redemption.
type WithdrawResult struct {
	Account string `json:"account"`
	Paid    string `json:"paid"`
	Status  string `json:"status"`
}

// FeeWithdrawalResult is the response to a fee collection.
type FeeWithdrawalResult struct {
	Paid   string `json:"paid"`
	Status string `json:"status"`
}

// SettlementResult is the response to a settled trade.
type SettlementResult struct {
	TradeHash string `json:"tradeHash"`
	Status    string `json:"status"`
}

// Snapshot is the fund state summary returned by custody_getSnapshot.
type Snapshot struct {
	Asset                 string   `json:"asset"`
	GrossAssets           string   `json:"grossAssets"`
	NetAssets             string   `json:"netAssets"`
	TotalShares           string   `json:"totalShares"`
	TotalAllocated        string   `json:"totalAllocated"`
	SharePrice            string   `json:"sharePrice"`
	AccruedManagementFees string   `json:"accruedManagementFees"`
	AccruedOtherFees      string   `json:"accruedOtherFees"`
	LastFeeCheckpoint     int64    `json:"lastFeeCheckpoint"`
	MinDeposit            string   `json:"minDeposit"`
	MaxAllocationBps      uint64   `json:"maxAllocationBps"`
	ManagementFeeBps      uint64   `json:"managementFeeBps"`
	WithdrawalFeeBps      uint64   `json:"withdrawalFeeBps"`
	FeeRecipient          string   `json:"feeRecipient"`
	Paused                bool     `json:"paused"`
	Agents                []string `json:"agents"`
}

// NodeInfo is the response to custody_getInfo.
type NodeInfo struct {
	Version   string `json:"version"`
	Asset     string `json:"asset"`
	Fund      string `json:"fund"`
	Engine    string `json:"engine"`
	Timestamp int64  `json:"timestamp"`
}
