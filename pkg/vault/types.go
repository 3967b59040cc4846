package vault

import (
	"math/big"
	"time"
)

// Side represents which side of a trade an order takes.
type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

const (
	// BpsDenominator is the basis-point scale: 10000 bps = 100%.
	BpsDenominator = 10000

	// PriceScale is the fixed-point scale for prices (18 fractional digits).
	// quoteAmount = quantity * price / PriceScale.
	priceScaleExp = 18

	// Fee policy ceilings, in basis points.
	MaxManagementFeeBps = 500   // 5%
	MaxWithdrawalFeeBps = 1000  // 10%
	MaxAllocationBps    = 10000 // 100%

	secondsPerYear = 365 * 24 * 3600
)

// PriceScale is 10^18 as a big.Int.
var PriceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(priceScaleExp), nil)

// TradeOrder carries the pre-signed terms of one side of a bilateral trade.
// The originator sets Valid before submission; an order with Valid unset is
// never settleable.
type TradeOrder struct {
	OrderID    uint64   `json:"orderId"`
	Account    string   `json:"account"`
	Price      *big.Int `json:"price"`    // PriceScale fixed-point
	Quantity   *big.Int `json:"quantity"` // base-asset units
	Side       Side     `json:"side"`
	BaseAsset  string   `json:"baseAsset"`
	QuoteAsset string   `json:"quoteAsset"`
	TradeID    uint64   `json:"tradeId"`
	Timestamp  int64    `json:"timestamp"`
	Valid      bool     `json:"valid"`
}

// SettlementInstruction is a fully-authorized bilateral settlement request.
// Authorization comes from the two embedded signatures, not from the
// submitter's identity.
type SettlementInstruction struct {
	Order  TradeOrder `json:"order"`
	Party1 string     `json:"party1"`
	Party2 string     `json:"party2"`
	Qty1   *big.Int   `json:"qty1"`
	Qty2   *big.Int   `json:"qty2"`
	Side1  Side       `json:"side1"`
	Side2  Side       `json:"side2"`
	Sig1   []byte     `json:"sig1"`
	Sig2   []byte     `json:"sig2"`
	Nonce1 uint64     `json:"nonce1"`
	Nonce2 uint64     `json:"nonce2"`
}

// FundConfig carries the fund identity and admin-tunable parameters.
type FundConfig struct {
	Address          string   // the fund's own ledger identity
	Asset            string   // custody asset moved by deposits/withdrawals
	Admin            string
	FeeRecipient     string
	MinDeposit       *big.Int
	MaxAllocationBps uint64
	ManagementFeeBps uint64
	WithdrawalFeeBps uint64
}

// FundSnapshot is a read-only view of the fund state for external surfaces.
type FundSnapshot struct {
	Asset            string    `json:"asset"`
	GrossAssets      *big.Int  `json:"grossAssets"`
	NetAssets        *big.Int  `json:"netAssets"`
	TotalShares      *big.Int  `json:"totalShares"`
	TotalAllocated   *big.Int  `json:"totalAllocated"`
	SharePrice       *big.Int  `json:"sharePrice"`
	AccruedMgmtFees  *big.Int  `json:"accruedManagementFees"`
	AccruedOtherFees *big.Int  `json:"accruedOtherFees"`
	LastFeeCheckpoint time.Time `json:"lastFeeCheckpoint"`
	MinDeposit       *big.Int  `json:"minDeposit"`
	MaxAllocationBps uint64    `json:"maxAllocationBps"`
	ManagementFeeBps uint64    `json:"managementFeeBps"`
	WithdrawalFeeBps uint64    `json:"withdrawalFeeBps"`
	FeeRecipient     string    `json:"feeRecipient"`
	Paused           bool      `json:"paused"`
	Agents           []string  `json:"agents"`
}

// mulDivBps computes v * bps / 10000 without mutating v.
func mulDivBps(v *big.Int, bps uint64) *big.Int {
	out := new(big.Int).Mul(v, new(big.Int).SetUint64(bps))
	return out.Div(out, big.NewInt(BpsDenominator))
}

// mulDiv computes a * b / c without mutating its inputs.
func mulDiv(a, b, c *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Div(out, c)
}
