package vault

import "errors"

// Input validation.
var (
	ErrZeroAmount        = errors.New("amount must be positive")
	ErrBelowMinDeposit   = errors.New("deposit below minimum")
	ErrZeroShares        = errors.New("computed shares round to zero")
	ErrNoShares          = errors.New("no shares held")
	ErrZeroAssets        = errors.New("computed assets round to zero")
	ErrZeroNetAssets     = errors.New("fund has no net assets")
	ErrEmptyDestination  = errors.New("destination not set")
	ErrLengthMismatch    = errors.New("input arrays must have equal length")
	ErrInvalidOrder      = errors.New("order not marked valid by originator")
	ErrSameSide          = errors.New("both parties on the same side")
	ErrQuantityMismatch  = errors.New("party quantities do not match order")
)

// Authorization.
var (
	ErrNotAgent        = errors.New("caller is not an authorized agent")
	ErrNotAdmin        = errors.New("caller is not the administrator")
	ErrNotFeeRecipient = errors.New("caller may not withdraw fees")
	ErrNoFeeRecipient  = errors.New("fee recipient not configured")
	ErrAgentExists     = errors.New("agent already authorized")
	ErrAgentNotFound   = errors.New("agent not found")
)

// Insufficient resources.
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientAvailable = errors.New("amount exceeds unallocated capital")
	ErrShortReturn           = errors.New("returned balance below outstanding allocation")
	ErrExcessiveReturn       = errors.New("declared capital exceeds outstanding allocation")
	ErrNoFeesAccrued         = errors.New("no fees accrued")
)

// Replay / duplication.
var (
	ErrTradeExecuted = errors.New("trade already executed")
	ErrStaleNonce    = errors.New("nonce does not match registry")
)

// Cryptographic.
var (
	ErrBadSignature  = errors.New("signature does not recover to claimed signer")
	ErrSignatureSize = errors.New("signature must be 65 bytes")
)

// Policy bounds.
var (
	ErrFeeTooHigh        = errors.New("fee exceeds configured ceiling")
	ErrAllocationTooHigh = errors.New("allocation exceeds ceiling")
	ErrFundPaused        = errors.New("fund is paused")
)

// Concurrency.
var ErrReentrantCall = errors.New("reentrant call rejected")
