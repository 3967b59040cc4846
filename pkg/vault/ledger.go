package vault

import (
	"fmt"
	"math/big"
	"sync"
)

// AssetLedger is the external token system the engine moves value on.
// The core needs exactly these four operations; everything else about the
// token implementation is out of scope.
type AssetLedger interface {
	Balance(owner, asset string) *big.Int
	Allowance(owner, spender, asset string) *big.Int
	// Transfer moves amount of asset from one holder to another. It fails
	// if the sender's balance is insufficient.
	Transfer(from, to, asset string, amount *big.Int) error
	// TransferFrom moves amount of owner's asset to the recipient on the
	// authority of spender. It fails if spender's allowance or owner's
	// balance is insufficient.
	TransferFrom(owner, spender, to, asset string, amount *big.Int) error
}

// TokenLedger is an in-process AssetLedger with ERC-20 style balances and
// allowances. Mutating calls are serialized by a single mutex so the engine
// sees one consistent view between its pre-flight checks and transfers.
type TokenLedger struct {
	balances   map[balanceKey]*big.Int
	allowances map[allowanceKey]*big.Int
	mu         sync.RWMutex
}

type balanceKey struct {
	owner string
	asset string
}

type allowanceKey struct {
	owner   string
	spender string
	asset   string
}

// NewTokenLedger creates an empty ledger.
func NewTokenLedger() *TokenLedger {
	return &TokenLedger{
		balances:   make(map[balanceKey]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

// Mint credits amount of asset to owner. Used to bootstrap test and demo
// environments; a production deployment fronts a real token system instead.
func (l *TokenLedger) Mint(owner, asset string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(owner, asset, amount)
}

// Approve lets spender move up to amount of owner's asset.
func (l *TokenLedger) Approve(owner, spender, asset string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[allowanceKey{owner, spender, asset}] = new(big.Int).Set(amount)
}

// Balance returns owner's balance of asset.
func (l *TokenLedger) Balance(owner, asset string) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[balanceKey{owner, asset}]; ok {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

// Allowance returns how much of owner's asset spender may still move.
func (l *TokenLedger) Allowance(owner, spender, asset string) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if a, ok := l.allowances[allowanceKey{owner, spender, asset}]; ok {
		return new(big.Int).Set(a)
	}
	return big.NewInt(0)
}

// Transfer moves amount from one holder to another.
func (l *TokenLedger) Transfer(from, to, asset string, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(from, asset, amount); err != nil {
		return err
	}
	l.credit(to, asset, amount)
	return nil
}

// TransferFrom moves amount of owner's asset to the recipient, consuming
// spender's allowance.
func (l *TokenLedger) TransferFrom(owner, spender, to, asset string, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := allowanceKey{owner, spender, asset}
	allowance, ok := l.allowances[key]
	if !ok || allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s spending %s/%s", ErrInsufficientAllowance, spender, owner, asset)
	}
	if err := l.debit(owner, asset, amount); err != nil {
		return err
	}
	allowance.Sub(allowance, amount)
	l.credit(to, asset, amount)
	return nil
}

func (l *TokenLedger) credit(owner, asset string, amount *big.Int) {
	key := balanceKey{owner, asset}
	if b, ok := l.balances[key]; ok {
		b.Add(b, amount)
		return
	}
	l.balances[key] = new(big.Int).Set(amount)
}

func (l *TokenLedger) debit(owner, asset string, amount *big.Int) error {
	key := balanceKey{owner, asset}
	b, ok := l.balances[key]
	if !ok || b.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds too little %s", ErrInsufficientBalance, owner, asset)
	}
	b.Sub(b, amount)
	return nil
}
