package vault

import "sync/atomic"

// callGuard is the exclusive-call guard every mutating operation holds for
// its whole duration. The ledger may re-invoke public operations while a
// call is in flight; a reentrant enter fails immediately instead of
// interleaving.
type callGuard struct {
	busy atomic.Bool
}

// enter acquires the guard. The caller must release it on every exit path.
func (g *callGuard) enter() error {
	if !g.busy.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

func (g *callGuard) exit() {
	g.busy.Store(false)
}

// rollback collects compensating actions for bookkeeping applied earlier in
// the same operation. If any later step fails the recorded actions run in
// reverse order, undoing every effect of the call as a unit.
type rollback struct {
	undos []func()
}

func (r *rollback) record(undo func()) {
	r.undos = append(r.undos, undo)
}

func (r *rollback) run() {
	for i := len(r.undos) - 1; i >= 0; i-- {
		r.undos[i]()
	}
}
