// Package audit persists the engine's append-only event log and fans it
// out to external consumers.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"

	"github.com/openvault/custody/pkg/vault"
)

const keyPrefix = "event:"

// Trail consumes engine events, appends them to the database under
// sequenced keys, and optionally publishes them to NATS and any registered
// subscribers. The core never reads the trail back; it exists for external
// consumers.
type Trail struct {
	logger  log.Logger
	db      database.Database
	nc      *nats.Conn // nil when NATS is not configured
	subject string

	seq   uint64
	seqMu sync.Mutex

	subscribers []func(vault.Event)
	subMu       sync.RWMutex

	wg sync.WaitGroup
}

// New creates a trail over db. nc may be nil to disable NATS publishing.
func New(db database.Database, nc *nats.Conn, subject string, logger log.Logger) (*Trail, error) {
	if db == nil {
		return nil, fmt.Errorf("database required")
	}
	if logger == nil {
		logger = log.Root().New("module", "audit")
	}
	if subject == "" {
		subject = "custody.events"
	}
	t := &Trail{
		logger:  logger,
		db:      db,
		nc:      nc,
		subject: subject,
	}
	if err := t.restoreSequence(); err != nil {
		return nil, err
	}
	return t, nil
}

// restoreSequence finds the next sequence number after a restart.
func (t *Trail) restoreSequence() error {
	iter := t.db.NewIteratorWithPrefix([]byte(keyPrefix))
	if iter == nil {
		return nil
	}
	defer iter.Release()
	for iter.Next() {
		t.seq++
	}
	return iter.Error()
}

// Subscribe registers a callback invoked for every appended event.
func (t *Trail) Subscribe(fn func(vault.Event)) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	t.subscribers = append(t.subscribers, fn)
}

// Append durably records one event and fans it out.
func (t *Trail) Append(ev vault.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	t.seqMu.Lock()
	key := fmt.Sprintf("%s%016d", keyPrefix, t.seq)
	t.seq++
	t.seqMu.Unlock()

	if err := t.db.Put([]byte(key), value); err != nil {
		return fmt.Errorf("persist event: %w", err)
	}

	if t.nc != nil {
		subject := t.subject + "." + ev.Type
		if err := t.nc.Publish(subject, value); err != nil {
			t.logger.Warn("nats publish failed", "subject", subject, "error", err)
		}
	}

	t.subMu.RLock()
	subs := t.subscribers
	t.subMu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
	return nil
}

// Run consumes events from ch until it closes or ctx is done.
func (t *Trail) Run(ctx context.Context, ch <-chan vault.Event) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if err := t.Append(ev); err != nil {
					t.logger.Error("append failed", "type", ev.Type, "error", err)
				}
			}
		}
	}()
}

// Wait blocks until the consume loop exits.
func (t *Trail) Wait() {
	t.wg.Wait()
}

// Replay invokes fn for every persisted event in append order. fn returning
// false stops the replay.
func (t *Trail) Replay(fn func(vault.Event) bool) error {
	iter := t.db.NewIteratorWithPrefix([]byte(keyPrefix))
	if iter == nil {
		return nil
	}
	defer iter.Release()

	for iter.Next() {
		var ev vault.Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			t.logger.Warn("skipping undecodable event", "key", string(iter.Key()), "error", err)
			continue
		}
		if !fn(ev) {
			break
		}
	}
	return iter.Error()
}

// Len returns the number of appended events.
func (t *Trail) Len() uint64 {
	t.seqMu.Lock()
	defer t.seqMu.Unlock()
	return t.seq
}
