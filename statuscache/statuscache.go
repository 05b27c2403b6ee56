// Package statuscache implements the Transaction Status Cache:
// observational metadata, not authoritative (spec §1). It is grounded
// on the events/tx-meta-store split in the teacher repo: a persisted
// status map plus a fan-out event bus for observers.
package statuscache

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ledgermesh/blockcoord/db"
	"github.com/ledgermesh/blockcoord/jsonx"
	"github.com/ledgermesh/blockcoord/logx"
	"github.com/ledgermesh/blockcoord/types"
)

// Status is a transaction's observed lifecycle state. EXECUTED is the
// only status the coordinator itself writes (spec §6); the others are
// carried over from the richer status vocabulary a full node tracks.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusExecuted Status = "EXECUTED"
	StatusFailed   Status = "FAILED"
	StatusDropped  Status = "DROPPED"
)

const statusKeyPrefix = "statuscache/status/"

// Update is an observation delivered to subscribers on every status
// change.
type Update struct {
	TxHash types.Digest
	Status Status
}

// SubscriberID identifies a status-cache subscription.
type SubscriberID string

type subscriber struct {
	id SubscriberID
	ch chan Update
}

// Cache is the Transaction Status Cache collaborator (spec §6).
type Cache struct {
	provider db.DatabaseProvider

	mu          sync.RWMutex
	subscribers map[SubscriberID]*subscriber
}

// New creates a Cache backed by provider for durable status records.
func New(provider db.DatabaseProvider) *Cache {
	return &Cache{
		provider:    provider,
		subscribers: make(map[SubscriberID]*subscriber),
	}
}

func statusKey(hash types.Digest) []byte {
	return append([]byte(statusKeyPrefix), hash[:]...)
}

// Update records a transaction's new status and notifies subscribers
// (spec §6: "update(tx_digest, status)").
func (c *Cache) Update(txHash types.Digest, status Status) error {
	data, err := jsonx.Marshal(status)
	if err != nil {
		return fmt.Errorf("statuscache: marshal status: %w", err)
	}
	if err := c.provider.Put(statusKey(txHash), data); err != nil {
		return fmt.Errorf("statuscache: persist status: %w", err)
	}

	c.publish(Update{TxHash: txHash, Status: status})
	return nil
}

// UpdateBatch marks every digest in hashes with status in one pass,
// used by POST_EXEC_BLOCK_VALIDATION and TRANSMIT_BLOCK to mark a
// block's transactions EXECUTED.
func (c *Cache) UpdateBatch(hashes []types.Digest, status Status) error {
	for _, h := range hashes {
		if err := c.Update(h, status); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the last recorded status for a transaction, if any.
func (c *Cache) Get(txHash types.Digest) (Status, bool) {
	data, err := c.provider.Get(statusKey(txHash))
	if err != nil || data == nil {
		return "", false
	}
	var status Status
	if err := jsonx.Unmarshal(data, &status); err != nil {
		logx.Error("STATUSCACHE", "failed to unmarshal status for", txHash, "error:", err)
		return "", false
	}
	return status, true
}

// Subscribe registers a new observer and returns its ID and channel.
func (c *Cache) Subscribe() (SubscriberID, <-chan Update) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := SubscriberID(uuid.Must(uuid.NewV7()).String())
	sub := &subscriber{id: id, ch: make(chan Update, 64)}
	c.subscribers[id] = sub

	logx.Info("STATUSCACHE", "subscriber", id, "joined, total", len(c.subscribers))
	return id, sub.ch
}

// Unsubscribe removes a subscription by ID.
func (c *Cache) Unsubscribe(id SubscriberID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subscribers[id]
	if !ok {
		return false
	}
	delete(c.subscribers, id)
	close(sub.ch)
	logx.Info("STATUSCACHE", "subscriber", id, "left, total", len(c.subscribers))
	return true
}

func (c *Cache) publish(update Update) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for id, sub := range c.subscribers {
		select {
		case sub.ch <- update:
		default:
			logx.Warn("STATUSCACHE", "subscriber", id, "channel full, dropping update for", update.TxHash)
		}
	}
}
