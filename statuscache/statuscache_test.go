package statuscache

import (
	"testing"
	"time"

	"github.com/ledgermesh/blockcoord/db"
	"github.com/ledgermesh/blockcoord/types"
)

func newTestCache(t *testing.T) *Cache {
	provider, err := db.NewMemoryLevelDBProvider()
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return New(provider)
}

func TestUpdateAndGet(t *testing.T) {
	c := newTestCache(t)
	tx := types.Digest{0x01}

	if _, ok := c.Get(tx); ok {
		t.Fatalf("expected no status before update")
	}
	if err := c.Update(tx, StatusExecuted); err != nil {
		t.Fatalf("update: %v", err)
	}
	status, ok := c.Get(tx)
	if !ok || status != StatusExecuted {
		t.Fatalf("expected EXECUTED, got %q ok=%v", status, ok)
	}
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	c := newTestCache(t)
	id, ch := c.Subscribe()
	defer c.Unsubscribe(id)

	tx := types.Digest{0x02}
	if err := c.Update(tx, StatusExecuted); err != nil {
		t.Fatalf("update: %v", err)
	}

	select {
	case update := <-ch:
		if update.TxHash != tx || update.Status != StatusExecuted {
			t.Fatalf("unexpected update: %+v", update)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for update")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	c := newTestCache(t)
	id, ch := c.Subscribe()
	if ok := c.Unsubscribe(id); !ok {
		t.Fatalf("expected unsubscribe to succeed")
	}
	if ok := c.Unsubscribe(id); ok {
		t.Fatalf("expected second unsubscribe to report false")
	}

	select {
	case _, open := <-ch:
		if open {
			t.Fatalf("expected channel to be closed after unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for channel close")
	}
}

func TestUpdateBatch(t *testing.T) {
	c := newTestCache(t)
	hashes := []types.Digest{{0x01}, {0x02}, {0x03}}
	if err := c.UpdateBatch(hashes, StatusExecuted); err != nil {
		t.Fatalf("update batch: %v", err)
	}
	for _, h := range hashes {
		status, ok := c.Get(h)
		if !ok || status != StatusExecuted {
			t.Fatalf("expected %s EXECUTED, got %q", h, status)
		}
	}
}
