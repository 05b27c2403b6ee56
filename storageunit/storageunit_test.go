package storageunit

import (
	"testing"

	"github.com/ledgermesh/blockcoord/db"
	"github.com/ledgermesh/blockcoord/types"
)

func newTestStorageUnit(t *testing.T) *StorageUnit {
	provider, err := db.NewMemoryLevelDBProvider()
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	su, err := New(provider, types.GenesisMerkleRoot)
	if err != nil {
		t.Fatalf("new storage unit: %v", err)
	}
	return su
}

func TestGenesisVersionExists(t *testing.T) {
	su := newTestStorageUnit(t)
	if !su.HashExists(types.GenesisMerkleRoot, 0) {
		t.Fatalf("expected genesis version to exist")
	}
	if su.CurrentHash() != types.GenesisMerkleRoot {
		t.Fatalf("expected current hash to start at genesis root")
	}
}

func TestCommitAdvancesVersion(t *testing.T) {
	su := newTestStorageUnit(t)
	su.Put([]byte("k1"), []byte("v1"))
	afterPut := su.CurrentHash()
	if afterPut == types.GenesisMerkleRoot {
		t.Fatalf("expected put to change current hash")
	}

	if err := su.Commit(1); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if su.LastCommitHash() != afterPut {
		t.Fatalf("expected last commit hash to equal current hash after commit")
	}
	if !su.HashExists(afterPut, 1) {
		t.Fatalf("expected committed version to exist")
	}
}

func TestRevertToHashRestoresState(t *testing.T) {
	su := newTestStorageUnit(t)
	su.Put([]byte("k1"), []byte("v1"))
	su.Commit(1)
	v1Hash := su.CurrentHash()

	su.Put([]byte("k2"), []byte("v2"))
	su.Commit(2)

	if ok := su.RevertToHash(v1Hash, 1); !ok {
		t.Fatalf("expected revert to succeed")
	}
	if su.CurrentHash() != v1Hash {
		t.Fatalf("expected current hash to match reverted version")
	}
	if _, ok := su.Get([]byte("k2")); ok {
		t.Fatalf("expected k2 to be gone after revert")
	}
	if v, ok := su.Get([]byte("k1")); !ok || string(v) != "v1" {
		t.Fatalf("expected k1 to survive revert")
	}
}

func TestRevertToUnknownHashFails(t *testing.T) {
	su := newTestStorageUnit(t)
	if ok := su.RevertToHash(types.Digest{0xff}, 99); ok {
		t.Fatalf("expected revert to unknown version to fail")
	}
}

func TestHasTransaction(t *testing.T) {
	su := newTestStorageUnit(t)
	digest := types.Digest{0x01}
	if su.HasTransaction(digest) {
		t.Fatalf("expected transaction to be unknown before recording")
	}
	if err := su.RecordTransaction(digest); err != nil {
		t.Fatalf("record transaction: %v", err)
	}
	if !su.HasTransaction(digest) {
		t.Fatalf("expected transaction to be known after recording")
	}
}
