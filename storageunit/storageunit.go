// Package storageunit implements the Storage Unit: the versioned
// key/value state store the Block Coordinator reconciles against. State
// is keyed by an opaque byte key; every write advances a running state
// hash, and that hash together with a block number is the version the
// coordinator reverts to and commits at.
package storageunit

import (
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/ledgermesh/blockcoord/db"
	"github.com/ledgermesh/blockcoord/jsonx"
	"github.com/ledgermesh/blockcoord/logx"
	"github.com/ledgermesh/blockcoord/types"
)

const (
	versionPrefix = "storageunit/version/"
	txPrefix      = "storageunit/tx/"
)

// snapshot is the persisted form of a version: the full working state
// at the moment it was committed, so RevertToHash can restore it later.
type snapshot struct {
	State map[string][]byte `json:"state"`
}

// StorageUnit is the Storage Unit collaborator (spec §6).
type StorageUnit struct {
	provider db.DatabaseProvider

	mu             sync.RWMutex
	state          map[string][]byte
	currentHash    types.Digest
	lastCommitHash types.Digest
}

// New creates a StorageUnit seeded at genesisRoot, block number 0. The
// genesis version always exists so RELOAD_STATE and SYNCHRONIZING can
// revert back to it without a prior commit.
func New(provider db.DatabaseProvider, genesisRoot types.Digest) (*StorageUnit, error) {
	su := &StorageUnit{
		provider:       provider,
		state:          make(map[string][]byte),
		currentHash:    genesisRoot,
		lastCommitHash: genesisRoot,
	}
	if err := su.persistVersionLocked(genesisRoot, 0); err != nil {
		return nil, fmt.Errorf("storageunit: seed genesis version: %w", err)
	}
	return su, nil
}

func versionKey(hash types.Digest, blockNumber uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%d", versionPrefix, hash, blockNumber))
}

func txKey(digest types.Digest) []byte {
	return append([]byte(txPrefix), digest[:]...)
}

// CurrentHash returns the digest of the state as mutated so far, not
// necessarily committed.
func (su *StorageUnit) CurrentHash() types.Digest {
	su.mu.RLock()
	defer su.mu.RUnlock()
	return su.currentHash
}

// LastCommitHash returns the digest of the most recently committed
// version.
func (su *StorageUnit) LastCommitHash() types.Digest {
	su.mu.RLock()
	defer su.mu.RUnlock()
	return su.lastCommitHash
}

// Put writes a key/value pair into the working state and folds it into
// the running current hash. Execution Manager workers call this while
// applying a slice's transactions.
func (su *StorageUnit) Put(key, value []byte) {
	su.mu.Lock()
	defer su.mu.Unlock()
	su.state[string(key)] = value
	su.currentHash = mixDigest(su.currentHash, key, value)
}

// Get reads a key from the working state.
func (su *StorageUnit) Get(key []byte) ([]byte, bool) {
	su.mu.RLock()
	defer su.mu.RUnlock()
	v, ok := su.state[string(key)]
	return v, ok
}

// HashExists reports whether a version has ever been committed at
// (hash, blockNumber).
func (su *StorageUnit) HashExists(hash types.Digest, blockNumber uint64) bool {
	ok, err := su.provider.Has(versionKey(hash, blockNumber))
	if err != nil {
		logx.Error("STORAGEUNIT", "hash_exists lookup failed:", err)
		return false
	}
	return ok
}

// Commit installs the current working state as a new version at
// blockNumber (spec §6: "Commit installs the current hash as a new
// version at the given block number").
func (su *StorageUnit) Commit(blockNumber uint64) error {
	su.mu.Lock()
	defer su.mu.Unlock()

	if err := su.persistVersionLocked(su.currentHash, blockNumber); err != nil {
		return fmt.Errorf("storageunit: commit: %w", err)
	}
	su.lastCommitHash = su.currentHash
	logx.Info("STORAGEUNIT", "committed version", su.currentHash, "at block", blockNumber)
	return nil
}

// RevertToHash restores the working state to the version committed at
// (hash, blockNumber), and fails if no version was committed there.
// Reverting to the same version twice has the same effect as reverting
// once, satisfying idempotent revert (spec P5).
func (su *StorageUnit) RevertToHash(hash types.Digest, blockNumber uint64) bool {
	su.mu.Lock()
	defer su.mu.Unlock()

	data, err := su.provider.Get(versionKey(hash, blockNumber))
	if err != nil || data == nil {
		return false
	}
	var snap snapshot
	if err := jsonx.Unmarshal(data, &snap); err != nil {
		logx.Error("STORAGEUNIT", "failed to unmarshal version snapshot:", err)
		return false
	}

	su.state = snap.State
	if su.state == nil {
		su.state = make(map[string][]byte)
	}
	su.currentHash = hash
	su.lastCommitHash = hash
	return true
}

// RecordTransaction marks a transaction digest as locally available,
// consulted by WAIT_FOR_TRANSACTIONS via HasTransaction.
func (su *StorageUnit) RecordTransaction(digest types.Digest) error {
	return su.provider.Put(txKey(digest), []byte{1})
}

// HasTransaction reports whether a transaction digest is locally
// available (spec §6: has_transaction).
func (su *StorageUnit) HasTransaction(digest types.Digest) bool {
	ok, err := su.provider.Has(txKey(digest))
	if err != nil {
		logx.Error("STORAGEUNIT", "has_transaction lookup failed:", err)
		return false
	}
	return ok
}

func (su *StorageUnit) persistVersionLocked(hash types.Digest, blockNumber uint64) error {
	snap := snapshot{State: su.state}
	data, err := jsonx.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return su.provider.Put(versionKey(hash, blockNumber), data)
}

// mixDigest folds a key/value write into a running state digest. This
// is a deliberately simple accumulator, not a Merkle tree: the spec
// treats the state hash as an opaque collaborator output, so any
// deterministic, order-sensitive mixing function satisfies it.
func mixDigest(prev types.Digest, key, value []byte) types.Digest {
	h := sha256.New()
	h.Write(prev[:])
	h.Write(key)
	h.Write(value)
	var out types.Digest
	copy(out[:], h.Sum(nil))
	return out
}
