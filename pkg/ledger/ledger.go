// Package ledger defines the consensus-ledger seam of the validator: the
// membership roster of miners and the weight-emission contract. The dispatch
// loop only ever talks to the Ledger interface; FileLedger is the local,
// roster-file-backed implementation used for development and tests.
package ledger

import (
	"context"
	"time"
)

// Member is one worker (miner) record in the membership snapshot. UID is the
// member's ordinal slot in the snapshot; it stays stable across a sync unless
// membership changes.
type Member struct {
	UID             int     `yaml:"-" json:"uid"`
	Key             string  `yaml:"key" json:"key"`   // identity key (hotkey)
	Addr            string  `yaml:"addr" json:"addr"` // miner serving address, host:port
	Stake           float64 `yaml:"stake" json:"stake"`
	ValidatorPermit bool    `yaml:"validator_permit" json:"validator_permit"`
}

// Snapshot is the authoritative ordered membership at one sync. It is
// replaced wholesale on each resync and never mutated in place.
type Snapshot struct {
	Members  []Member  `json:"members"`
	SyncedAt time.Time `json:"synced_at"`
}

// Size returns the number of members.
func (s *Snapshot) Size() int {
	if s == nil {
		return 0
	}
	return len(s.Members)
}

// Keys returns the identity keys in slot order.
func (s *Snapshot) Keys() []string {
	keys := make([]string, len(s.Members))
	for i, m := range s.Members {
		keys[i] = m.Key
	}
	return keys
}

// Lookup returns the member occupying the given slot.
func (s *Snapshot) Lookup(uid int) (Member, bool) {
	if uid < 0 || uid >= len(s.Members) {
		return Member{}, false
	}
	return s.Members[uid], true
}

// HasKey reports whether any member carries the given identity key.
func (s *Snapshot) HasKey(key string) bool {
	for _, m := range s.Members {
		if m.Key == key {
			return true
		}
	}
	return false
}

// Ledger is the external consensus layer. SyncMembership refreshes the
// roster; ShapeWeights and Quantize apply the ledger-specific transforms to
// raw normalized weights; SubmitWeights records the final emission.
//
// SubmitWeights returns (ok, message) rather than an error: a rejected
// emission is an expected outcome the validator logs and moves past.
type Ledger interface {
	SyncMembership(ctx context.Context) (*Snapshot, error)
	ShapeWeights(uids []int, weights []float64) ([]int, []float64, error)
	Quantize(uids []int, weights []float64) ([]int, []uint16, error)
	SubmitWeights(ctx context.Context, uids []int, weights []uint16) (bool, string)
}
