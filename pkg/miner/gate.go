package miner

import (
	"fmt"
	"sync"

	"recnet/pkg/ledger"
)

// Gate decides whether an incoming request's originator may be served.
// Requests from keys unknown to the membership, from callers without a
// validator permit, or from callers below the stake floor are rejected
// before any generation work happens.
type Gate struct {
	// MinStake is the stake floor for callers.
	MinStake float64
	// AllowUnregistered lets keys absent from the membership through; off
	// in production, useful on private test networks.
	AllowUnregistered bool

	mu   sync.RWMutex
	snap *ledger.Snapshot
}

// NewGate creates a Gate over the given membership snapshot.
func NewGate(minStake float64, allowUnregistered bool, snap *ledger.Snapshot) *Gate {
	return &Gate{MinStake: minStake, AllowUnregistered: allowUnregistered, snap: snap}
}

// UpdateMembership swaps in a fresh snapshot.
func (g *Gate) UpdateMembership(snap *ledger.Snapshot) {
	g.mu.Lock()
	g.snap = snap
	g.mu.Unlock()
}

// Check returns nil when the originator may be served, or an error naming
// the rejection reason.
func (g *Gate) Check(originator string) error {
	if originator == "" {
		return fmt.Errorf("request carries no originator key")
	}

	g.mu.RLock()
	snap := g.snap
	g.mu.RUnlock()

	var caller *ledger.Member
	if snap != nil {
		for i := range snap.Members {
			if snap.Members[i].Key == originator {
				caller = &snap.Members[i]
				break
			}
		}
	}

	if caller == nil {
		if g.AllowUnregistered {
			return nil
		}
		return fmt.Errorf("unrecognized originator key %s", originator)
	}
	if !caller.ValidatorPermit {
		return fmt.Errorf("originator %s holds no validator permit", originator)
	}
	if caller.Stake < g.MinStake {
		return fmt.Errorf("originator %s stake %.2f below floor %.2f", originator, caller.Stake, g.MinStake)
	}
	return nil
}
