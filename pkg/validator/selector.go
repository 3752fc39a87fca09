package validator

import (
	"math/rand/v2"

	"recnet/pkg/ledger"
)

// SampleSizeCap bounds how many miners a single dispatch may target,
// whatever the configured sample size asks for.
const SampleSizeCap = 10

// Selector draws a bounded, randomized set of dispatch targets from the
// membership. Reproducibility across runs is deliberately not a goal.
type Selector struct {
	// MinStake excludes members below this stake from dispatch.
	MinStake float64
	// SelfKey is the validator's own identity key, never a dispatch target.
	SelfKey string
}

// available reports whether a member can serve a dispatch: it must expose a
// serving address, carry enough stake, not be a validator, and not be us.
func (s *Selector) available(m ledger.Member) bool {
	return m.Addr != "" && m.Stake >= s.MinStake && !m.ValidatorPermit && m.Key != s.SelfKey
}

// Select filters the membership by availability and returns a uniform random
// sample of size clamp(1, SampleSizeCap, min(k, available)) without
// replacement. It returns nil when no member is available; the caller skips
// the round.
func (s *Selector) Select(snap *ledger.Snapshot, k int) []ledger.Member {
	if snap == nil {
		return nil
	}
	avail := make([]ledger.Member, 0, snap.Size())
	for _, m := range snap.Members {
		if s.available(m) {
			avail = append(avail, m)
		}
	}
	if len(avail) == 0 {
		return nil
	}

	if k > len(avail) {
		k = len(avail)
	}
	n := clamp(1, SampleSizeCap, k)

	rand.Shuffle(len(avail), func(i, j int) {
		avail[i], avail[j] = avail[j], avail[i]
	})
	return avail[:n]
}

// clamp returns x bounded to [lo, hi].
func clamp(lo, hi, x int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
