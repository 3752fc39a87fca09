// Package reputation owns the per-miner score vector: an exponential moving
// average over round rewards, normalized on a fixed cadence into emission
// weights for the consensus ledger.
//
// The dispatch loop is the only writer. Status readers (gateway, dashboard)
// get copies through Snapshot; the internal mutex exists solely for those
// cross-goroutine reads, never for write/write coordination.
package reputation

import (
	"context"
	"math"
	"sync"

	"go.uber.org/zap"

	"recnet/pkg/ledger"
	"recnet/pkg/protocol"
)

// Config holds the engine's tuning knobs.
type Config struct {
	// Alpha is the moving-average coefficient in (0,1]: the share of one
	// round's scattered rewards blended into the running scores.
	Alpha float64
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Alpha <= 0 || out.Alpha > 1 {
		out.Alpha = 0.1
	}
	return out
}

// Engine accumulates miner reputation and converts it into ledger weights.
type Engine struct {
	cfg Config
	log *zap.Logger

	mu     sync.Mutex
	scores []float64
	keys   []string // identity key occupying each slot at the last resync
}

// New creates an Engine sized to the given membership, with all scores zero.
func New(cfg Config, snap *ledger.Snapshot, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg.withDefaults(),
		log:    log,
		scores: make([]float64, snap.Size()),
		keys:   snap.Keys(),
	}
}

// Size returns the current score-vector length.
func (e *Engine) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.scores)
}

// Snapshot returns a copy of the current scores.
func (e *Engine) Snapshot() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]float64(nil), e.scores...)
}

// Update blends one round's rewards into the scores:
//
//	scores = alpha*scattered + (1-alpha)*scores
//
// where scattered is a zero vector with each reward placed at its uid slot.
// Non-finite rewards are sanitized to 0 and rewards are clamped to [0,1].
// An empty batch is a no-op. A shape mismatch, an out-of-range uid, or a
// duplicate uid rejects the whole batch without touching state.
func (e *Engine) Update(batch protocol.RewardBatch) error {
	if batch.Len() == 0 && len(batch.Rewards) == 0 {
		return nil
	}
	if len(batch.UIDs) != len(batch.Rewards) {
		return &protocol.RewardShapeError{Rewards: len(batch.Rewards), UIDs: len(batch.UIDs)}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[int]bool, len(batch.UIDs))
	for _, uid := range batch.UIDs {
		if uid < 0 || uid >= len(e.scores) {
			return &protocol.UIDRangeError{UID: uid, Size: len(e.scores)}
		}
		if seen[uid] {
			return &protocol.DuplicateUIDError{UID: uid}
		}
		seen[uid] = true
	}

	scattered := make([]float64, len(e.scores))
	for i, uid := range batch.UIDs {
		r := batch.Rewards[i]
		if math.IsNaN(r) || math.IsInf(r, 0) {
			e.log.Warn("non-finite reward sanitized to 0", zap.Int("uid", uid))
			r = 0
		}
		scattered[uid] = math.Min(math.Max(r, 0), 1)
	}

	alpha := e.cfg.Alpha
	for i := range e.scores {
		e.scores[i] = alpha*scattered[i] + (1-alpha)*e.scores[i]
	}
	return nil
}

// EmissionOutcome reports what one Emit cycle did.
type EmissionOutcome struct {
	Skipped   bool // scores were all zero; no ledger call made
	Submitted bool
	UIDs      []int
	Weights   []uint16
	Message   string
}

// Emit normalizes the scores into raw weights (L1), pushes them through the
// ledger's shaping and quantization transforms, and submits the result. A
// failure anywhere abandons the cycle: it is logged, scores are preserved
// untouched, and the next cadence retries from current state.
func (e *Engine) Emit(ctx context.Context, led ledger.Ledger) EmissionOutcome {
	e.mu.Lock()
	scores := append([]float64(nil), e.scores...)
	e.mu.Unlock()

	allZero := true
	for _, s := range scores {
		if s != 0 {
			allZero = false
			break
		}
	}
	if len(scores) == 0 || allZero {
		e.log.Info("scores all zero, skipping weight emission")
		return EmissionOutcome{Skipped: true, Message: "scores all zero"}
	}

	norm := 0.0
	for _, s := range scores {
		norm += math.Abs(s)
	}

	uids := make([]int, len(scores))
	raw := make([]float64, len(scores))
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		// Degenerate norm: fall back to a uniform unit vector.
		for i := range scores {
			uids[i] = i
			raw[i] = 1 / float64(len(scores))
		}
	} else {
		for i, s := range scores {
			uids[i] = i
			raw[i] = s / norm
		}
	}

	shapedUIDs, shaped, err := led.ShapeWeights(uids, raw)
	if err != nil {
		e.log.Error("weight shaping failed, emission abandoned", zap.Error(err))
		return EmissionOutcome{Message: err.Error()}
	}
	intUIDs, intW, err := led.Quantize(shapedUIDs, shaped)
	if err != nil {
		e.log.Error("weight quantization failed, emission abandoned", zap.Error(err))
		return EmissionOutcome{Message: err.Error()}
	}

	ok, msg := led.SubmitWeights(ctx, intUIDs, intW)
	if ok {
		e.log.Info("weights set on ledger", zap.Int("members", len(intUIDs)), zap.String("msg", msg))
	} else {
		e.log.Error("weight submission failed", zap.String("msg", msg))
	}
	return EmissionOutcome{Submitted: ok, UIDs: intUIDs, Weights: intW, Message: msg}
}

// Resync reconciles the scores with a fresh membership snapshot:
//
//   - unchanged identity ordering: no-op
//   - a slot whose identity key changed: score reset to zero (reputation does
//     not transfer to a new identity occupying an old slot)
//   - growth: scores extended with zeros, existing values kept at their slots
//   - shrinkage: scores truncated to the new size
//
// It returns true when the membership changed.
func (e *Engine) Resync(snap *ledger.Snapshot) bool {
	newKeys := snap.Keys()

	e.mu.Lock()
	defer e.mu.Unlock()

	if equalKeys(e.keys, newKeys) {
		return false
	}

	next := make([]float64, len(newKeys))
	for i := range newKeys {
		if i < len(e.keys) && i < len(e.scores) && e.keys[i] == newKeys[i] {
			next[i] = e.scores[i]
		}
	}
	e.log.Info("membership changed, scores reconciled",
		zap.Int("old_size", len(e.scores)), zap.Int("new_size", len(next)))
	e.scores = next
	e.keys = newKeys
	return true
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
