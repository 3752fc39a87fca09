package reputation

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"recnet/pkg/ledger"
	"recnet/pkg/protocol"
)

func snapshotOf(keys ...string) *ledger.Snapshot {
	members := make([]ledger.Member, len(keys))
	for i, k := range keys {
		members[i] = ledger.Member{UID: i, Key: k, Addr: "127.0.0.1:0", Stake: 10}
	}
	return &ledger.Snapshot{Members: members, SyncedAt: time.Now()}
}

func newTestEngine(alpha float64, n int) *Engine {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = string(rune('a' + i))
	}
	return New(Config{Alpha: alpha}, snapshotOf(keys...), nil)
}

// --- Update ---

func TestUpdateEMA(t *testing.T) {
	t.Parallel()

	e := newTestEngine(0.2, 4)
	if err := e.Update(protocol.RewardBatch{UIDs: []int{1}, Rewards: []float64{1.0}}); err != nil {
		t.Fatalf("update: %v", err)
	}

	scores := e.Snapshot()
	if got := scores[1]; math.Abs(got-0.2) > 1e-12 {
		t.Errorf("score[1] = %v, want 0.2", got)
	}
	for _, i := range []int{0, 2, 3} {
		if scores[i] != 0 {
			t.Errorf("score[%d] = %v, want 0", i, scores[i])
		}
	}

	// Second round decays the slot not rewarded this time.
	if err := e.Update(protocol.RewardBatch{UIDs: []int{2}, Rewards: []float64{0.5}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	scores = e.Snapshot()
	if got := scores[1]; math.Abs(got-0.16) > 1e-12 {
		t.Errorf("score[1] after decay = %v, want 0.16", got)
	}
	if got := scores[2]; math.Abs(got-0.1) > 1e-12 {
		t.Errorf("score[2] = %v, want 0.1", got)
	}
}

func TestUpdateKeepsLengthAndFiniteness(t *testing.T) {
	t.Parallel()

	e := newTestEngine(0.3, 5)
	batch := protocol.RewardBatch{
		UIDs:    []int{0, 2, 4},
		Rewards: []float64{math.NaN(), math.Inf(1), 0.7},
	}
	if err := e.Update(batch); err != nil {
		t.Fatalf("update: %v", err)
	}

	scores := e.Snapshot()
	if len(scores) != 5 {
		t.Fatalf("score length = %d, want 5", len(scores))
	}
	for i, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 {
			t.Errorf("score[%d] = %v, want finite and non-negative", i, s)
		}
	}
	if scores[0] != 0 || scores[2] != 0 {
		t.Error("non-finite rewards must be sanitized to 0")
	}
}

func TestUpdateEmptyBatchNoOp(t *testing.T) {
	t.Parallel()

	e := newTestEngine(0.2, 3)
	_ = e.Update(protocol.RewardBatch{UIDs: []int{0}, Rewards: []float64{1}})
	before := e.Snapshot()

	if err := e.Update(protocol.RewardBatch{}); err != nil {
		t.Fatalf("empty batch must be a no-op, got %v", err)
	}
	after := e.Snapshot()
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("score[%d] changed by empty batch: %v -> %v", i, before[i], after[i])
		}
	}
}

func TestUpdateRejectsInvalidBatches(t *testing.T) {
	t.Parallel()

	e := newTestEngine(0.2, 3)

	var shapeErr *protocol.RewardShapeError
	err := e.Update(protocol.RewardBatch{UIDs: []int{0, 1}, Rewards: []float64{1}})
	if !errors.As(err, &shapeErr) {
		t.Errorf("shape mismatch returned %v, want RewardShapeError", err)
	}

	var dupErr *protocol.DuplicateUIDError
	err = e.Update(protocol.RewardBatch{UIDs: []int{1, 1}, Rewards: []float64{0.1, 0.9}})
	if !errors.As(err, &dupErr) {
		t.Errorf("duplicate uid returned %v, want DuplicateUIDError", err)
	}

	var rangeErr *protocol.UIDRangeError
	err = e.Update(protocol.RewardBatch{UIDs: []int{7}, Rewards: []float64{0.5}})
	if !errors.As(err, &rangeErr) {
		t.Errorf("out-of-range uid returned %v, want UIDRangeError", err)
	}

	// State must be untouched after rejected batches.
	for i, s := range e.Snapshot() {
		if s != 0 {
			t.Errorf("score[%d] = %v after rejected batches, want 0", i, s)
		}
	}
}

// --- Emit ---

// recordingLedger implements ledger.Ledger with injectable failures.
type recordingLedger struct {
	shapeErr    error
	quantizeErr error
	submitOK    bool
	submitted   [][]uint16
	calls       int
}

func (r *recordingLedger) SyncMembership(context.Context) (*ledger.Snapshot, error) {
	return nil, errors.New("not used")
}

func (r *recordingLedger) ShapeWeights(uids []int, w []float64) ([]int, []float64, error) {
	if r.shapeErr != nil {
		return nil, nil, r.shapeErr
	}
	return uids, w, nil
}

func (r *recordingLedger) Quantize(uids []int, w []float64) ([]int, []uint16, error) {
	if r.quantizeErr != nil {
		return nil, nil, r.quantizeErr
	}
	out := make([]uint16, len(w))
	maxW := 0.0
	for _, v := range w {
		maxW = math.Max(maxW, v)
	}
	for i, v := range w {
		out[i] = uint16(math.Round(v / maxW * 65535))
	}
	return uids, out, nil
}

func (r *recordingLedger) SubmitWeights(_ context.Context, uids []int, w []uint16) (bool, string) {
	r.calls++
	if !r.submitOK {
		return false, "ledger rejected"
	}
	r.submitted = append(r.submitted, w)
	return true, "ok"
}

func TestEmitSkipsAllZeroScores(t *testing.T) {
	t.Parallel()

	e := newTestEngine(0.2, 4)
	led := &recordingLedger{submitOK: true}

	out := e.Emit(context.Background(), led)
	if !out.Skipped {
		t.Error("all-zero scores must skip emission")
	}
	if led.calls != 0 {
		t.Errorf("ledger called %d times for all-zero scores, want 0", led.calls)
	}
}

func TestEmitNormalizesToUnitSum(t *testing.T) {
	t.Parallel()

	e := newTestEngine(1.0, 3)
	_ = e.Update(protocol.RewardBatch{UIDs: []int{0, 1, 2}, Rewards: []float64{0.2, 0.3, 0.5}})

	var gotRaw []float64
	led := &captureShapeLedger{}
	out := e.Emit(context.Background(), led)
	gotRaw = led.raw

	if !out.Submitted {
		t.Fatalf("emit not submitted: %s", out.Message)
	}
	sum := 0.0
	for _, w := range gotRaw {
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("raw weights sum = %v, want 1", sum)
	}
}

// captureShapeLedger records the raw weights handed to ShapeWeights.
type captureShapeLedger struct {
	raw []float64
}

func (c *captureShapeLedger) SyncMembership(context.Context) (*ledger.Snapshot, error) {
	return nil, errors.New("not used")
}

func (c *captureShapeLedger) ShapeWeights(uids []int, w []float64) ([]int, []float64, error) {
	c.raw = append([]float64(nil), w...)
	return uids, w, nil
}

func (c *captureShapeLedger) Quantize(uids []int, w []float64) ([]int, []uint16, error) {
	out := make([]uint16, len(w))
	for i := range w {
		out[i] = uint16(i + 1)
	}
	return uids, out, nil
}

func (c *captureShapeLedger) SubmitWeights(context.Context, []int, []uint16) (bool, string) {
	return true, "ok"
}

func TestEmitAbandonsCycleOnTransformFailure(t *testing.T) {
	t.Parallel()

	e := newTestEngine(1.0, 2)
	_ = e.Update(protocol.RewardBatch{UIDs: []int{0}, Rewards: []float64{1}})
	before := e.Snapshot()

	led := &recordingLedger{shapeErr: errors.New("shaping exploded"), submitOK: true}
	out := e.Emit(context.Background(), led)
	if out.Submitted || out.Skipped {
		t.Errorf("failed shaping must abandon the cycle, got %+v", out)
	}
	if led.calls != 0 {
		t.Error("submit must not be reached after a shaping failure")
	}

	// Scores preserved for the next cycle.
	after := e.Snapshot()
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("score[%d] changed by failed emission: %v -> %v", i, before[i], after[i])
		}
	}
}

func TestEmitSubmissionFailureNotFatal(t *testing.T) {
	t.Parallel()

	e := newTestEngine(1.0, 2)
	_ = e.Update(protocol.RewardBatch{UIDs: []int{1}, Rewards: []float64{0.8}})

	led := &recordingLedger{submitOK: false}
	out := e.Emit(context.Background(), led)
	if out.Submitted {
		t.Error("rejected submission must be reported as not submitted")
	}
	if out.Message != "ledger rejected" {
		t.Errorf("message = %q", out.Message)
	}
}

// --- Resync ---

func TestResyncUnchangedSnapshotIsNoOp(t *testing.T) {
	t.Parallel()

	snap := snapshotOf("k0", "k1", "k2", "k3")
	e := New(Config{Alpha: 0.5}, snap, nil)
	_ = e.Update(protocol.RewardBatch{UIDs: []int{2}, Rewards: []float64{1}})
	before := e.Snapshot()

	if changed := e.Resync(snap); changed {
		t.Error("unchanged snapshot must be a no-op")
	}
	after := e.Snapshot()
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("score[%d] mutated by no-op resync", i)
		}
	}
}

func TestResyncReplacedKeyResetsSlot(t *testing.T) {
	t.Parallel()

	e := New(Config{Alpha: 1.0}, snapshotOf("k0", "k1", "k2", "k3"), nil)
	_ = e.Update(protocol.RewardBatch{UIDs: []int{1, 2}, Rewards: []float64{0.4, 0.9}})

	if changed := e.Resync(snapshotOf("k0", "k1", "k2-new", "k3")); !changed {
		t.Fatal("replaced key must report a change")
	}
	scores := e.Snapshot()
	if scores[2] != 0 {
		t.Errorf("replaced slot score = %v, want 0", scores[2])
	}
	if scores[1] != 0.4 {
		t.Errorf("untouched slot score = %v, want 0.4", scores[1])
	}
}

func TestResyncGrowthExtendsWithZeros(t *testing.T) {
	t.Parallel()

	e := New(Config{Alpha: 1.0}, snapshotOf("k0", "k1", "k2", "k3"), nil)
	_ = e.Update(protocol.RewardBatch{UIDs: []int{0, 3}, Rewards: []float64{0.1, 0.6}})

	e.Resync(snapshotOf("k0", "k1", "k2", "k3", "k4", "k5"))
	scores := e.Snapshot()
	if len(scores) != 6 {
		t.Fatalf("score length = %d after growth, want 6", len(scores))
	}
	if scores[0] != 0.1 || scores[3] != 0.6 {
		t.Error("existing scores must survive growth at their original slots")
	}
	if scores[4] != 0 || scores[5] != 0 {
		t.Error("new slots must start at zero")
	}
}

func TestResyncShrinkTruncates(t *testing.T) {
	t.Parallel()

	e := New(Config{Alpha: 1.0}, snapshotOf("k0", "k1", "k2", "k3"), nil)
	_ = e.Update(protocol.RewardBatch{UIDs: []int{1, 3}, Rewards: []float64{0.5, 0.7}})

	e.Resync(snapshotOf("k0", "k1"))
	scores := e.Snapshot()
	if len(scores) != 2 {
		t.Fatalf("score length = %d after shrink, want 2", len(scores))
	}
	if scores[1] != 0.5 {
		t.Errorf("surviving slot score = %v, want 0.5", scores[1])
	}
}
