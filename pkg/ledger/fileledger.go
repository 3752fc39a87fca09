package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// u16Max is the quantization ceiling: the largest shaped weight maps to it.
const u16Max = 65535

// FileLedgerConfig holds FileLedger tuning knobs.
type FileLedgerConfig struct {
	RosterPath     string  // YAML roster file
	MinWeight      float64 // shaped weights below this are dropped (default 1e-4)
	MaxWeightRatio float64 // cap on any single weight after normalization (default 0.5)
}

func (c *FileLedgerConfig) withDefaults() FileLedgerConfig {
	out := *c
	if out.MinWeight == 0 {
		out.MinWeight = 1e-4
	}
	if out.MaxWeightRatio == 0 {
		out.MaxWeightRatio = 0.5
	}
	return out
}

// rosterFile is the on-disk YAML structure.
type rosterFile struct {
	Members []Member `yaml:"members"`
}

// Emission is one recorded SubmitWeights call.
type Emission struct {
	UIDs        []int
	Weights     []uint16
	SubmittedAt time.Time
}

// FileLedger is a Ledger backed by a YAML roster file. It stands in for the
// real consensus layer: membership comes from the file (hot-reloaded when the
// file changes), and weight submissions are kept in memory for inspection.
type FileLedger struct {
	cfg FileLedgerConfig
	log *zap.Logger

	mu       sync.Mutex
	snapshot *Snapshot
	history  []Emission

	nowFunc func() time.Time
}

// NewFileLedger creates a FileLedger and loads the roster once. The file must
// exist and parse; a validator without membership cannot run.
func NewFileLedger(cfg FileLedgerConfig, log *zap.Logger) (*FileLedger, error) {
	if log == nil {
		log = zap.NewNop()
	}
	l := &FileLedger{cfg: cfg.withDefaults(), log: log, nowFunc: time.Now}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// reload reads the roster file and replaces the cached snapshot wholesale.
func (l *FileLedger) reload() error {
	data, err := os.ReadFile(l.cfg.RosterPath)
	if err != nil {
		return fmt.Errorf("read roster %s: %w", l.cfg.RosterPath, err)
	}
	var rf rosterFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return fmt.Errorf("parse roster %s: %w", l.cfg.RosterPath, err)
	}
	for i := range rf.Members {
		rf.Members[i].UID = i
	}
	snap := &Snapshot{Members: rf.Members, SyncedAt: l.nowFunc()}

	l.mu.Lock()
	l.snapshot = snap
	l.mu.Unlock()

	l.log.Info("roster loaded", zap.String("path", l.cfg.RosterPath), zap.Int("members", len(rf.Members)))
	return nil
}

// Watch reloads the roster whenever the file changes, until ctx is
// cancelled. A failed reload keeps the previous snapshot. If the watcher
// cannot be created the ledger keeps serving the last loaded roster.
func (l *FileLedger) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		l.log.Warn("roster watch unavailable", zap.Error(err))
		return
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(l.cfg.RosterPath); err != nil {
		l.log.Warn("roster watch unavailable", zap.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-watcher.Events:
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := l.reload(); err != nil {
				l.log.Error("roster reload failed, keeping previous snapshot", zap.Error(err))
			}
		case err := <-watcher.Errors:
			if err != nil {
				l.log.Warn("roster watcher error", zap.Error(err))
			}
		}
	}
}

// SyncMembership returns the current roster snapshot.
func (l *FileLedger) SyncMembership(_ context.Context) (*Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.snapshot == nil {
		return nil, errors.New("roster not loaded")
	}
	return l.snapshot, nil
}

// ShapeWeights applies the ledger's emission constraints to raw normalized
// weights: non-positive and sub-floor weights are dropped, any single weight
// is capped at MaxWeightRatio, and the survivors are renormalized to sum 1.
func (l *FileLedger) ShapeWeights(uids []int, weights []float64) ([]int, []float64, error) {
	if len(uids) != len(weights) {
		return nil, nil, fmt.Errorf("shape weights: %d uids for %d weights", len(uids), len(weights))
	}

	outUIDs := make([]int, 0, len(uids))
	outW := make([]float64, 0, len(weights))
	for i, w := range weights {
		if !isFinite(w) || w < l.cfg.MinWeight {
			continue
		}
		outUIDs = append(outUIDs, uids[i])
		outW = append(outW, w)
	}
	if len(outW) == 0 {
		return nil, nil, errors.New("shape weights: no weight above the emission floor")
	}

	normalize(outW)
	capped := false
	for i := range outW {
		if outW[i] > l.cfg.MaxWeightRatio {
			outW[i] = l.cfg.MaxWeightRatio
			capped = true
		}
	}
	if capped {
		normalize(outW)
	}
	return outUIDs, outW, nil
}

// Quantize converts shaped weights into the ledger's integer wire format:
// each weight is scaled so the maximum maps to u16Max, and zero-rounding
// entries are dropped.
func (l *FileLedger) Quantize(uids []int, weights []float64) ([]int, []uint16, error) {
	if len(uids) != len(weights) {
		return nil, nil, fmt.Errorf("quantize: %d uids for %d weights", len(uids), len(weights))
	}
	maxW := 0.0
	for _, w := range weights {
		if w > maxW {
			maxW = w
		}
	}
	if maxW <= 0 || !isFinite(maxW) {
		return nil, nil, errors.New("quantize: no positive weight")
	}

	outUIDs := make([]int, 0, len(uids))
	outW := make([]uint16, 0, len(weights))
	for i, w := range weights {
		q := uint16(math.Round(w / maxW * u16Max))
		if q == 0 {
			continue
		}
		outUIDs = append(outUIDs, uids[i])
		outW = append(outW, q)
	}
	return outUIDs, outW, nil
}

// SubmitWeights records the emission. The FileLedger accepts every
// well-formed submission; a mismatched pair is rejected the way a real
// ledger would reject a malformed transaction.
func (l *FileLedger) SubmitWeights(_ context.Context, uids []int, weights []uint16) (bool, string) {
	if len(uids) != len(weights) {
		return false, fmt.Sprintf("submit rejected: %d uids for %d weights", len(uids), len(weights))
	}
	if len(uids) == 0 {
		return false, "submit rejected: empty emission"
	}

	em := Emission{
		UIDs:        append([]int(nil), uids...),
		Weights:     append([]uint16(nil), weights...),
		SubmittedAt: l.nowFunc(),
	}
	l.mu.Lock()
	l.history = append(l.history, em)
	l.mu.Unlock()

	l.log.Info("weights submitted", zap.Int("members", len(uids)))
	return true, fmt.Sprintf("recorded emission for %d members", len(uids))
}

// Emissions returns a copy of the recorded submission history.
func (l *FileLedger) Emissions() []Emission {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Emission(nil), l.history...)
}

// normalize scales weights in place to sum 1.
func normalize(w []float64) {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	if sum == 0 {
		return
	}
	for i := range w {
		w[i] /= sum
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
