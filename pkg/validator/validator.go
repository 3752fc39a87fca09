// Package validator implements the dispatch-and-reputation loop: a single
// goroutine that services bridged requests (or issues synthetic self-test
// probes), fans them out to sampled miners, arbitrates the replies, feeds the
// outcome into the reputation engine, and on its own cadences resyncs
// membership and emits weights to the ledger.
//
// The loop owns the membership snapshot and drives all engine mutation; the
// only cross-goroutine surfaces are the request bridge and the read-only
// Status accessor.
package validator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"recnet/pkg/bridge"
	"recnet/pkg/ledger"
	"recnet/pkg/protocol"
	"recnet/pkg/reputation"
	"recnet/pkg/transport"
)

// State represents the loop's operational state.
type State string

// Loop state constants.
const (
	StateIdle     State = "idle"     // created, Run not called yet
	StateRunning  State = "running"  // iterating
	StateStopping State = "stopping" // stop signal seen, draining
	StateStopped  State = "stopped"  // Run returned
)

// Config holds the loop's tuning knobs.
type Config struct {
	SampleSize      int           // requested dispatch fan-out, clamped by the selector (default 8)
	PollTimeout     time.Duration // bridge poll per iteration (default 5s)
	DispatchTimeout time.Duration // transport round-trip budget (default 10s)
	SyncInterval    time.Duration // membership resync cadence (default 1m)
	EmitInterval    time.Duration // weight emission cadence (default 5m)
	IdleSleep       time.Duration // pause after a synthetic round (default 10s)
	ErrorBackoff    time.Duration // pause after a failed iteration (default 1m)
	APIEnabled      bool          // service bridged requests
	APIExclusive    bool          // skip synthetic rounds entirely
	MinStake        float64       // selector availability floor
	SelfKey         string        // this validator's identity key
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.SampleSize == 0 {
		out.SampleSize = 8
	}
	if out.PollTimeout == 0 {
		out.PollTimeout = 5 * time.Second
	}
	if out.DispatchTimeout == 0 {
		out.DispatchTimeout = 10 * time.Second
	}
	if out.SyncInterval == 0 {
		out.SyncInterval = time.Minute
	}
	if out.EmitInterval == 0 {
		out.EmitInterval = 5 * time.Minute
	}
	if out.IdleSleep == 0 {
		out.IdleSleep = 10 * time.Second
	}
	if out.ErrorBackoff == 0 {
		out.ErrorBackoff = time.Minute
	}
	return out
}

// Validator is the dispatch loop and its collaborators.
type Validator struct {
	cfg      Config
	bridge   *bridge.Bridge
	led      ledger.Ledger
	engine   *reputation.Engine
	querier  transport.Querier
	arbiter  Arbiter
	scorer   Scorer
	selector *Selector
	db       *sql.DB // event log; nil disables auditing
	log      *zap.Logger

	mu           sync.Mutex
	state        State
	step         int
	membership   *ledger.Snapshot
	lastSync     time.Time
	lastEmission time.Time

	// nowFunc and sleepFunc let tests control time.
	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration)
}

// New creates a Validator. The initial membership snapshot sizes the engine;
// call Run to start the loop.
func New(cfg Config, br *bridge.Bridge, led ledger.Ledger, eng *reputation.Engine,
	q transport.Querier, snap *ledger.Snapshot, db *sql.DB, log *zap.Logger,
) *Validator {
	resolved := cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Validator{
		cfg:        resolved,
		bridge:     br,
		led:        led,
		engine:     eng,
		querier:    q,
		arbiter:    FirstMatch{},
		scorer:     ExactCount{},
		selector:   &Selector{MinStake: resolved.MinStake, SelfKey: resolved.SelfKey},
		db:         db,
		log:        log,
		state:      StateIdle,
		membership: snap,
		nowFunc:    time.Now,
		sleepFunc:  sleepCtx,
	}
}

// SetArbiter swaps the arbitration policy. Call before Run.
func (v *Validator) SetArbiter(a Arbiter) { v.arbiter = a }

// SetScorer swaps the reward oracle. Call before Run.
func (v *Validator) SetScorer(s Scorer) { v.scorer = s }

// GetState returns the loop's current state.
func (v *Validator) GetState() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *Validator) setState(s State) {
	v.mu.Lock()
	v.state = s
	v.mu.Unlock()
}

// Run drives the loop until ctx is cancelled. Every iteration is fenced: a
// panic or error inside one iteration is logged and followed by a fixed
// back-off, never loop termination. On cancellation the current iteration
// finishes, queued requests are drained with the no-result sentinel, and Run
// returns nil.
func (v *Validator) Run(ctx context.Context) error {
	v.setState(StateRunning)
	v.log.Info("validator loop starting",
		zap.Int("membership", v.membershipSnapshot().Size()),
		zap.Bool("api_exclusive", v.cfg.APIExclusive))

	for ctx.Err() == nil {
		if err := v.iterate(ctx); err != nil {
			v.log.Error("iteration failed", zap.Error(err))
			v.logEvent("iteration_error", "", -1, err.Error())
			v.sleepFunc(ctx, v.cfg.ErrorBackoff)
		}
	}

	v.setState(StateStopping)
	v.drain()
	v.setState(StateStopped)
	v.log.Info("validator loop stopped", zap.Int("steps", v.StepCount()))
	return nil
}

// iterate performs one cycle: source selection, dispatch, arbitration,
// completion, score update, periodic sync. Panics are converted to errors at
// this boundary.
func (v *Validator) iterate(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("iteration panic: %v", r)
		}
	}()

	pending := v.bridge.TryDequeue(v.cfg.PollTimeout)

	switch {
	case pending != nil && v.cfg.APIEnabled:
		err = v.apiRound(ctx, pending)
	case pending != nil:
		// The bridge should not be fed while the API is disabled; never
		// leave the producer hanging regardless.
		v.log.Warn("bridged request with API disabled, completing empty", zap.String("request", pending.Req.ID))
		pending.Complete(nil)
	case !v.cfg.APIExclusive:
		err = v.syntheticRound(ctx)
	}

	v.periodicSync(ctx)

	v.mu.Lock()
	v.step++
	v.mu.Unlock()

	if err == nil && !(v.cfg.APIEnabled && v.cfg.APIExclusive) {
		v.sleepFunc(ctx, v.cfg.IdleSleep)
	}
	return err
}

// apiRound services one bridged request. The deferred completion guarantees
// the producer is unblocked on every path, including a panic further down
// the round.
func (v *Validator) apiRound(ctx context.Context, pending *bridge.Pending) error {
	var winner *protocol.RecResponse
	defer func() { pending.Complete(winner) }()

	req := pending.Req
	v.log.Info("servicing bridged request",
		zap.String("request", req.ID), zap.String("query", req.Query), zap.Int("num_results", req.NumResults))

	batch, targets := v.dispatch(ctx, req)
	if targets == 0 {
		v.logEvent("round_skipped", req.ID, -1, "no available miners")
		return nil
	}

	winner = v.arbiter.SelectWinner(req, batch)
	if winner == nil {
		v.log.Warn("no acceptable response, completing empty", zap.String("request", req.ID))
		v.logEvent("arbitration_miss", req.ID, -1, fmt.Sprintf("%d responses", len(batch)))
	} else {
		v.logEvent("request_completed", req.ID, winner.MinerUID, fmt.Sprintf("%d results", len(winner.Results)))
	}

	return v.scoreRound(req, batch)
}

// syntheticRound issues a self-generated probe request and scores every
// response; no single winner is required.
func (v *Validator) syntheticRound(ctx context.Context) error {
	req := v.probeRequest()
	batch, targets := v.dispatch(ctx, req)
	if targets == 0 {
		return nil
	}
	v.logEvent("synthetic_round", req.ID, -1, fmt.Sprintf("%d responses from %d miners", len(batch), targets))
	return v.scoreRound(req, batch)
}

// dispatch selects targets and runs the transport round-trip. Transport
// failures surface only as a smaller (possibly empty) batch. The returned
// target count is 0 when no miner was available and the round was skipped.
func (v *Validator) dispatch(ctx context.Context, req protocol.RecRequest) (protocol.ResponseBatch, int) {
	targets := v.selector.Select(v.membershipSnapshot(), v.cfg.SampleSize)
	if len(targets) == 0 {
		v.log.Warn("no available miners, skipping round")
		return nil, 0
	}

	batch := v.querier.Query(ctx, targets, req, v.cfg.DispatchTimeout)
	v.log.Debug("dispatch complete",
		zap.String("request", req.ID), zap.Int("targets", len(targets)), zap.Int("responses", len(batch)))
	return batch, len(targets)
}

// scoreRound feeds the round outcome into the reputation engine.
func (v *Validator) scoreRound(req protocol.RecRequest, batch protocol.ResponseBatch) error {
	if len(batch) == 0 {
		return nil
	}
	rewards := v.scorer.Score(req, batch)
	if err := v.engine.Update(rewards); err != nil {
		return fmt.Errorf("score update: %w", err)
	}
	v.logEvent("scores_updated", req.ID, -1, fmt.Sprintf("%d rewards", rewards.Len()))
	return nil
}

// periodicSync triggers membership resync and weight emission on their own
// independent cadences. Failures are logged and retried next cadence.
func (v *Validator) periodicSync(ctx context.Context) {
	now := v.nowFunc()

	v.mu.Lock()
	syncDue := now.Sub(v.lastSync) >= v.cfg.SyncInterval
	emitDue := now.Sub(v.lastEmission) >= v.cfg.EmitInterval
	v.mu.Unlock()

	if syncDue {
		if err := v.resync(ctx); err != nil {
			v.log.Error("membership resync failed", zap.Error(err))
		}
		v.mu.Lock()
		v.lastSync = now
		v.mu.Unlock()
	}

	if emitDue {
		out := v.engine.Emit(ctx, v.led)
		v.recordEmission(out)
		v.mu.Lock()
		v.lastEmission = now
		v.mu.Unlock()
	}
}

// resync pulls a fresh snapshot and reconciles the engine with it.
func (v *Validator) resync(ctx context.Context) error {
	snap, err := v.led.SyncMembership(ctx)
	if err != nil {
		return fmt.Errorf("sync membership: %w", err)
	}
	changed := v.engine.Resync(snap)

	v.mu.Lock()
	v.membership = snap
	v.mu.Unlock()

	if changed {
		v.logEvent("resync", "", -1, fmt.Sprintf("membership now %d", snap.Size()))
	}
	return nil
}

// drain completes every queued request with the no-result sentinel so no
// producer is left blocked across shutdown.
func (v *Validator) drain() {
	for {
		p := v.bridge.TryDequeue(10 * time.Millisecond)
		if p == nil {
			return
		}
		v.log.Info("draining queued request on shutdown", zap.String("request", p.Req.ID))
		p.Complete(nil)
	}
}

// membershipSnapshot returns the loop's current snapshot pointer. Snapshots
// are immutable; sharing the pointer is safe.
func (v *Validator) membershipSnapshot() *ledger.Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.membership
}

// StepCount returns the number of completed iterations.
func (v *Validator) StepCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.step
}

// --- Synthetic probes ---

// probeCatalog is the built-in store catalog used for self-test dispatches.
const probeCatalog = `[` +
	`{"sku":"PROBE-001","name":"Canvas Tote Bag","price":"24.00"},` +
	`{"sku":"PROBE-002","name":"Insulated Water Bottle","price":"18.50"},` +
	`{"sku":"PROBE-003","name":"Wool Running Socks","price":"12.00"},` +
	`{"sku":"PROBE-004","name":"Trail Cap","price":"21.00"},` +
	`{"sku":"PROBE-005","name":"Reflective Arm Band","price":"9.75"},` +
	`{"sku":"PROBE-006","name":"Zip Hoodie","price":"44.00"},` +
	`{"sku":"PROBE-007","name":"Packable Rain Shell","price":"68.00"},` +
	`{"sku":"PROBE-008","name":"Merino Beanie","price":"19.00"}` +
	`]`

// probeNumResults is the result count a probe asks for.
const probeNumResults = 5

// probeRequest builds one synthetic self-test dispatch.
func (v *Validator) probeRequest() protocol.RecRequest {
	return protocol.RecRequest{
		ID:         uuid.New().String(),
		Query:      "PROBE-001",
		Context:    probeCatalog,
		NumResults: probeNumResults,
		Originator: v.cfg.SelfKey,
		CreatedAt:  v.nowFunc().UTC(),
	}
}

// --- Status ---

// MemberStatus is one member row in the status snapshot.
type MemberStatus struct {
	UID             int     `json:"uid"`
	Key             string  `json:"key"`
	Addr            string  `json:"addr"`
	Stake           float64 `json:"stake"`
	ValidatorPermit bool    `json:"validator_permit"`
	Score           float64 `json:"score"`
}

// Status is a read-only snapshot of the loop for the gateway and dashboard.
type Status struct {
	State        State          `json:"state"`
	Step         int            `json:"step"`
	Members      []MemberStatus `json:"members"`
	LastSync     time.Time      `json:"last_sync"`
	LastEmission time.Time      `json:"last_emission"`
}

// Status assembles the current loop state, membership, and scores.
func (v *Validator) Status() Status {
	scores := v.engine.Snapshot()

	v.mu.Lock()
	defer v.mu.Unlock()

	st := Status{
		State:        v.state,
		Step:         v.step,
		LastSync:     v.lastSync,
		LastEmission: v.lastEmission,
	}
	if v.membership != nil {
		st.Members = make([]MemberStatus, 0, len(v.membership.Members))
		for i, m := range v.membership.Members {
			ms := MemberStatus{UID: m.UID, Key: m.Key, Addr: m.Addr, Stake: m.Stake, ValidatorPermit: m.ValidatorPermit}
			if i < len(scores) {
				ms.Score = scores[i]
			}
			st.Members = append(st.Members, ms)
		}
	}
	return st
}

// --- Event log ---

// logEvent writes one audit row. uid < 0 means no miner is associated with
// the event. Event logging is best-effort; a failed insert never affects the
// round.
func (v *Validator) logEvent(evType, requestID string, uid int, payload string) {
	if v.db == nil {
		return
	}
	var uidVal any
	if uid >= 0 {
		uidVal = uid
	}
	_, err := v.db.Exec(
		`INSERT INTO events (type, source, request_id, miner_uid, payload) VALUES (?, ?, ?, ?, ?)`,
		evType, "validator", requestID, uidVal, payload,
	)
	if err != nil {
		v.log.Warn("event log insert failed", zap.String("type", evType), zap.Error(err))
	}
}

// recordEmission audits one emission cycle outcome.
func (v *Validator) recordEmission(out reputation.EmissionOutcome) {
	switch {
	case out.Skipped:
		v.logEvent("emission_skipped", "", -1, out.Message)
	case out.Submitted:
		v.logEvent("emission_submitted", "", -1, fmt.Sprintf("%d members", len(out.UIDs)))
		v.insertEmissionRow(out, true)
	default:
		v.logEvent("emission_failed", "", -1, out.Message)
		v.insertEmissionRow(out, false)
	}
}

func (v *Validator) insertEmissionRow(out reputation.EmissionOutcome, ok bool) {
	if v.db == nil {
		return
	}
	uids, _ := json.Marshal(out.UIDs)
	weights, _ := json.Marshal(out.Weights)
	if _, err := v.db.Exec(
		`INSERT INTO emissions (uids, weights, ok, message) VALUES (?, ?, ?, ?)`,
		string(uids), string(weights), boolInt(ok), out.Message,
	); err != nil {
		v.log.Warn("emission row insert failed", zap.Error(err))
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
