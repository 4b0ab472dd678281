package offsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var errNoResult = errors.New("offsync: no result for pushed change")

// CycleResult summarizes one or more coalesced sync cycles.
type CycleResult struct {
	// Pushed counts items the server accepted.
	Pushed int
	// Retried counts items returned to pending for another attempt.
	Retried int
	// PermanentlyFailed counts items moved to the terminal failed status.
	PermanentlyFailed int
	// Conflicts counts items the server resolved in its own favor.
	Conflicts int
	// Applied counts remote changes written locally.
	Applied int
	// Replay is the outcome of the startup backup replay.
	Replay ReplayResult
	// Errors collects non-fatal per-item and per-change errors.
	Errors []error
	// TransportErr is the last push failure, if any.
	TransportErr error
	// Coalesced reports that a cycle was already running and this request was
	// folded into it.
	Coalesced bool
	Duration  time.Duration
}

func (r *CycleResult) merge(o CycleResult) {
	r.Pushed += o.Pushed
	r.Retried += o.Retried
	r.PermanentlyFailed += o.PermanentlyFailed
	r.Conflicts += o.Conflicts
	r.Applied += o.Applied
	r.Replay.Applied += o.Replay.Applied
	r.Replay.Skipped += o.Replay.Skipped
	r.Replay.Errors = append(r.Replay.Errors, o.Replay.Errors...)
	r.Errors = append(r.Errors, o.Errors...)
	if o.TransportErr != nil {
		r.TransportErr = o.TransportErr
	}
	r.Duration += o.Duration
}

// Engine runs sync cycles: drain the outbox, push, settle results and apply
// remote changes. At most one cycle runs at a time.
type Engine struct {
	rt        Runtime
	transport Transport
	queue     *Queue
	applier   *Applier
	cfg       EngineConfig

	mu        sync.Mutex
	running   bool
	rerun     bool
	recovered bool
	sourceID  string

	state   atomic.Int32
	trigger chan struct{}
}

type pushedItem struct {
	item   OutboxItem
	change PushChange
}

// NewEngine constructs an Engine with defaults and optional settings.
func NewEngine(rt Runtime, transport Transport, opts ...EngineOption) (*Engine, error) {
	if transport == nil {
		return nil, ErrTransportRequired
	}
	rt = rt.withDefaults()
	if err := rt.validate(); err != nil {
		return nil, err
	}

	cfg := EngineConfig{Clock: rt.Clock, Logger: rt.Logger}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()
	rt.Clock = cfg.Clock
	rt.Logger = cfg.Logger

	queue, err := NewQueue(rt)
	if err != nil {
		return nil, err
	}
	applier, err := NewApplier(rt)
	if err != nil {
		return nil, err
	}

	return &Engine{
		rt:        rt,
		transport: transport,
		queue:     queue,
		applier:   applier,
		cfg:       cfg,
		sourceID:  cfg.SourceID,
		trigger:   make(chan struct{}, 1),
	}, nil
}

// Queue returns the engine's outbox queue.
func (e *Engine) Queue() *Queue {
	return e.queue
}

// Applier returns the engine's remote change applier.
func (e *Engine) Applier() *Applier {
	return e.applier
}

// SourceID returns the client identity sent with pushes. It is empty until
// the first cycle has loaded it.
func (e *Engine) SourceID() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.sourceID
}

// State returns the phase of the running cycle.
func (e *Engine) State() CycleState {
	return CycleState(e.state.Load())
}

// Trigger asks Run to start a cycle as soon as possible. It never blocks;
// triggers arriving while one is pending collapse into it.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// RunCycle runs a sync cycle. If a cycle is already in flight the request is
// coalesced: the running cycle repeats once more and this call returns
// immediately with Coalesced set.
func (e *Engine) RunCycle(ctx context.Context) (CycleResult, error) {
	e.mu.Lock()
	if e.running {
		e.rerun = true
		e.mu.Unlock()

		return CycleResult{Coalesced: true}, nil
	}
	e.running = true
	e.mu.Unlock()

	released := false
	defer func() {
		if !released {
			e.mu.Lock()
			e.running = false
			e.rerun = false
			e.mu.Unlock()
		}
		e.state.Store(int32(StateIdle))
	}()

	var total CycleResult
	for {
		res, err := e.cycle(ctx)
		total.merge(res)

		e.mu.Lock()
		if err != nil || !e.rerun {
			e.running = false
			e.rerun = false
			e.mu.Unlock()
			released = true

			return total, err
		}
		e.rerun = false
		e.mu.Unlock()
	}
}

// Run executes cycles until ctx is done: immediately, then on every Trigger
// or PollInterval. Failed cycles back off exponentially.
func (e *Engine) Run(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			e.cfg.Logger.Error("offsync engine panic", "panic", rec)
			err = fmt.Errorf("%w: %v", ErrWorkerPanic, rec)
		}
	}()

	var backoff time.Duration
	for {
		res, cycleErr := e.RunCycle(ctx)
		if ctx.Err() != nil {
			return nil
		}

		wait := e.cfg.PollInterval
		switch {
		case cycleErr != nil:
			e.cfg.Logger.Error("offsync cycle failed", "err", cycleErr)
			backoff = e.nextBackoff(backoff)
			wait = backoff
		case res.TransportErr != nil:
			backoff = e.nextBackoff(backoff)
			wait = backoff
		default:
			backoff = 0
		}

		if err := e.wait(ctx, wait); err != nil {
			return nil
		}
	}
}

func (e *Engine) nextBackoff(cur time.Duration) time.Duration {
	if cur <= 0 {
		return e.cfg.BackoffMin
	}
	cur *= 2
	if cur > e.cfg.BackoffMax {
		return e.cfg.BackoffMax
	}

	return cur
}

func (e *Engine) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.trigger:
		return nil
	case <-timer.C:
		return nil
	}
}

func (e *Engine) cycle(ctx context.Context) (result CycleResult, err error) {
	start := e.cfg.Clock.Now()
	defer func() {
		result.Duration = e.cfg.Clock.Now().Sub(start)
	}()

	if !e.recovered {
		replay, err := e.recover(ctx)
		result.Replay = replay
		if err != nil {
			return result, err
		}
		e.recovered = true
	}

	cursor, err := e.rt.State.LoadCursor(ctx)
	if err != nil {
		return result, err
	}

	more := false
	for batch := 0; batch < e.cfg.MaxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		e.state.Store(int32(StateDraining))
		items, err := e.queue.GetPending(ctx, e.cfg.BatchSize)
		if err != nil {
			return result, err
		}
		// An empty batch still pulls while the server has more pages.
		if len(items) == 0 && batch > 0 && !more {
			break
		}
		pushed, err := e.prepare(ctx, items, &result)
		if err != nil {
			return result, err
		}

		e.state.Store(int32(StatePushing))
		resp, pushErr := e.transport.Push(ctx, PushRequest{
			SourceID: e.SourceID(),
			UserID:   e.cfg.UserID,
			Cursor:   cursor,
			Changes:  changesOf(pushed),
		})

		// Local writes from here on complete even if ctx is canceled.
		writeCtx := context.WithoutCancel(ctx)
		if pushErr != nil {
			e.cfg.Logger.Warn("offsync push failed", "items", len(pushed), "err", pushErr)
			for _, p := range pushed {
				e.settleFailure(writeCtx, p.item, pushErr, &result)
			}
			result.TransportErr = pushErr
			if ctx.Err() != nil {
				return result, ctx.Err()
			}

			break
		}
		e.settle(writeCtx, pushed, resp.Results, &result)

		e.state.Store(int32(StateApplying))
		if len(resp.Changes) > 0 {
			applied, err := e.applier.ApplyBatch(writeCtx, resp.Changes)
			result.Applied += applied.Applied
			result.Errors = append(result.Errors, applied.Errors...)
			if err != nil {
				return result, err
			}
		}
		if resp.Cursor != cursor {
			if err := e.rt.State.SaveCursor(writeCtx, resp.Cursor); err != nil {
				return result, err
			}
			cursor = resp.Cursor
		}

		more = resp.More
		if len(items) < e.cfg.BatchSize && !more {
			break
		}
	}

	e.record(ctx, result, start)

	return result, nil
}

// recover runs once before the first drain: capture is re-enabled in case a
// previous process died while suppressed, interrupted pushes go back to
// pending and any outbox backup is replayed.
func (e *Engine) recover(ctx context.Context) (ReplayResult, error) {
	e.state.Store(int32(StateRecovering))

	if err := e.rt.Triggers.Enable(ctx); err != nil {
		return ReplayResult{}, fmt.Errorf("offsync: enable triggers: %w", err)
	}
	reset, err := e.queue.ResetInProgress(ctx)
	if err != nil {
		return ReplayResult{}, err
	}
	if reset > 0 {
		e.cfg.Logger.Info("offsync reset interrupted items", "count", reset)
	}
	if len(e.SourceID()) == 0 {
		id, err := EnsureSourceID(ctx, e.rt.Storage, "")
		if err != nil {
			return ReplayResult{}, err
		}
		e.mu.Lock()
		e.sourceID = id
		e.mu.Unlock()
	}

	return e.queue.Recover(ctx, e.cfg.UserID)
}

// prepare marks items in flight and loads the current local row of each.
// Items that can never be pushed are settled here and left out of the batch.
func (e *Engine) prepare(ctx context.Context, items []OutboxItem, result *CycleResult) ([]pushedItem, error) {
	pushed := make([]pushedItem, 0, len(items))
	release := func() {
		for _, p := range pushed {
			if err := e.queue.release(context.WithoutCancel(ctx), p.item.ID); err != nil {
				e.cfg.Logger.Warn("offsync release item failed", "id", p.item.ID, "err", err)
			}
		}
	}

	for _, item := range items {
		if err := e.queue.MarkInProgress(ctx, item.ID); err != nil {
			release()

			return nil, err
		}

		var row Row
		var loadErr error
		if item.Operation == OpDelete {
			if !e.rt.Registry.Syncable(item.TableName) {
				loadErr = &UnknownTableError{Table: item.TableName}
			}
		} else {
			row, loadErr = e.rt.Registry.FetchRowByKey(ctx, e.rt.Storage, item.TableName, item.RowID)
		}

		switch {
		case loadErr == nil:
		case errors.Is(loadErr, ErrRowNotFound):
			// The row was deleted after capture; its DELETE item supersedes this one.
			e.complete(ctx, item, result)
			continue
		case IsUnknownTable(loadErr), errors.Is(loadErr, ErrInvalidRowKey):
			e.fail(ctx, item, loadErr, result)
			continue
		default:
			release()
			if err := e.queue.release(context.WithoutCancel(ctx), item.ID); err != nil {
				loadErr = errors.Join(loadErr, err)
			}

			return nil, loadErr
		}

		pushed = append(pushed, pushedItem{
			item: item,
			change: PushChange{
				ItemID:    item.ID,
				Table:     item.TableName,
				RowID:     EncodeRowKey(item.RowID),
				Operation: item.Operation,
				Row:       row,
				ChangedAt: item.ChangedAt,
				Attempts:  item.Attempts,
			},
		})
	}

	return pushed, nil
}

func (e *Engine) settle(ctx context.Context, pushed []pushedItem, results []PushResult, result *CycleResult) {
	byID := make(map[string]PushResult, len(results))
	for _, r := range results {
		byID[r.ItemID] = r
	}

	for _, p := range pushed {
		r, ok := byID[p.item.ID]
		if !ok {
			e.settleFailure(ctx, p.item, errNoResult, result)
			continue
		}

		switch r.Status {
		case ResultAccepted:
			if e.complete(ctx, p.item, result) {
				result.Pushed++
			}
		case ResultConflict:
			result.Conflicts++
			if r.Resolution != nil {
				if err := e.applier.Apply(ctx, *r.Resolution); err != nil {
					e.fail(ctx, p.item, fmt.Errorf("offsync: apply conflict resolution: %w", err), result)
					continue
				}
				result.Applied++
			}
			e.complete(ctx, p.item, result)
		case ResultRejected:
			e.fail(ctx, p.item, resultError(r), result)
		default:
			e.settleFailure(ctx, p.item, resultError(r), result)
		}
	}
}

// settleFailure retries an item or, when its attempts are exhausted or the
// classifier says so, fails it permanently.
func (e *Engine) settleFailure(ctx context.Context, item OutboxItem, cause error, result *CycleResult) {
	if e.cfg.FailureClassifier(ctx, item, cause) == FailureDead || item.Attempts+1 >= e.cfg.MaxAttempts {
		e.fail(ctx, item, cause, result)

		return
	}
	if err := e.queue.MarkFailed(ctx, item.ID, cause.Error(), item.Attempts); err != nil {
		result.Errors = append(result.Errors, err)

		return
	}
	result.Retried++
}

func (e *Engine) fail(ctx context.Context, item OutboxItem, cause error, result *CycleResult) {
	e.cfg.Logger.Warn("offsync item failed permanently",
		"id", item.ID, "table", item.TableName, "row", item.RowID.String(), "attempts", item.Attempts, "err", cause)
	if err := e.queue.MarkPermanentlyFailed(ctx, item.ID, cause.Error()); err != nil {
		result.Errors = append(result.Errors, err)

		return
	}
	result.PermanentlyFailed++
}

func (e *Engine) complete(ctx context.Context, item OutboxItem, result *CycleResult) bool {
	if err := e.queue.MarkCompleted(ctx, item.ID); err != nil {
		result.Errors = append(result.Errors, err)

		return false
	}

	return true
}

func (e *Engine) record(ctx context.Context, result CycleResult, start time.Time) {
	m := e.cfg.Metrics
	m.ObserveCycleDuration(e.cfg.Clock.Now().Sub(start))
	m.AddPushed(result.Pushed)
	m.AddRetries(result.Retried)
	m.AddPermanentFailures(result.PermanentlyFailed)
	m.AddConflicts(result.Conflicts)
	m.AddApplied(result.Applied)

	stats, err := e.queue.Stats(context.WithoutCancel(ctx))
	if err != nil {
		e.cfg.Logger.Warn("offsync pending count failed", "err", err)

		return
	}
	m.SetPending(stats.Pending)
}

func resultError(r PushResult) error {
	if len(r.Error) > 0 {
		return errors.New(r.Error)
	}

	return fmt.Errorf("offsync: server returned %s", r.Status)
}

func changesOf(pushed []pushedItem) []PushChange {
	out := make([]PushChange, 0, len(pushed))
	for _, p := range pushed {
		out = append(out, p.change)
	}

	return out
}
