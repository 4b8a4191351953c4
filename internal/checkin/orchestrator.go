package checkin

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"attendance/internal/geofence"
	"attendance/internal/location"
	"attendance/internal/types"
)

// Submitter sends allowed attempts to the attendance API.
//
// Errors are *types.AppError: server_* codes for authoritative rejections and
// upstream_* codes for transport failures.
type Submitter interface {
	CheckInOffice(ctx context.Context, coords *types.Coordinates) (*types.CheckInReceipt, error)
	CheckInMission(ctx context.Context, orderNumber string, coords *types.Coordinates) (*types.CheckInReceipt, error)
}

// Metrics records attempt telemetry.
type Metrics interface {
	RecordAcquisition(ctx context.Context, elapsed time.Duration, metAccuracy bool, code types.ErrorCode)
	RecordOutcome(ctx context.Context, kind types.CheckInKind, outcome types.OutcomeKind)
}

type noopMetrics struct{}

func (noopMetrics) RecordAcquisition(context.Context, time.Duration, bool, types.ErrorCode) {}
func (noopMetrics) RecordOutcome(context.Context, types.CheckInKind, types.OutcomeKind) {}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Sampler   location.PositionSampler
	Contexts  geofence.ContextProvider
	Submitter Submitter
	Metrics   Metrics
	Clock     types.Clock
	Logger    *slog.Logger
	// Sampling tunes every acquisition. Zero fields take the sampler defaults.
	Sampling location.Options
}

// Orchestrator drives check-in attempts for one user.
//
// Only the latest attempt is visible. Starting a new attempt, or calling
// Cancel, supersedes the previous one: its sampling and context fetch are
// cancelled and any result it still produces is discarded.
type Orchestrator struct {
	deps Deps

	mu      sync.Mutex
	token   uint64
	cancel  context.CancelFunc
	current types.CheckInAttempt

	wg sync.WaitGroup
}

// NewOrchestrator creates an idle Orchestrator.
func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if deps.Clock == nil {
		deps.Clock = types.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{
		deps:    deps,
		current: types.CheckInAttempt{State: types.AttemptStateIdle},
	}
}

// attempt is the private record of one attempt. Its fields are only touched
// by the goroutine executing it; publish copies them out under the lock.
type attempt struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
	rec    types.CheckInAttempt
}

// Start begins a new attempt in the background and returns its ID. The
// attempt outlives ctx but keeps its values, such as forwarded credentials.
func (o *Orchestrator) Start(ctx context.Context, kind types.CheckInKind, target string) (uint64, error) {
	if !kind.Valid() {
		return 0, invalidKind(kind)
	}
	a := o.begin(context.WithoutCancel(ctx), kind, target)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(a)
	}()
	return a.id, nil
}

// Run begins a new attempt and executes it on the calling goroutine. It
// returns the attempt's own final record, even if a later attempt superseded
// it and the record was never published.
func (o *Orchestrator) Run(ctx context.Context, kind types.CheckInKind, target string) (types.CheckInAttempt, error) {
	if !kind.Valid() {
		return types.CheckInAttempt{}, invalidKind(kind)
	}
	a := o.begin(ctx, kind, target)
	o.wg.Add(1)
	defer o.wg.Done()
	o.execute(a)
	return a.rec, nil
}

// Cancel supersedes the current attempt without starting a new one and
// returns the orchestrator to idle.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.token++
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.current = types.CheckInAttempt{State: types.AttemptStateIdle, UpdatedAt: o.deps.Clock.Now()}
}

// Snapshot returns the latest attempt as the UI should see it.
func (o *Orchestrator) Snapshot() types.CheckInAttempt {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Busy reports whether the current attempt has not reached a terminal state.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current.State != types.AttemptStateIdle && !o.current.State.Terminal()
}

// Close cancels the current attempt and waits for every attempt goroutine.
func (o *Orchestrator) Close() {
	o.Cancel()
	o.wg.Wait()
}

func (o *Orchestrator) begin(parent context.Context, kind types.CheckInKind, target string) *attempt {
	ctx, cancel := context.WithCancel(parent)
	now := o.deps.Clock.Now()

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	o.token++
	o.cancel = cancel

	a := &attempt{
		id:     o.token,
		ctx:    ctx,
		cancel: cancel,
		rec: types.CheckInAttempt{
			ID:        o.token,
			Kind:      kind,
			Target:    strings.TrimSpace(target),
			State:     types.AttemptStateSampling,
			StartedAt: now,
			UpdatedAt: now,
		},
	}
	// Published before Start returns: a snapshot taken right after Start is
	// never idle.
	if a.missingOrder() {
		outcome := missionOrderRequired()
		a.rec.State = types.AttemptStateRejected
		a.rec.Outcome = &outcome
	}
	o.current = a.rec
	return a
}

func (a *attempt) missingOrder() bool {
	return a.rec.Kind == types.CheckInKindMission && a.rec.Target == ""
}

// publish makes a's record visible if a is still the current attempt.
func (o *Orchestrator) publish(a *attempt) bool {
	a.rec.UpdatedAt = o.deps.Clock.Now()

	o.mu.Lock()
	defer o.mu.Unlock()
	if a.id != o.token {
		return false
	}
	o.current = a.rec
	return true
}

func (o *Orchestrator) isCurrent(a *attempt) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return a.id == o.token
}

func (o *Orchestrator) transition(a *attempt, state types.AttemptState) bool {
	a.rec.State = state
	return o.publish(a)
}

// execute runs the attempt pipeline: sample, fetch context, gate, submit.
// Every step is skipped once the attempt is superseded.
func (o *Orchestrator) execute(a *attempt) {
	defer func() {
		a.cancel()
		o.mu.Lock()
		if a.id == o.token {
			o.cancel = nil
		}
		o.mu.Unlock()
	}()

	logger := o.deps.Logger.With(
		"attempt_id", a.id,
		"kind", string(a.rec.Kind),
	)

	if a.missingOrder() {
		o.finish(a, logger, types.AttemptStateRejected, missionOrderRequired())
		return
	}

	sample, ok := o.sample(a, logger)
	if !ok {
		return
	}

	if !o.transition(a, types.AttemptStateDeciding) {
		return
	}
	gctx, err := o.deps.Contexts.GetContext(a.ctx, false)
	if !o.isCurrent(a) {
		return
	}
	if a.ctx.Err() != nil {
		o.finish(a, logger, types.AttemptStateFailed, cancelledOutcome())
		return
	}
	if err != nil {
		logger.WarnContext(a.ctx, "geofencing context unavailable, deferring to server", "error", err.Error())
		gctx = nil
	}

	decision := Evaluate(a.rec.Kind, a.rec.Target, sample, gctx)
	a.rec.Decision = &decision
	if decision.Verdict == types.VerdictDeny {
		o.finish(a, logger, types.AttemptStateRejected, types.Outcome{
			Kind:    types.OutcomeRejectedByGate,
			Reason:  string(decision.Reason),
			Message: Message(string(decision.Reason)),
		})
		return
	}

	submittedAt := o.deps.Clock.Now()
	a.rec.SubmittedAt = &submittedAt
	if !o.transition(a, types.AttemptStateSubmitting) {
		return
	}

	var coords *types.Coordinates
	if sample != nil {
		c := sample.Coordinates()
		coords = &c
	}
	// A submission is never aborted half-way; a superseded attempt only
	// loses the right to publish its result.
	subCtx := context.WithoutCancel(a.ctx)
	var receipt *types.CheckInReceipt
	switch a.rec.Kind {
	case types.CheckInKindMission:
		receipt, err = o.deps.Submitter.CheckInMission(subCtx, a.rec.Target, coords)
	default:
		receipt, err = o.deps.Submitter.CheckInOffice(subCtx, coords)
	}

	if err != nil {
		state, outcome := submissionFailure(err)
		o.finish(a, logger, state, outcome)
		return
	}

	outcome := types.Outcome{Kind: types.OutcomeSuccess, Receipt: receipt}
	if receipt != nil {
		outcome.Message = receipt.Message
	}
	o.finish(a, logger, types.AttemptStateSuccess, outcome)
}

// sample acquires a position. It returns ok=false when the attempt ended
// during sampling, either superseded or rejected on a sensor error.
func (o *Orchestrator) sample(a *attempt, logger *slog.Logger) (*types.PositionSample, bool) {
	start := o.deps.Clock.Now()
	res, err := o.deps.Sampler.Acquire(a.ctx, o.deps.Sampling, func(p types.PositionSample) {
		best := p
		if a.rec.Sample != nil && !p.BetterThan(*a.rec.Sample) {
			return
		}
		a.rec.Sample = &best
		o.publish(a)
	})
	if !o.isCurrent(a) {
		return nil, false
	}

	code := types.CodeOf(err)
	o.deps.Metrics.RecordAcquisition(a.ctx, o.deps.Clock.Now().Sub(start), err == nil && res.MetAccuracy, code)

	if err == nil {
		s := res.Sample
		a.rec.Sample = &s
		return &s, true
	}

	switch {
	case code == types.ErrCodeSensorCancelled:
		o.finish(a, logger, types.AttemptStateFailed, cancelledOutcome())
		return nil, false
	case code == types.ErrCodeSensorUnsupported:
		// The gate applies the fallback policy.
		logger.InfoContext(a.ctx, "location unsupported on device")
		return nil, true
	case a.rec.Kind == types.CheckInKindMission:
		// Location is optional metadata for missions.
		logger.InfoContext(a.ctx, "continuing mission check-in without location", "code", string(code))
		return nil, true
	}

	retryable := code != types.ErrCodeSensorPermissionDenied
	o.finish(a, logger, types.AttemptStateRejected, types.Outcome{
		Kind:      types.OutcomeRejectedBySensor,
		Reason:    string(code),
		Message:   Message(string(code)),
		Retryable: retryable,
	})
	return nil, false
}

// submissionFailure maps a Submitter error to a terminal state.
func submissionFailure(err error) (types.AttemptState, types.Outcome) {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return types.AttemptStateFailed, types.Outcome{
			Kind:      types.OutcomeNetworkError,
			Reason:    types.ReasonNetworkError,
			Message:   Message(types.ReasonNetworkError),
			Retryable: true,
		}
	}

	rejected := func(reason, serverMsg string) (types.AttemptState, types.Outcome) {
		msg := Message(reason)
		if serverMsg != "" {
			msg = serverMsg
		}
		return types.AttemptStateRejected, types.Outcome{
			Kind:    types.OutcomeRejectedByServer,
			Reason:  reason,
			Message: msg,
		}
	}

	switch appErr.Code {
	case types.ErrCodeServerDuplicateCheckIn:
		return rejected(types.ReasonAlreadyCheckedIn, "")
	case types.ErrCodeServerForbiddenDistance:
		return rejected(types.ReasonForbiddenDistance, appErr.Message)
	case types.ErrCodeServerInvalidCoordinates:
		return rejected(types.ReasonInvalidCoordinates, "")
	case types.ErrCodeServerMissionUnknown:
		return rejected(types.ReasonMissionUnknown, "")
	case types.ErrCodeServerUnauthorized:
		return rejected(types.ReasonUnauthorized, "")
	case types.ErrCodeServerRejected:
		return rejected(types.ReasonServerRejected, appErr.Message)
	default:
		return types.AttemptStateFailed, types.Outcome{
			Kind:      types.OutcomeNetworkError,
			Reason:    types.ReasonNetworkError,
			Message:   Message(types.ReasonNetworkError),
			Retryable: true,
		}
	}
}

func (o *Orchestrator) finish(a *attempt, logger *slog.Logger, state types.AttemptState, outcome types.Outcome) {
	a.rec.Outcome = &outcome
	if !o.transition(a, state) {
		return
	}
	o.deps.Metrics.RecordOutcome(a.ctx, a.rec.Kind, outcome.Kind)

	attrs := []any{"state", string(state), "outcome", string(outcome.Kind)}
	if outcome.Reason != "" {
		attrs = append(attrs, "reason", outcome.Reason)
	}
	if state == types.AttemptStateFailed {
		logger.WarnContext(a.ctx, "check-in attempt failed", attrs...)
		return
	}
	logger.InfoContext(a.ctx, "check-in attempt finished", attrs...)
}

func missionOrderRequired() types.Outcome {
	return types.Outcome{
		Kind:    types.OutcomeRejectedByGate,
		Reason:  types.ReasonMissionOrderRequired,
		Message: Message(types.ReasonMissionOrderRequired),
	}
}

func cancelledOutcome() types.Outcome {
	return types.Outcome{
		Kind:      types.OutcomeRejectedBySensor,
		Reason:    string(types.ErrCodeSensorCancelled),
		Message:   Message(string(types.ErrCodeSensorCancelled)),
		Retryable: true,
	}
}

func invalidKind(kind types.CheckInKind) error {
	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationInvalidKind,
		"check-in kind must be office or mission",
		nil,
		map[string]any{"kind": string(kind)},
	)
}
