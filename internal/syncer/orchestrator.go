// Package syncer runs the per-user sync pipeline and the bounded batch over every
// active connection.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"example.com/wearablesync/internal/domain"
	"example.com/wearablesync/internal/downstream"
	"example.com/wearablesync/internal/normalize"
	"example.com/wearablesync/internal/observability"
	"example.com/wearablesync/internal/tokens"
	"example.com/wearablesync/internal/whoop"
)

// Default fetch windows.
const (
	DefaultInitialWindowDays     = 15
	DefaultIncrementalWindowDays = 7
)

// ErrSyncInProgress is returned when a run for the same user is already executing.
var ErrSyncInProgress = errors.New("sync already in progress")

// ErrInactiveConnection is returned for users whose connection was deactivated.
var ErrInactiveConnection = errors.New("connection is not active")

// Fetcher reads vendor collections.
type Fetcher interface {
	FetchPaginated(ctx context.Context, endpoint whoop.Endpoint, accessToken string, start, end time.Time) ([]json.RawMessage, error)
	FetchProfile(ctx context.Context, accessToken string) (whoop.RawProfile, error)
	FetchBodyMeasurement(ctx context.Context, accessToken string) (whoop.RawBodyMeasurement, error)
}

// TokenSource yields a usable access token or the reason there is none.
type TokenSource interface {
	EnsureValidToken(ctx context.Context, userID string) tokens.Result
}

// Aggregator recomputes a day's summaries.
type Aggregator interface {
	GenerateDailySummary(ctx context.Context, date time.Time) (downstream.SummaryResult, error)
}

// AlertEvaluator checks a user's metrics for a day against alert thresholds.
type AlertEvaluator interface {
	CheckMetricsAgainstThresholds(ctx context.Context, userID string, date time.Time) (int, error)
}

// SupervisorAssigner bootstraps the user's monitoring relationship after the first sync.
type SupervisorAssigner interface {
	AutoAssignToDefaultSupervisor(ctx context.Context, userID string) (downstream.AssignmentResult, error)
}

// Dependencies are the collaborators of one Orchestrator. Aggregator, Alerts and
// Assigner are optional.
type Dependencies struct {
	Connections domain.ConnectionRepository
	Metrics     domain.MetricRepository
	SyncLogs    domain.SyncLogRepository
	Tokens      TokenSource
	Fetcher     Fetcher
	Aggregator  Aggregator
	Alerts      AlertEvaluator
	Assigner    SupervisorAssigner
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithWindows overrides the initial and incremental fetch windows, in days.
func WithWindows(initialDays, incrementalDays int) Option {
	return func(o *Orchestrator) {
		if initialDays > 0 {
			o.initialWindow = initialDays
		}
		if incrementalDays > 0 {
			o.incrementalWindow = incrementalDays
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPlatform overrides the platform key.
func WithPlatform(platform string) Option {
	return func(o *Orchestrator) {
		if platform != "" {
			o.platform = platform
		}
	}
}

// Orchestrator runs the sync state machine for one user at a time per user.
type Orchestrator struct {
	deps              Dependencies
	platform          string
	initialWindow     int
	incrementalWindow int
	now               func() time.Time
	newID             func() string
	logger            *zap.Logger
	guard             *Guard
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(deps Dependencies, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deps:              deps,
		platform:          domain.PlatformWhoop,
		initialWindow:     DefaultInitialWindowDays,
		incrementalWindow: DefaultIncrementalWindowDays,
		now:               time.Now,
		newID:             uuid.NewString,
		logger:            zap.NewNop(),
		guard:             NewGuard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Platform returns the platform key runs are recorded under.
func (o *Orchestrator) Platform() string { return o.platform }

// run carries state between the pipeline stages of one invocation.
type run struct {
	userID    string
	startedAt time.Time
	logger    *zap.Logger
	result    Result
	events    []domain.SyncEvent
	dates     []time.Time
}

func (r *run) fail(signal Signal, message string, err error) {
	r.result.Status = domain.SyncStatusFailed
	r.result.Signal = signal
	r.result.Message = message
	r.result.Err = err
}

// SyncUser runs START → determine_window → fetch → normalize → persist →
// trigger_downstream → update_connection_state → log_result. Exactly one sync log
// entry is written per run unless another run for the user is already executing.
func (o *Orchestrator) SyncUser(ctx context.Context, userID string) Result {
	release, ok := o.guard.TryAcquire(userID)
	if !ok {
		return Result{
			UserID:  userID,
			Status:  domain.SyncStatusFailed,
			Signal:  SignalRetryLater,
			Message: MessageAlreadyBusy,
			Err:     ErrSyncInProgress,
		}
	}
	defer release()

	r := &run{
		userID:    userID,
		startedAt: o.now().UTC(),
		logger:    o.logger.With(zap.String("user_id", userID), zap.String("platform", o.platform)),
		result:    Result{UserID: userID, SyncLogID: o.newID()},
	}
	o.execute(ctx, r)
	o.logResult(ctx, r)

	runsCounter.WithLabelValues(string(r.result.Status), r.result.Signal.String()).Inc()
	runDuration.Observe(o.now().Sub(r.startedAt).Seconds())
	return r.result
}

func (o *Orchestrator) execute(ctx context.Context, r *run) {
	conn, err := o.deps.Connections.GetConnection(ctx, r.userID, o.platform)
	switch {
	case errors.Is(err, domain.ErrConnectionNotFound):
		r.fail(SignalReconnect, MessageNotLinked, err)
		return
	case err != nil:
		r.logger.Error("load connection failed", zap.Error(err))
		r.fail(SignalRetryLater, MessageRetryLater, err)
		return
	case !conn.IsActive:
		r.fail(SignalReconnect, MessageReconnect, ErrInactiveConnection)
		return
	}

	token := o.deps.Tokens.EnsureValidToken(ctx, r.userID)
	switch token.Outcome {
	case tokens.OutcomeValid:
	case tokens.OutcomeNoToken:
		o.deactivate(ctx, r, "no_token")
		r.fail(SignalReconnect, MessageNotLinked, token.Err)
		return
	case tokens.OutcomeReauthRequired:
		o.deactivate(ctx, r, "reauth_required")
		r.fail(SignalReconnect, MessageReconnect, token.Err)
		return
	default:
		r.fail(SignalRetryLater, MessageRetryLater, token.Err)
		return
	}

	start, end := o.window(conn, r.startedAt)
	r.logger.Info("sync window determined",
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Bool("initial", !conn.InitialSyncCompleted),
	)

	raw, profile, err := o.fetch(ctx, r, token.AccessToken, start, end)
	if err != nil {
		signal, message := fetchFailure(err)
		if signal == SignalNone {
			r.logger.Error("fetch failed with unexpected error", zap.Error(err))
		} else {
			r.logger.Warn("fetch failed", zap.Error(err))
		}
		r.fail(signal, message, err)
		return
	}

	out := normalize.Process(r.userID, o.platform, raw)
	o.recordRejections(ctx, r, out.Rejected)
	r.logger.Info("payloads normalized",
		zap.Int("raw", raw.Count()),
		zap.Int("valid", out.Batch.Count()),
		zap.Int("rejected", len(out.Rejected)),
		zap.Int("duplicates", out.Duplicates),
	)

	if err := o.deps.Metrics.UpsertMetrics(ctx, out.Batch); err != nil {
		r.logger.Error("persist metrics failed", zap.Error(err))
		r.fail(SignalRetryLater, MessageRetryLater, fmt.Errorf("persist metrics: %w", err))
		return
	}
	observability.RecordMetricsPersisted(o.now())
	countRecords(out.Batch)

	if profile != nil {
		if err := o.deps.Metrics.UpsertProfile(ctx, *profile); err != nil {
			r.logger.Warn("persist profile failed", zap.Error(err))
		}
	}

	r.dates = out.Batch.Dates()
	o.triggerDownstream(ctx, r)

	firstSync, err := o.deps.Connections.MarkSynced(ctx, r.userID, o.platform, o.now().UTC())
	if err != nil {
		r.logger.Error("update connection state failed", zap.Error(err))
	}
	if firstSync && o.deps.Assigner != nil {
		if res, err := o.deps.Assigner.AutoAssignToDefaultSupervisor(ctx, r.userID); err != nil {
			downstreamFailures.WithLabelValues("assigner").Inc()
			r.logger.Warn("auto-assign supervisor failed", zap.Error(err))
		} else {
			r.logger.Info("first sync completed", zap.Bool("relationship_created", res.RelationshipCreated))
		}
	}

	r.result.Status = domain.SyncStatusCompleted
	r.result.Signal = SignalNone
	r.result.RecordsSynced = out.Batch.Count()
	r.result.Rejected = len(out.Rejected)
	r.events = append(r.events, domain.SyncEvent{
		Type:          domain.EventSyncCompleted,
		UserID:        r.userID,
		Platform:      o.platform,
		SyncLogID:     r.result.SyncLogID,
		Status:        string(domain.SyncStatusCompleted),
		RecordsSynced: r.result.RecordsSynced,
		Dates:         formatDates(r.dates),
		OccurredAt:    o.now().UTC(),
	})
}

// window returns the fetch window ending now.
func (o *Orchestrator) window(conn *domain.Connection, now time.Time) (time.Time, time.Time) {
	days := o.incrementalWindow
	if !conn.InitialSyncCompleted {
		days = o.initialWindow
	}
	return now.AddDate(0, 0, -days), now
}

// fetch reads the four collections concurrently; any failure fails the stage. Profile
// and body measurement are best-effort.
func (o *Orchestrator) fetch(ctx context.Context, r *run, accessToken string, start, end time.Time) (normalize.Raw, *domain.Profile, error) {
	var raw normalize.Raw
	var rawProfile *whoop.RawProfile
	var rawBody *whoop.RawBodyMeasurement

	g, gctx := errgroup.WithContext(ctx)
	collections := []struct {
		endpoint whoop.Endpoint
		dst      *[]json.RawMessage
	}{
		{whoop.EndpointCycles, &raw.Cycles},
		{whoop.EndpointRecovery, &raw.Recoveries},
		{whoop.EndpointSleep, &raw.Sleeps},
		{whoop.EndpointWorkouts, &raw.Workouts},
	}
	for _, c := range collections {
		g.Go(func() error {
			records, err := o.deps.Fetcher.FetchPaginated(gctx, c.endpoint, accessToken, start, end)
			if err != nil {
				return err
			}
			*c.dst = records
			return nil
		})
	}
	g.Go(func() error {
		p, err := o.deps.Fetcher.FetchProfile(gctx, accessToken)
		if err != nil {
			r.logger.Warn("profile fetch failed", zap.Error(err))
			return nil
		}
		rawProfile = &p
		return nil
	})
	g.Go(func() error {
		b, err := o.deps.Fetcher.FetchBodyMeasurement(gctx, accessToken)
		if err != nil {
			r.logger.Warn("body measurement fetch failed", zap.Error(err))
			return nil
		}
		rawBody = &b
		return nil
	})
	if err := g.Wait(); err != nil {
		return normalize.Raw{}, nil, err
	}

	if rawProfile == nil && rawBody == nil {
		return raw, nil, nil
	}
	profile := normalize.NormalizeProfile(r.userID, o.platform, rawProfile, rawBody, o.now())
	return raw, &profile, nil
}

func (o *Orchestrator) recordRejections(ctx context.Context, r *run, rejected []normalize.Rejection) {
	if len(rejected) == 0 {
		return
	}
	at := o.now().UTC()
	entries := make([]domain.ValidationErrorEntry, 0, len(rejected))
	for _, rej := range rejected {
		rejectedCounter.WithLabelValues(rej.RecordType).Inc()
		entries = append(entries, domain.ValidationErrorEntry{
			ID:         o.newID(),
			UserID:     r.userID,
			Platform:   o.platform,
			RecordType: rej.RecordType,
			RecordID:   rej.RecordID,
			Reason:     rej.Reason,
			Payload:    rej.Payload,
			CreatedAt:  at,
		})
		r.logger.Debug("payload rejected",
			zap.String("record_type", rej.RecordType),
			zap.String("record_id", rej.RecordID),
			zap.String("reason", rej.Reason),
		)
	}
	if err := o.deps.SyncLogs.AppendValidationErrors(ctx, entries); err != nil {
		r.logger.Error("record validation errors failed", zap.Int("count", len(entries)), zap.Error(err))
	}
}

// triggerDownstream aggregates every touched day, then evaluates alerts for today.
// Failures are logged and counted; they never fail the run.
func (o *Orchestrator) triggerDownstream(ctx context.Context, r *run) {
	if o.deps.Aggregator != nil {
		for _, day := range r.dates {
			res, err := o.deps.Aggregator.GenerateDailySummary(ctx, day)
			if err != nil {
				downstreamFailures.WithLabelValues("aggregator").Inc()
				r.logger.Warn("daily summary failed", zap.Time("date", day), zap.Error(err))
				continue
			}
			if len(res.Errors) > 0 {
				r.logger.Warn("daily summary reported errors", zap.Time("date", day), zap.Strings("errors", res.Errors))
			}
		}
	}
	if o.deps.Alerts != nil {
		today := domain.DateOf(o.now().UTC())
		created, err := o.deps.Alerts.CheckMetricsAgainstThresholds(ctx, r.userID, today)
		if err != nil {
			downstreamFailures.WithLabelValues("alerts").Inc()
			r.logger.Warn("alert evaluation failed", zap.Error(err))
			return
		}
		if created > 0 {
			r.logger.Info("alerts created", zap.Int("count", created))
		}
	}
}

// deactivate retires the connection and queues the deactivation event. The token
// manager may already have done so; repeating it is harmless.
func (o *Orchestrator) deactivate(ctx context.Context, r *run, reason string) {
	at := o.now().UTC()
	if err := o.deps.Connections.DeactivateConnection(ctx, r.userID, o.platform, at); err != nil && !errors.Is(err, domain.ErrConnectionNotFound) {
		r.logger.Error("deactivate connection failed", zap.Error(err))
	}
	r.logger.Warn("connection deactivated", zap.String("reason", reason))
	r.events = append(r.events, domain.SyncEvent{
		Type:       domain.EventConnectionDeactivated,
		UserID:     r.userID,
		Platform:   o.platform,
		SyncLogID:  r.result.SyncLogID,
		Status:     reason,
		OccurredAt: at,
	})
}

func (o *Orchestrator) logResult(ctx context.Context, r *run) {
	entry := domain.SyncLogEntry{
		ID:            r.result.SyncLogID,
		UserID:        r.userID,
		Platform:      o.platform,
		StartedAt:     r.startedAt,
		CompletedAt:   o.now().UTC(),
		Status:        r.result.Status,
		RecordsSynced: r.result.RecordsSynced,
		ErrorMessage:  r.result.Message,
	}
	if err := o.deps.SyncLogs.AppendSyncLog(ctx, entry, r.events...); err != nil {
		r.logger.Error("write sync log failed", zap.Error(err))
		r.result.Err = errors.Join(r.result.Err, fmt.Errorf("write sync log: %w", err))
	}

	fields := []zap.Field{
		zap.String("sync_log_id", entry.ID),
		zap.String("status", string(entry.Status)),
		zap.String("signal", r.result.Signal.String()),
		zap.Int("records_synced", entry.RecordsSynced),
		zap.Duration("elapsed", entry.CompletedAt.Sub(entry.StartedAt)),
	}
	if r.result.Err != nil {
		fields = append(fields, zap.Error(r.result.Err))
	}
	r.logger.Info("sync run finished", fields...)
}

// fetchFailure maps a fetch error onto a follow-up signal and user message. A 401 or
// 403 for an unexpired token means access was revoked at the vendor; credentials and
// connection state are left for the next token refresh to settle.
func fetchFailure(err error) (Signal, string) {
	var httpErr *whoop.HTTPError
	if errors.As(err, &httpErr) && (httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden) {
		return SignalReconnect, MessageReconnect
	}
	if whoop.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return SignalRetryLater, MessageRetryLater
	}
	return SignalNone, MessageUnexpected
}

func countRecords(batch domain.MetricBatch) {
	recordsCounter.WithLabelValues(normalize.RecordCycle).Add(float64(len(batch.Cycles)))
	recordsCounter.WithLabelValues(normalize.RecordRecovery).Add(float64(len(batch.Recoveries)))
	recordsCounter.WithLabelValues(normalize.RecordSleep).Add(float64(len(batch.Sleeps)))
	recordsCounter.WithLabelValues(normalize.RecordWorkout).Add(float64(len(batch.Workouts)))
}

func formatDates(dates []time.Time) []string {
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.Format(time.DateOnly))
	}
	return out
}
