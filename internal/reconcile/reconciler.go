// Package reconcile folds task events and poll results into the client-side
// roadmap projection: generation phase, per-concept content statuses and
// aggregate generation stats.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	jitterbug "github.com/lthibault/jitterbug/v2"

	"github.com/741311791/roadmap-agent-sub009/internal/api"
	"github.com/741311791/roadmap-agent-sub009/internal/channel"
	"github.com/741311791/roadmap-agent-sub009/internal/metrics"
	"github.com/741311791/roadmap-agent-sub009/internal/roadmap"
)

const defaultPollInterval = 2 * time.Second

// Session is the slice of the event channel the reconciler drives. Two
// independent sessions may be open at once (primary task and retry task).
type Session interface {
	Connect(ctx context.Context, includeHistory bool) error
	Disconnect()
	State() channel.State
}

// SessionFactory builds a session for one task id.
type SessionFactory func(taskID string, handlers channel.Handlers) Session

// Config tunes a Reconciler.
type Config struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	Logger            *slog.Logger
	Metrics           *metrics.Collector
	// NewSession defaults to a websocket session against the API host.
	NewSession SessionFactory
}

// Reconciler owns the in-memory task projection for one roadmap. Socket
// events, the polling fallback and user actions interleave arbitrarily, so
// every mutation is a delta against current state under one mutex.
type Reconciler struct {
	api     *api.Client
	store   *roadmap.Store
	logger  *slog.Logger
	metrics *metrics.Collector

	pollInterval time.Duration
	newSession   SessionFactory

	mu             sync.Mutex
	roadmapID      string
	taskID         string
	retryTaskID    string
	phase          roadmap.GenerationPhase
	subStatus      string
	stats          roadmap.GenerationStats
	polling        bool
	live           bool
	reviewRequired bool
	review         *channel.ReviewSummary
	closed         bool
	primary        Session
	retry          Session
	pollStop       chan struct{}
}

// New creates a reconciler over the given API client and store.
func New(apiClient *api.Client, store *roadmap.Store, cfg Config) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := cfg.Metrics
	if collector == nil {
		collector = metrics.NewCollector()
	}
	r := &Reconciler{
		api:          apiClient,
		store:        store,
		logger:       logger,
		metrics:      collector,
		pollInterval: cfg.PollInterval,
		newSession:   cfg.NewSession,
	}
	if r.pollInterval <= 0 {
		r.pollInterval = defaultPollInterval
	}
	if r.newSession == nil {
		r.newSession = func(taskID string, handlers channel.Handlers) Session {
			return channel.NewSession(channel.Config{
				BaseURL:           apiClient.WSBaseURL(),
				HeartbeatInterval: cfg.HeartbeatInterval,
				Logger:            logger,
				OnReconnect:       func(int) { collector.RecordReconnect() },
			}, taskID, handlers)
		}
	}
	return r
}

// LoadRoadmap fetches the tree, computes the baseline stats and discovers
// whether the roadmap has an active backend task.
func (r *Reconciler) LoadRoadmap(ctx context.Context, roadmapID string) error {
	start := time.Now()
	rm, err := r.api.GetRoadmap(ctx, roadmapID)
	r.metrics.RecordRequest(metrics.OpGetRoadmap, time.Since(start), err)
	if err != nil {
		return err
	}
	r.store.SetRoadmap(rm)

	r.mu.Lock()
	r.roadmapID = roadmapID
	r.stats = roadmap.ComputeStats(rm)
	r.mu.Unlock()

	return r.DiscoverActiveTask(ctx)
}

// DiscoverActiveTask checks for an in-flight task and enters the matching
// mode: polling+live generation for processing, the review gate for
// human_review_pending, or the static view otherwise.
func (r *Reconciler) DiscoverActiveTask(ctx context.Context) error {
	r.mu.Lock()
	roadmapID := r.roadmapID
	r.mu.Unlock()
	if roadmapID == "" {
		return fmt.Errorf("no roadmap loaded")
	}

	resp, err := r.api.GetActiveTask(ctx, roadmapID)
	if err != nil {
		return err
	}
	if !resp.HasActiveTask {
		return nil
	}

	r.mu.Lock()
	r.taskID = resp.TaskID
	switch resp.Status {
	case roadmap.TaskProcessing:
		r.live = true
		if phase, sub := roadmap.ParseStep(resp.CurrentStep); phase != roadmap.PhaseUnknown {
			r.phase, r.subStatus = phase, sub
		}
		r.startPollingLocked()
	case roadmap.TaskHumanReviewPending:
		r.phase = roadmap.PhaseHumanReview
		r.subStatus = roadmap.ReviewWaiting
		r.reviewRequired = true
	}
	r.mu.Unlock()
	return nil
}

// ConnectEvents opens the primary event channel for the discovered task.
func (r *Reconciler) ConnectEvents(ctx context.Context, includeHistory bool) error {
	r.mu.Lock()
	taskID := r.taskID
	if taskID == "" {
		r.mu.Unlock()
		return fmt.Errorf("no active task to subscribe to")
	}
	if r.primary == nil {
		r.primary = r.newSession(taskID, r.handlers())
	}
	session := r.primary
	r.mu.Unlock()

	return session.Connect(ctx, includeHistory)
}

// StartRetry re-runs failed content. The local state is updated
// optimistically before any event arrives: every failed status of the chosen
// types becomes generating and the failed counter drops to zero. Real events
// or the final refetch reconcile the speculation.
func (r *Reconciler) StartRetry(ctx context.Context, preferences map[string]any, types []roadmap.ContentType) (string, error) {
	if len(types) == 0 {
		types = roadmap.AllContentTypes()
	}
	r.mu.Lock()
	roadmapID := r.roadmapID
	r.mu.Unlock()
	if roadmapID == "" {
		return "", fmt.Errorf("no roadmap loaded")
	}

	start := time.Now()
	resp, err := r.api.RetryFailed(ctx, roadmapID, preferences, types)
	r.metrics.RecordRequest(metrics.OpRetryFailed, time.Since(start), err)
	if err != nil {
		return "", err
	}

	reset := r.store.ResetFailed(types)
	r.logger.Info("retry started", "retry_task_id", resp.TaskID,
		"items_to_retry", resp.ItemsToRetry, "optimistic_resets", reset)

	r.mu.Lock()
	r.retryTaskID = resp.TaskID
	r.stats.Failed = 0
	r.live = true
	r.phase = roadmap.PhaseContentGeneration
	old := r.retry
	// The retry channel is independent of the primary one: own heartbeat,
	// own reconnect counter.
	r.retry = r.newSession(resp.TaskID, r.handlers())
	session := r.retry
	closed := r.closed
	r.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}
	if closed {
		return resp.TaskID, nil
	}
	if err := session.Connect(ctx, false); err != nil {
		// The poll fallback still covers the retry; keep going.
		r.logger.Warn("retry channel connect failed, relying on polling", "error", err)
	}
	return resp.TaskID, nil
}

// Approve resolves the human-review gate. Approval resumes live generation;
// rejection sends feedback and leaves the gate in editing state.
func (r *Reconciler) Approve(ctx context.Context, approved bool, feedback string) error {
	r.mu.Lock()
	taskID := r.taskID
	r.mu.Unlock()
	if taskID == "" {
		return fmt.Errorf("no active task")
	}

	start := time.Now()
	err := r.api.ApproveReview(ctx, taskID, approved, feedback)
	r.metrics.RecordRequest(metrics.OpApproveReview, time.Since(start), err)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.reviewRequired = false
	if approved {
		r.subStatus = ""
		r.live = true
		r.startPollingLocked()
	} else {
		r.subStatus = roadmap.ReviewEditing
	}
	r.mu.Unlock()
	return nil
}

// CheckStale runs the backend status check and reconciles the result.
func (r *Reconciler) CheckStale(ctx context.Context) error {
	r.mu.Lock()
	roadmapID := r.roadmapID
	r.mu.Unlock()
	if roadmapID == "" {
		return fmt.Errorf("no roadmap loaded")
	}

	start := time.Now()
	resp, err := r.api.StatusCheck(ctx, roadmapID)
	r.metrics.RecordRequest(metrics.OpStatusCheck, time.Since(start), err)
	if err != nil {
		return err
	}
	r.ReconcileStatusCheck(resp)
	return nil
}

// ReconcileStatusCheck applies a status-check response: concepts with an
// active backend task are promoted to generating (recovers a missed
// concept_start, e.g. after reload); stale concepts are demoted to failed so
// the retry affordance becomes available (recovers a lost terminal event).
func (r *Reconciler) ReconcileStatusCheck(resp *api.StatusCheckResponse) {
	for _, at := range resp.ActiveTasks {
		current, ok := r.store.ConceptStatus(at.ConceptID, at.ContentType)
		if !ok || current == roadmap.StatusGenerating {
			continue
		}
		if _, changed := r.store.UpdateConceptStatus(at.ConceptID, at.ContentType, roadmap.StatusGenerating); changed {
			r.logger.Debug("promoted concept to generating from active task",
				"concept_id", at.ConceptID, "content_type", at.ContentType)
		}
	}

	for _, sc := range resp.StaleConcepts {
		from, changed := r.store.ForceConceptStatus(sc.ConceptID, sc.ContentType, roadmap.StatusFailed)
		if !changed {
			continue
		}
		r.metrics.RecordStaleDemotion()
		r.logger.Warn("stale content demoted to failed",
			"concept_id", sc.ConceptID, "content_type", sc.ContentType, "was", from)
		if sc.ContentType == roadmap.ContentTypeTutorial {
			r.mu.Lock()
			r.stats.Failed++
			r.mu.Unlock()
		}
	}
}

// Close disconnects both channels and stops polling. The reconciler ignores
// any callbacks that land after Close.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	r.stopPollingLocked()
	primary, retry := r.primary, r.retry
	r.mu.Unlock()

	if primary != nil {
		primary.Disconnect()
	}
	if retry != nil {
		retry.Disconnect()
	}
}

// Phase returns the current generation phase and sub-status.
func (r *Reconciler) Phase() (roadmap.GenerationPhase, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase, r.subStatus
}

// Stats returns the current aggregate generation stats.
func (r *Reconciler) Stats() roadmap.GenerationStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Polling reports whether the fallback poll loop is active.
func (r *Reconciler) Polling() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.polling
}

// Live reports whether live-generation mode is active.
func (r *Reconciler) Live() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// ReviewRequired reports whether the human-review gate is open, with the
// pending roadmap's summary when the backend supplied one.
func (r *Reconciler) ReviewRequired() (bool, *channel.ReviewSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reviewRequired, r.review
}

// TaskID returns the primary task id, if discovered.
func (r *Reconciler) TaskID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.taskID
}

// handlers wires the event taxonomy into state updates. Both the primary and
// the retry session share these; per-connection state stays in the sessions.
func (r *Reconciler) handlers() channel.Handlers {
	return channel.Handlers{
		OnProgress:            r.onProgress,
		OnCompleted:           r.onCompleted,
		OnFailed:              r.onFailed,
		OnHumanReviewRequired: r.onHumanReviewRequired,
		OnConceptStart:        r.onConceptStart,
		OnConceptComplete:     r.onConceptComplete,
		OnConceptFailed:       r.onConceptFailed,
		OnBatchComplete:       r.onBatchComplete,
		OnClosing: func(ev channel.Event) {
			r.logger.Info("server closing channel", "reason", ev.Reason)
		},
		OnError: func(ev channel.Event) {
			r.logger.Warn("channel error event", "error", ev.Error, "message", ev.Message)
		},
		OnEvent: func(ev channel.Event) {
			r.metrics.RecordEvent(string(ev.Type))
		},
	}
}

func (r *Reconciler) onProgress(ev channel.Event) {
	if r.isClosed() {
		return
	}
	step := ev.Step
	if step == "" {
		step = ev.CurrentStep
	}

	if step == "retry_completed" {
		r.applyRemainingFailed(ev.Data)
	}

	phase, sub := roadmap.ParseStep(step)
	if phase == roadmap.PhaseUnknown {
		return
	}
	r.mu.Lock()
	r.phase, r.subStatus = phase, sub
	if phase == roadmap.PhaseHumanReview && sub == roadmap.ReviewWaiting {
		r.reviewRequired = true
		if ev.Review != nil {
			r.review = ev.Review
		}
	}
	r.mu.Unlock()
}

// applyRemainingFailed replaces (never merges) local failed stats with the
// backend's authoritative post-retry breakdown.
func (r *Reconciler) applyRemainingFailed(data json.RawMessage) {
	if len(data) == 0 {
		return
	}
	var payload struct {
		RemainingFailed map[string]int `json:"remaining_failed"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.RemainingFailed == nil {
		return
	}
	r.mu.Lock()
	r.stats.Failed = payload.RemainingFailed[string(roadmap.ContentTypeTutorial)]
	r.mu.Unlock()
}

func (r *Reconciler) onConceptStart(ev channel.Event) {
	if r.isClosed() {
		return
	}
	ct := roadmap.ContentType(ev.ContentType)
	r.store.UpdateConceptStatus(ev.ConceptID, ct, roadmap.StatusGenerating)

	// The backend is authoritative on the total; batch sizing can change it.
	if ev.Progress != nil && ev.Progress.Total > 0 && ct == roadmap.ContentTypeTutorial {
		r.mu.Lock()
		r.stats.Total = ev.Progress.Total
		r.mu.Unlock()
	}
}

func (r *Reconciler) onConceptComplete(ev channel.Event) {
	if r.isClosed() {
		return
	}
	ct := roadmap.ContentType(ev.ContentType)
	if _, changed := r.store.UpdateConceptStatus(ev.ConceptID, ct, roadmap.StatusCompleted); changed && ct == roadmap.ContentTypeTutorial {
		r.mu.Lock()
		r.stats.Completed++
		r.mu.Unlock()
	}
}

func (r *Reconciler) onConceptFailed(ev channel.Event) {
	if r.isClosed() {
		return
	}
	ct := roadmap.ContentType(ev.ContentType)
	if _, changed := r.store.UpdateConceptStatus(ev.ConceptID, ct, roadmap.StatusFailed); changed && ct == roadmap.ContentTypeTutorial {
		r.mu.Lock()
		r.stats.Failed++
		r.mu.Unlock()
	}
	if ev.Error != "" {
		r.logger.Warn("concept generation failed",
			"concept_id", ev.ConceptID, "content_type", ev.ContentType, "error", ev.Error)
	}
}

// onBatchComplete refetches the full roadmap. Incremental counters are known
// to drift from backend truth under batching; the refetched tree wins.
func (r *Reconciler) onBatchComplete(channel.Event) {
	if r.isClosed() {
		return
	}
	go r.refetch(context.Background())
}

func (r *Reconciler) onCompleted(ev channel.Event) {
	if r.isClosed() {
		return
	}
	r.mu.Lock()
	r.phase = roadmap.PhaseCompleted
	r.subStatus = ""
	r.live = false
	r.stopPollingLocked()
	if r.roadmapID == "" && ev.RoadmapID != "" {
		r.roadmapID = ev.RoadmapID
	}
	r.mu.Unlock()

	go r.refetch(context.Background())
}

func (r *Reconciler) onFailed(ev channel.Event) {
	if r.isClosed() {
		return
	}
	r.logger.Warn("task failed", "error", ev.Error, "failed_step", ev.FailedStep)
	// The phase is left as-is for the user to inspect.
	r.mu.Lock()
	r.live = false
	r.stopPollingLocked()
	r.mu.Unlock()
}

func (r *Reconciler) onHumanReviewRequired(ev channel.Event) {
	if r.isClosed() {
		return
	}
	r.mu.Lock()
	r.phase = roadmap.PhaseHumanReview
	r.subStatus = roadmap.ReviewWaiting
	r.reviewRequired = true
	if ev.Review != nil {
		r.review = ev.Review
	}
	r.mu.Unlock()
}

// startPollingLocked launches the fallback poll loop. Caller holds r.mu.
func (r *Reconciler) startPollingLocked() {
	if r.polling || r.closed {
		return
	}
	r.polling = true
	stop := make(chan struct{})
	r.pollStop = stop
	go r.pollLoop(stop)
}

// stopPollingLocked clears the poll interval. Caller holds r.mu.
func (r *Reconciler) stopPollingLocked() {
	if r.pollStop != nil {
		close(r.pollStop)
		r.pollStop = nil
	}
	r.polling = false
}

// pollLoop runs the fixed-interval status fetch. A little jitter keeps many
// clients from aligning on the same tick.
func (r *Reconciler) pollLoop(stop chan struct{}) {
	ticker := jitterbug.New(r.pollInterval, &jitterbug.Norm{Stdev: r.pollInterval / 20})
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.pollOnce(context.Background())
		}
	}
}

// pollOnce fetches task status and folds it into local state. Errors are
// logged and swallowed; the next tick tries again.
func (r *Reconciler) pollOnce(ctx context.Context) {
	r.mu.Lock()
	taskID := r.taskID
	r.mu.Unlock()
	if taskID == "" {
		return
	}

	r.metrics.RecordPoll()
	start := time.Now()
	task, err := r.api.GetTaskStatus(ctx, taskID)
	r.metrics.RecordRequest(metrics.OpTaskStatus, time.Since(start), err)
	if err != nil {
		r.logger.Debug("poll failed", "error", err)
		return
	}
	r.applyTaskStatus(ctx, task)
}

func (r *Reconciler) applyTaskStatus(ctx context.Context, task *roadmap.Task) {
	r.mu.Lock()
	// A poll result that lands after polling stopped (terminal event won the
	// race) must not regress the phase.
	if r.closed || !r.polling {
		r.mu.Unlock()
		return
	}
	if phase, sub := roadmap.ParseStep(task.CurrentStep); phase != roadmap.PhaseUnknown {
		r.phase, r.subStatus = phase, sub
		if phase == roadmap.PhaseHumanReview && sub == roadmap.ReviewWaiting {
			r.reviewRequired = true
		}
	}

	if task.Status.Terminal() {
		r.phase = roadmap.PhaseCompleted
		r.subStatus = ""
		r.live = false
		r.stopPollingLocked()
		if r.roadmapID == "" && task.RoadmapID != "" {
			r.roadmapID = task.RoadmapID
		}
		r.mu.Unlock()
		r.refetch(ctx)
		return
	}

	// The task produced a roadmap we have not loaded yet.
	needsFetch := !r.store.Loaded() && task.RoadmapID != ""
	if needsFetch && r.roadmapID == "" {
		r.roadmapID = task.RoadmapID
	}
	r.mu.Unlock()

	if needsFetch {
		r.refetch(ctx)
	}
}

// refetch pulls the full tree and rebaselines the stats from it. Refetched
// truth wins over incremental counters on conflict.
func (r *Reconciler) refetch(ctx context.Context) {
	r.mu.Lock()
	roadmapID := r.roadmapID
	closed := r.closed
	r.mu.Unlock()
	if roadmapID == "" || closed {
		return
	}

	r.metrics.RecordRefetch()
	start := time.Now()
	rm, err := r.api.GetRoadmap(ctx, roadmapID)
	r.metrics.RecordRequest(metrics.OpGetRoadmap, time.Since(start), err)
	if err != nil {
		r.logger.Warn("roadmap refetch failed", "roadmap_id", roadmapID, "error", err)
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.store.SetRoadmap(rm)
	r.mu.Lock()
	r.stats = roadmap.ComputeStats(rm)
	r.mu.Unlock()
}

func (r *Reconciler) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
