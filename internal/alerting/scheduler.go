package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/spanlight/spanlight/internal/metrics"
	"github.com/spanlight/spanlight/internal/models"
	"github.com/spanlight/spanlight/internal/storage"
)

// Dispatcher fans one notifying transition out to the alert's
// channels. It returns how many channels accepted the notification.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert *models.Alert, trigger *models.AlertTrigger) (int, error)
}

// Analyzer runs the trace window analysis for a fired alert.
type Analyzer interface {
	Analyze(ctx context.Context, in models.TraceAnalysisInput) (*models.TraceAnalysisOutput, error)
}

// Correlator ranks recent code changes against the analysis output.
type Correlator interface {
	Correlate(ctx context.Context, in models.CorrelationInput) (*models.CodeCorrelationOutput, error)
}

// LoopConfig configures the evaluation loop.
type LoopConfig struct {
	// Interval is the per-alert evaluation tick.
	Interval time.Duration

	// Refresh is how often the alert set is reloaded from storage.
	Refresh time.Duration

	// MetricTimeout bounds one metric read so a slow span store cannot
	// stall a tick indefinitely.
	MetricTimeout time.Duration

	// DispatchTimeout bounds one notification fan-out.
	DispatchTimeout time.Duration

	// InvestigateTimeout bounds one analyzer + correlator run.
	InvestigateTimeout time.Duration

	// MaxInvestigations caps concurrently running investigations;
	// excess firings skip investigation rather than queue unboundedly.
	MaxInvestigations int

	Verbose bool
}

// SetDefaults fills zero values with defaults.
func (c *LoopConfig) SetDefaults() {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.Refresh <= 0 {
		c.Refresh = 30 * time.Second
	}
	if c.MetricTimeout <= 0 {
		c.MetricTimeout = 10 * time.Second
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 10 * time.Second
	}
	if c.InvestigateTimeout <= 0 {
		c.InvestigateTimeout = 2 * time.Minute
	}
	if c.MaxInvestigations <= 0 {
		c.MaxInvestigations = 2
	}
}

// Loop runs one independent, periodically-ticking evaluation task per
// alert. Alerts share nothing beyond the database; the Writer
// serializes state mutation per alert id. Stopping the context stops
// every task at its next tick boundary.
type Loop struct {
	cfg        LoopConfig
	store      storage.Storage
	evaluator  *Evaluator
	writer     *Writer
	dispatcher Dispatcher
	analyzer   Analyzer
	correlator Correlator

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup

	// investigations run detached from the firing tick, bounded by
	// MaxInvestigations.
	investigations errgroup.Group
}

// NewLoop creates the evaluation loop. Analyzer and correlator may be
// nil, which disables investigations but not alerting.
func NewLoop(cfg LoopConfig, store storage.Storage, evaluator *Evaluator, writer *Writer, dispatcher Dispatcher, analyzer Analyzer, correlator Correlator) *Loop {
	cfg.SetDefaults()
	l := &Loop{
		cfg:        cfg,
		store:      store,
		evaluator:  evaluator,
		writer:     writer,
		dispatcher: dispatcher,
		analyzer:   analyzer,
		correlator: correlator,
		running:    make(map[string]context.CancelFunc),
	}
	l.investigations.SetLimit(cfg.MaxInvestigations)
	return l
}

// Run starts per-alert tasks and keeps the alert set fresh until the
// context is cancelled. Returns nil on graceful stop.
func (l *Loop) Run(ctx context.Context) error {
	log.Printf("alerting: evaluation loop starting (interval %s, refresh %s)", l.cfg.Interval, l.cfg.Refresh)

	l.refresh(ctx)

	ticker := time.NewTicker(l.cfg.Refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.stopAll()
			l.wg.Wait()
			if err := l.investigations.Wait(); err != nil {
				log.Printf("alerting: investigation error during shutdown: %v", err)
			}
			log.Printf("alerting: evaluation loop stopped")
			return nil
		case <-ticker.C:
			l.refresh(ctx)
		}
	}
}

// refresh reconciles running tasks with the stored alert set: new
// alerts get a task, deleted alerts lose theirs. Disabled alerts keep
// their task so the next tick can force them INACTIVE.
func (l *Loop) refresh(ctx context.Context) {
	alerts, err := l.store.Alerts().List(ctx)
	if err != nil {
		log.Printf("alerting: refresh failed, keeping current alert set: %v", err)
		return
	}

	want := make(map[string]bool, len(alerts))
	for _, a := range alerts {
		want[a.ID] = true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for id, cancel := range l.running {
		if !want[id] {
			cancel()
			delete(l.running, id)
			l.writer.Forget(id)
			if l.cfg.Verbose {
				log.Printf("alerting: stopped task for deleted alert %s", id)
			}
		}
	}

	for _, a := range alerts {
		if _, ok := l.running[a.ID]; ok {
			continue
		}
		taskCtx, cancel := context.WithCancel(ctx)
		l.running[a.ID] = cancel
		l.wg.Add(1)
		go l.runAlert(taskCtx, a.ID)
		if l.cfg.Verbose {
			log.Printf("alerting: started task for alert %s (%s)", a.ID, a.Name)
		}
	}
}

func (l *Loop) stopAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, cancel := range l.running {
		cancel()
		delete(l.running, id)
	}
}

// runAlert is one alert's evaluation task. Each tick re-reads the
// alert row so management edits (threshold, window, disable) take
// effect without restarting the task.
func (l *Loop) runAlert(ctx context.Context, id string) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.tick(ctx, id)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx, id)
		}
	}
}

func (l *Loop) tick(ctx context.Context, id string) {
	alert, err := l.store.Alerts().GetByID(ctx, id)
	if err != nil {
		log.Printf("alerting: read alert %s: %v", id, err)
		return
	}
	if alert == nil {
		// Deleted between refreshes; the next refresh reaps the task.
		return
	}
	l.evaluateOne(ctx, alert, time.Now())
}

// evaluateOne runs one tick for one alert: evaluate, transition,
// notify, and on a fresh firing launch the investigation.
func (l *Loop) evaluateOne(ctx context.Context, alert *models.Alert, now time.Time) {
	if !alert.Enabled {
		// Skipped entirely, but a lingering non-INACTIVE state is
		// forced down so nothing drifts while disabled.
		t, err := l.writer.Apply(ctx, alert, false, now)
		if err != nil {
			l.logApplyError(alert, err)
			return
		}
		if t.Changed {
			metrics.TransitionsTotal.WithLabelValues(string(t.From), string(t.To)).Inc()
			log.Printf("alerting: alert %s (%s) disabled, forced %s -> INACTIVE", alert.Name, alert.ID, t.From)
		}
		return
	}

	evalCtx, cancel := context.WithTimeout(ctx, l.cfg.MetricTimeout)
	res, err := l.evaluator.EvaluateAt(evalCtx, alert, now)
	cancel()
	if err != nil {
		// Transient dependency failure: skip the cycle, state
		// unchanged, retry next tick. Not "condition not met".
		metrics.EvaluationsTotal.WithLabelValues("error").Inc()
		log.Printf("alerting: evaluation skipped for alert %s (%s): %v", alert.Name, alert.ID, err)
		return
	}

	switch {
	case res.NoData():
		metrics.EvaluationsTotal.WithLabelValues("no_data").Inc()
	case res.ConditionMet:
		metrics.EvaluationsTotal.WithLabelValues("condition_met").Inc()
	default:
		metrics.EvaluationsTotal.WithLabelValues("condition_not_met").Inc()
	}

	t, err := l.writer.Apply(ctx, alert, res.ConditionMet, now)
	if err != nil {
		l.logApplyError(alert, err)
		return
	}

	if t.Changed {
		metrics.TransitionsTotal.WithLabelValues(string(t.From), string(t.To)).Inc()
		log.Printf("alerting: alert %s (%s) %s -> %s (value=%.4f threshold=%.4f samples=%d)",
			alert.Name, alert.ID, t.From, t.To, res.Value, res.Threshold, res.SampleCount)
	} else if l.cfg.Verbose {
		log.Printf("alerting: alert %s (%s) stays %s (value=%.4f samples=%d)",
			alert.Name, alert.ID, alert.State, res.Value, res.SampleCount)
	}

	if !t.ShouldNotify {
		return
	}

	trigger := l.notify(ctx, alert, t, res, now)

	// Investigations run only for fresh firings, not re-notifies or
	// resolutions.
	if trigger != nil && t.Changed && t.To == models.StateFiring {
		l.launchInvestigation(ctx, alert, trigger, res)
	}
}

func (l *Loop) logApplyError(alert *models.Alert, err error) {
	if errors.Is(err, storage.ErrStateConflict) {
		metrics.TransitionConflicts.Inc()
		log.Printf("alerting: alert %s (%s) transition lost to a concurrent writer, retrying next tick", alert.Name, alert.ID)
		return
	}
	log.Printf("alerting: alert %s (%s) transition failed: %v", alert.Name, alert.ID, err)
}

// notify dispatches the transition and persists the trigger record.
// Dispatch failure never rolls the transition back; it is logged and
// the cooldown clock stays put so an eligible later tick retries.
func (l *Loop) notify(ctx context.Context, alert *models.Alert, t Transition, res Result, now time.Time) *models.AlertTrigger {
	trigger := &models.AlertTrigger{
		ID:          uuid.New().String(),
		AlertID:     alert.ID,
		AlertName:   alert.Name,
		ProjectID:   alert.ProjectID,
		State:       t.To,
		Severity:    alert.Severity,
		Value:       res.Value,
		Threshold:   res.Threshold,
		TriggeredAt: now,
		CreatedAt:   now,
	}

	delivered := true
	if l.dispatcher != nil {
		dispatchCtx, cancel := context.WithTimeout(ctx, l.cfg.DispatchTimeout)
		count, err := l.dispatcher.Dispatch(dispatchCtx, alert, trigger)
		cancel()
		trigger.ChannelCount = count
		if err != nil {
			// State stays committed; the cooldown clock does not
			// advance, so the next eligible tick retries.
			delivered = false
			log.Printf("alerting: notification for alert %s (%s) failed after %d channels: %v", alert.Name, alert.ID, count, err)
		}
	}
	if delivered {
		if err := l.writer.MarkNotified(ctx, alert, now); err != nil {
			log.Printf("alerting: %v", err)
		}
	}

	if err := l.store.Triggers().Create(ctx, trigger); err != nil {
		log.Printf("alerting: persist trigger for alert %s (%s): %v", alert.Name, alert.ID, err)
		return nil
	}
	return trigger
}

// launchInvestigation runs analyzer + correlator detached from the
// firing tick. At the concurrency cap the investigation is skipped,
// not queued; the trigger record still exists without attachments.
func (l *Loop) launchInvestigation(ctx context.Context, alert *models.Alert, trigger *models.AlertTrigger, res Result) {
	if l.analyzer == nil || l.correlator == nil {
		return
	}

	// Copy what the goroutine needs; the tick's alert pointer is
	// mutated by later ticks.
	in := models.TraceAnalysisInput{
		ProjectID:   alert.ProjectID,
		AlertType:   alert.Type,
		AlertValue:  res.Value,
		Threshold:   res.Threshold,
		WindowStart: res.WindowStart,
		WindowEnd:   res.WindowEnd,
	}
	name, triggerID, firedAt := alert.Name, trigger.ID, trigger.TriggeredAt

	started := l.investigations.TryGo(func() error {
		invCtx, cancel := context.WithTimeout(ctx, l.cfg.InvestigateTimeout)
		defer cancel()
		l.investigate(invCtx, name, triggerID, in, firedAt)
		return nil
	})
	if !started {
		metrics.InvestigationsTotal.WithLabelValues("skipped").Inc()
		log.Printf("alerting: investigation for alert %s skipped, %d already running", name, l.cfg.MaxInvestigations)
	}
}

func (l *Loop) investigate(ctx context.Context, alertName, triggerID string, in models.TraceAnalysisInput, firedAt time.Time) {
	start := time.Now()

	analysis, err := l.analyzer.Analyze(ctx, in)
	if err != nil {
		metrics.InvestigationsTotal.WithLabelValues("failed").Inc()
		log.Printf("alerting: investigation for alert %s: analysis failed: %v", alertName, err)
		return
	}

	correlation, err := l.correlator.Correlate(ctx, models.CorrelationInput{
		ProjectID:        in.ProjectID,
		Analysis:         analysis,
		AlertTriggeredAt: firedAt,
	})
	if err != nil {
		// Analysis alone is still worth attaching.
		log.Printf("alerting: investigation for alert %s: correlation failed: %v", alertName, err)
		correlation = models.EmptyCorrelation()
	}

	analysisJSON, err := marshalJSON(analysis)
	if err != nil {
		metrics.InvestigationsTotal.WithLabelValues("failed").Inc()
		log.Printf("alerting: investigation for alert %s: encode analysis: %v", alertName, err)
		return
	}
	correlationJSON, err := marshalJSON(correlation)
	if err != nil {
		metrics.InvestigationsTotal.WithLabelValues("failed").Inc()
		log.Printf("alerting: investigation for alert %s: encode correlation: %v", alertName, err)
		return
	}

	if err := l.store.Triggers().AttachInvestigation(ctx, triggerID, analysisJSON, correlationJSON); err != nil {
		metrics.InvestigationsTotal.WithLabelValues("failed").Inc()
		log.Printf("alerting: investigation for alert %s: attach to trigger %s: %v", alertName, triggerID, err)
		return
	}

	metrics.InvestigationsTotal.WithLabelValues("completed").Inc()
	metrics.InvestigationDuration.Observe(time.Since(start).Seconds())
	log.Printf("alerting: investigation for alert %s completed in %s (%d patterns, %d suspect commits, %d suspect PRs)",
		alertName, time.Since(start).Round(time.Millisecond),
		len(analysis.ErrorPatterns), len(correlation.SuspectedCommits), len(correlation.SuspectedPRs))
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
