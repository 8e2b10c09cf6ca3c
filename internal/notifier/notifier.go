// Package notifier fans alert transitions out to a project's
// notification channels. Delivery is at-least-once: a Redis dedup key
// fences concurrent instances, and a failed fan-out leaves the cooldown
// clock untouched so the next eligible tick retries.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/spanlight/spanlight/internal/metrics"
	"github.com/spanlight/spanlight/internal/models"
	"github.com/spanlight/spanlight/internal/storage"
)

// Sender delivers one notification over a single channel type.
type Sender interface {
	// Type returns the channel type this sender handles.
	Type() models.ChannelType
	// Send delivers the notification using the channel's decrypted
	// settings.
	Send(ctx context.Context, cfg models.ChannelConfig, alert *models.Alert, trigger *models.AlertTrigger) error
}

// ErrRateLimited is returned when a dispatch is dropped by the rate limiter.
var ErrRateLimited = fmt.Errorf("notification rate limited")

// Dispatcher resolves an alert's channels, applies dedup, rate
// limiting, and route expressions, and hands deliveries to the
// per-type senders.
type Dispatcher struct {
	channels storage.ChannelRepository
	deduper  Deduper
	limiter  *RateLimiter

	mu      sync.RWMutex
	senders map[models.ChannelType]Sender
	routes  map[string]*RouteMatcher
}

// Options configures a Dispatcher.
type Options struct {
	// RateLimit bounds dispatches across all alerts. Zero value means
	// DefaultRateLimitConfig.
	RateLimit RateLimitConfig

	// Deduper fences duplicate notifications across instances. Nil
	// means NoopDeduper (single-instance deployments).
	Deduper Deduper
}

// NewDispatcher creates a dispatcher with the webhook, slack, and log
// senders registered.
func NewDispatcher(channels storage.ChannelRepository, opts Options) *Dispatcher {
	if opts.Deduper == nil {
		opts.Deduper = NoopDeduper{}
	}
	if opts.RateLimit == (RateLimitConfig{}) {
		opts.RateLimit = DefaultRateLimitConfig()
	}

	d := &Dispatcher{
		channels: channels,
		deduper:  opts.Deduper,
		limiter:  NewRateLimiter(opts.RateLimit),
		senders:  make(map[models.ChannelType]Sender),
		routes:   make(map[string]*RouteMatcher),
	}
	d.Register(NewWebhookSender())
	d.Register(NewSlackSender())
	d.Register(NewLogSender())
	return d
}

// Register adds a sender, replacing any existing sender for its type.
func (d *Dispatcher) Register(s Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders[s.Type()] = s
}

// Dispatch delivers one alert transition to every matching channel and
// returns how many channels accepted it. Partial failures are logged
// and do not fail the dispatch; an error is returned only when nothing
// was delivered, so the caller keeps the cooldown clock untouched and
// retries on the next eligible tick.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *models.Alert, trigger *models.AlertTrigger) (int, error) {
	targets, err := d.resolveChannels(ctx, alert)
	if err != nil {
		return 0, err
	}
	if len(targets) == 0 {
		log.Printf("notifier: alert %s (%s) has no enabled channels, nothing to deliver", alert.Name, alert.ID)
		return 0, nil
	}

	// Claim the dedup slot before delivering so concurrent instances
	// racing the same transition send at most once per cooldown bucket.
	key := dedupKey(alert, trigger)
	owned := false
	acquired, err := d.deduper.Acquire(ctx, key, alert.CooldownDuration())
	switch {
	case err != nil:
		// A dedup store outage must not drop alerts. Deliver and
		// accept the duplicate risk.
		log.Printf("notifier: dedup acquire %s: %v", key, err)
	case !acquired:
		metrics.NotificationsTotal.WithLabelValues("duplicate").Inc()
		log.Printf("notifier: alert %s (%s) %s already notified by another instance, skipping", alert.Name, alert.ID, trigger.State)
		return 0, nil
	default:
		owned = true
	}

	if !d.limiter.Allow() {
		if owned {
			d.releaseKey(ctx, key)
		}
		metrics.NotificationsTotal.WithLabelValues("suppressed").Inc()
		log.Printf("notifier: alert %s (%s) dispatch dropped by rate limiter", alert.Name, alert.ID)
		return 0, ErrRateLimited
	}

	sent := 0
	var errs []error
	for _, ch := range targets {
		ok, err := d.routeAllows(ch, alert, trigger)
		if err != nil {
			log.Printf("notifier: channel %s (%s) route %q: %v", ch.Name, ch.ID, ch.RouteExpr, err)
			continue
		}
		if !ok {
			continue
		}
		if err := d.deliver(ctx, ch, alert, trigger); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name, err))
			log.Printf("notifier: channel %s (%s) delivery failed: %v", ch.Name, ch.ID, err)
			continue
		}
		sent++
	}

	if sent == 0 {
		if len(errs) == 0 {
			log.Printf("notifier: alert %s (%s) matched no channel routes", alert.Name, alert.ID)
			return 0, nil
		}
		// Nothing went out. Refund the limiter slot and the dedup key
		// so the retry is neither rate limited nor deduplicated.
		d.limiter.Release()
		if owned {
			d.releaseKey(ctx, key)
		}
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		return 0, fmt.Errorf("all %d deliveries failed: %v", len(errs), errs)
	}

	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	if len(errs) > 0 {
		log.Printf("notifier: alert %s (%s) delivered to %d of %d channels", alert.Name, alert.ID, sent, sent+len(errs))
	}
	return sent, nil
}

// resolveChannels loads the alert's channel list, falling back to every
// channel of the project when the alert names none. Disabled channels
// are dropped.
func (d *Dispatcher) resolveChannels(ctx context.Context, alert *models.Alert) ([]*models.NotificationChannel, error) {
	var (
		channels []*models.NotificationChannel
		err      error
	)
	if len(alert.Notify) > 0 {
		channels, err = d.channels.GetByIDs(ctx, alert.Notify)
	} else {
		channels, err = d.channels.ListByProject(ctx, alert.ProjectID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve channels for alert %s: %w", alert.ID, err)
	}

	enabled := make([]*models.NotificationChannel, 0, len(channels))
	for _, ch := range channels {
		if ch.Enabled {
			enabled = append(enabled, ch)
		}
	}
	return enabled, nil
}

// routeAllows evaluates the channel's route expression. Channels
// without an expression accept everything.
func (d *Dispatcher) routeAllows(ch *models.NotificationChannel, alert *models.Alert, trigger *models.AlertTrigger) (bool, error) {
	if ch.RouteExpr == "" {
		return true, nil
	}
	m, err := d.matcher(ch.RouteExpr)
	if err != nil {
		return false, err
	}
	return m.Match(alert, trigger)
}

// matcher returns a compiled route expression, compiling and caching it
// on first use.
func (d *Dispatcher) matcher(expression string) (*RouteMatcher, error) {
	d.mu.RLock()
	m, ok := d.routes[expression]
	d.mu.RUnlock()
	if ok {
		return m, nil
	}

	m, err := NewRouteMatcher(expression)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.routes[expression] = m
	d.mu.Unlock()
	return m, nil
}

func (d *Dispatcher) deliver(ctx context.Context, ch *models.NotificationChannel, alert *models.Alert, trigger *models.AlertTrigger) error {
	d.mu.RLock()
	sender, ok := d.senders[ch.Type]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no sender registered for channel type %s", ch.Type)
	}

	cfg, err := d.channelConfig(ch)
	if err != nil {
		return err
	}
	return sender.Send(ctx, cfg, alert, trigger)
}

// channelConfig decrypts and parses the channel settings blob.
func (d *Dispatcher) channelConfig(ch *models.NotificationChannel) (models.ChannelConfig, error) {
	var cfg models.ChannelConfig
	if len(ch.ConfigEncrypted) == 0 {
		return cfg, nil
	}

	plaintext, err := d.channels.DecryptConfig(ch.ConfigEncrypted)
	if err != nil {
		return cfg, fmt.Errorf("decrypt channel config: %w", err)
	}
	if err := json.Unmarshal(plaintext, &cfg); err != nil {
		return cfg, fmt.Errorf("parse channel config: %w", err)
	}
	return cfg, nil
}

func (d *Dispatcher) releaseKey(ctx context.Context, key string) {
	if err := d.deduper.Release(ctx, key); err != nil {
		log.Printf("notifier: dedup release %s: %v", key, err)
	}
}

// RateLimitStats returns the rate limiter statistics.
func (d *Dispatcher) RateLimitStats() RateLimitStats {
	return d.limiter.Stats()
}

// Close releases the deduper's resources.
func (d *Dispatcher) Close() error {
	return d.deduper.Close()
}
