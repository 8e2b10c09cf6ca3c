package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/spanlight/spanlight/internal/models"
)

type fakeChannelRepo struct {
	byID      map[string]*models.NotificationChannel
	byProject map[string][]*models.NotificationChannel
	err       error

	gotIDs     []string
	gotProject string
}

func (f *fakeChannelRepo) Create(ctx context.Context, ch *models.NotificationChannel) error {
	return nil
}
func (f *fakeChannelRepo) GetByID(ctx context.Context, id string) (*models.NotificationChannel, error) {
	return f.byID[id], f.err
}
func (f *fakeChannelRepo) Update(ctx context.Context, ch *models.NotificationChannel) error {
	return nil
}
func (f *fakeChannelRepo) Delete(ctx context.Context, id string) error { return nil }
func (f *fakeChannelRepo) ListByProject(ctx context.Context, projectID string) ([]*models.NotificationChannel, error) {
	f.gotProject = projectID
	if f.err != nil {
		return nil, f.err
	}
	return f.byProject[projectID], nil
}
func (f *fakeChannelRepo) GetByIDs(ctx context.Context, ids []string) ([]*models.NotificationChannel, error) {
	f.gotIDs = ids
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*models.NotificationChannel, 0, len(ids))
	for _, id := range ids {
		if ch, ok := f.byID[id]; ok {
			out = append(out, ch)
		}
	}
	return out, nil
}
func (f *fakeChannelRepo) EncryptConfig(plaintext []byte) ([]byte, error) { return plaintext, nil }
func (f *fakeChannelRepo) DecryptConfig(encrypted []byte) ([]byte, error) {
	return encrypted, nil
}

type fakeSender struct {
	typ models.ChannelType
	err error

	calls   int
	gotCfg  models.ChannelConfig
	gotName string
}

func (f *fakeSender) Type() models.ChannelType { return f.typ }
func (f *fakeSender) Send(ctx context.Context, cfg models.ChannelConfig, alert *models.Alert, trigger *models.AlertTrigger) error {
	f.calls++
	f.gotCfg = cfg
	f.gotName = alert.Name
	return f.err
}

type fakeDeduper struct {
	allow bool
	err   error

	acquired []string
	released []string
	gotTTL   time.Duration
}

func (f *fakeDeduper) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	f.acquired = append(f.acquired, key)
	f.gotTTL = ttl
	return f.allow, f.err
}
func (f *fakeDeduper) Release(ctx context.Context, key string) error {
	f.released = append(f.released, key)
	return nil
}
func (f *fakeDeduper) Close() error { return nil }

func webhookChannel(id, projectID string, enabled bool) *models.NotificationChannel {
	return &models.NotificationChannel{
		ID:              id,
		ProjectID:       projectID,
		Name:            "chan-" + id,
		Type:            models.ChannelTypeWebhook,
		ConfigEncrypted: []byte(fmt.Sprintf(`{"url": "https://hooks.example.com/%s"}`, id)),
		Enabled:         enabled,
	}
}

func firingAlert(notify ...string) *models.Alert {
	return &models.Alert{
		ID:         "alert-1",
		ProjectID:  "proj-1",
		Name:       "high error rate",
		Type:       models.AlertTypeErrorRate,
		Operator:   models.OperatorGreaterThan,
		Threshold:  5,
		WindowMins: 5,
		Severity:   models.SeverityHigh,
		Notify:     notify,
		Enabled:    true,
		State:      models.StateFiring,
	}
}

func firingTrigger(alert *models.Alert) *models.AlertTrigger {
	return &models.AlertTrigger{
		ID:          "trigger-1",
		AlertID:     alert.ID,
		AlertName:   alert.Name,
		ProjectID:   alert.ProjectID,
		State:       models.StateFiring,
		Severity:    alert.Severity,
		Value:       12.5,
		Threshold:   alert.Threshold,
		TriggeredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// testDispatcher wires a dispatcher with fakes and replaces the webhook
// sender so no HTTP happens.
func testDispatcher(repo *fakeChannelRepo, deduper Deduper, sender *fakeSender) *Dispatcher {
	if deduper == nil {
		deduper = &fakeDeduper{allow: true}
	}
	d := NewDispatcher(repo, Options{Deduper: deduper})
	d.Register(sender)
	return d
}

func TestDispatch_FansOutToNamedChannels(t *testing.T) {
	repo := &fakeChannelRepo{byID: map[string]*models.NotificationChannel{
		"c1": webhookChannel("c1", "proj-1", true),
		"c2": webhookChannel("c2", "proj-1", true),
	}}
	sender := &fakeSender{typ: models.ChannelTypeWebhook}
	deduper := &fakeDeduper{allow: true}
	d := testDispatcher(repo, deduper, sender)

	alert := firingAlert("c1", "c2")
	count, err := d.Dispatch(context.Background(), alert, firingTrigger(alert))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if sender.calls != 2 {
		t.Errorf("sender calls = %d, want 2", sender.calls)
	}
	if len(repo.gotIDs) != 2 || repo.gotIDs[0] != "c1" {
		t.Errorf("resolved ids = %v, want the alert's notify list", repo.gotIDs)
	}
	if !strings.HasPrefix(sender.gotCfg.URL, "https://hooks.example.com/") {
		t.Errorf("sender got config %+v, want decrypted URL", sender.gotCfg)
	}
	if deduper.gotTTL != alert.CooldownDuration() {
		t.Errorf("dedup TTL = %v, want cooldown %v", deduper.gotTTL, alert.CooldownDuration())
	}
}

func TestDispatch_FallsBackToProjectChannels(t *testing.T) {
	repo := &fakeChannelRepo{byProject: map[string][]*models.NotificationChannel{
		"proj-1": {
			webhookChannel("c1", "proj-1", true),
			webhookChannel("c2", "proj-1", false), // disabled, must be skipped
		},
	}}
	sender := &fakeSender{typ: models.ChannelTypeWebhook}
	d := testDispatcher(repo, nil, sender)

	alert := firingAlert() // no explicit channels
	count, err := d.Dispatch(context.Background(), alert, firingTrigger(alert))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if repo.gotProject != "proj-1" {
		t.Errorf("project lookup = %q, want proj-1", repo.gotProject)
	}
	if count != 1 || sender.calls != 1 {
		t.Errorf("count = %d calls = %d, want 1/1 with disabled channel skipped", count, sender.calls)
	}
}

func TestDispatch_NoChannelsIsNotAnError(t *testing.T) {
	repo := &fakeChannelRepo{}
	deduper := &fakeDeduper{allow: true}
	sender := &fakeSender{typ: models.ChannelTypeWebhook}
	d := testDispatcher(repo, deduper, sender)

	alert := firingAlert()
	count, err := d.Dispatch(context.Background(), alert, firingTrigger(alert))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
	if len(deduper.acquired) != 0 {
		t.Error("dedup key must not be claimed when there is nothing to deliver")
	}
}

func TestDispatch_RouteFiltering(t *testing.T) {
	critical := webhookChannel("c1", "proj-1", true)
	critical.RouteExpr = `severity == "critical"`
	firing := webhookChannel("c2", "proj-1", true)
	firing.RouteExpr = `severity == "high" && state == "firing"`

	repo := &fakeChannelRepo{byID: map[string]*models.NotificationChannel{
		"c1": critical,
		"c2": firing,
	}}
	sender := &fakeSender{typ: models.ChannelTypeWebhook}
	d := testDispatcher(repo, nil, sender)

	alert := firingAlert("c1", "c2") // severity HIGH
	count, err := d.Dispatch(context.Background(), alert, firingTrigger(alert))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if count != 1 || sender.calls != 1 {
		t.Errorf("count = %d calls = %d, want only the matching route delivered", count, sender.calls)
	}
}

func TestDispatch_BadRouteSkipsChannel(t *testing.T) {
	broken := webhookChannel("c1", "proj-1", true)
	broken.RouteExpr = `severity ==` // does not compile
	good := webhookChannel("c2", "proj-1", true)

	repo := &fakeChannelRepo{byID: map[string]*models.NotificationChannel{
		"c1": broken,
		"c2": good,
	}}
	sender := &fakeSender{typ: models.ChannelTypeWebhook}
	d := testDispatcher(repo, nil, sender)

	alert := firingAlert("c1", "c2")
	count, err := d.Dispatch(context.Background(), alert, firingTrigger(alert))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 with the broken route skipped", count)
	}
}

func TestDispatch_DuplicateSuppressed(t *testing.T) {
	repo := &fakeChannelRepo{byID: map[string]*models.NotificationChannel{
		"c1": webhookChannel("c1", "proj-1", true),
	}}
	sender := &fakeSender{typ: models.ChannelTypeWebhook}
	deduper := &fakeDeduper{allow: false} // another instance won the key
	d := testDispatcher(repo, deduper, sender)

	alert := firingAlert("c1")
	count, err := d.Dispatch(context.Background(), alert, firingTrigger(alert))
	if err != nil {
		t.Fatalf("duplicate must not be an error: %v", err)
	}
	if count != 0 || sender.calls != 0 {
		t.Errorf("count = %d calls = %d, want nothing delivered", count, sender.calls)
	}
}

func TestDispatch_DeduperOutageDeliversAnyway(t *testing.T) {
	repo := &fakeChannelRepo{byID: map[string]*models.NotificationChannel{
		"c1": webhookChannel("c1", "proj-1", true),
	}}
	sender := &fakeSender{typ: models.ChannelTypeWebhook}
	deduper := &fakeDeduper{err: errors.New("redis down")}
	d := testDispatcher(repo, deduper, sender)

	alert := firingAlert("c1")
	count, err := d.Dispatch(context.Background(), alert, firingTrigger(alert))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 delivered despite dedup outage", count)
	}
}

func TestDispatch_AllFailuresReleaseDedupKey(t *testing.T) {
	repo := &fakeChannelRepo{byID: map[string]*models.NotificationChannel{
		"c1": webhookChannel("c1", "proj-1", true),
	}}
	sender := &fakeSender{typ: models.ChannelTypeWebhook, err: errors.New("endpoint 500")}
	deduper := &fakeDeduper{allow: true}
	d := testDispatcher(repo, deduper, sender)

	alert := firingAlert("c1")
	count, err := d.Dispatch(context.Background(), alert, firingTrigger(alert))
	if err == nil {
		t.Fatal("expected error when every delivery fails")
	}
	if !strings.Contains(err.Error(), "endpoint 500") {
		t.Errorf("error = %v, want the delivery cause", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
	if len(deduper.released) != 1 {
		t.Errorf("released keys = %v, want the claimed key refunded for retry", deduper.released)
	}
	if got := d.RateLimitStats().CurrentCount; got != 0 {
		t.Errorf("limiter slots in use = %d, want 0 after refund", got)
	}
}

func TestDispatch_PartialFailureStillCounts(t *testing.T) {
	repo := &fakeChannelRepo{byID: map[string]*models.NotificationChannel{
		"c1": webhookChannel("c1", "proj-1", true),
		"c2": {
			ID: "c2", ProjectID: "proj-1", Name: "chan-c2",
			Type: models.ChannelTypeLog, Enabled: true,
		},
	}}
	failing := &fakeSender{typ: models.ChannelTypeWebhook, err: errors.New("timeout")}
	working := &fakeSender{typ: models.ChannelTypeLog}
	deduper := &fakeDeduper{allow: true}

	d := NewDispatcher(repo, Options{Deduper: deduper})
	d.Register(failing)
	d.Register(working)

	alert := firingAlert("c1", "c2")
	count, err := d.Dispatch(context.Background(), alert, firingTrigger(alert))
	if err != nil {
		t.Fatalf("partial failure must not fail the dispatch: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if len(deduper.released) != 0 {
		t.Errorf("released = %v, want key kept after a successful delivery", deduper.released)
	}
}

func TestDispatch_RateLimited(t *testing.T) {
	repo := &fakeChannelRepo{byID: map[string]*models.NotificationChannel{
		"c1": webhookChannel("c1", "proj-1", true),
	}}
	sender := &fakeSender{typ: models.ChannelTypeWebhook}
	deduper := &fakeDeduper{allow: true}

	d := NewDispatcher(repo, Options{
		Deduper:   deduper,
		RateLimit: RateLimitConfig{MaxPerWindow: 1, Window: time.Minute, Enabled: true},
	})
	d.Register(sender)

	alert := firingAlert("c1")
	trigger := firingTrigger(alert)

	if _, err := d.Dispatch(context.Background(), alert, trigger); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}

	count, err := d.Dispatch(context.Background(), alert, trigger)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if count != 0 || sender.calls != 1 {
		t.Errorf("count = %d calls = %d, want the second dispatch dropped", count, sender.calls)
	}
	if len(deduper.released) != 1 {
		t.Errorf("released = %v, want the second key refunded", deduper.released)
	}
}

func TestDispatch_UnknownChannelType(t *testing.T) {
	repo := &fakeChannelRepo{byID: map[string]*models.NotificationChannel{
		"c1": {
			ID: "c1", ProjectID: "proj-1", Name: "pager",
			Type: models.ChannelType("pagerduty"), Enabled: true,
		},
	}}
	d := testDispatcher(repo, nil, &fakeSender{typ: models.ChannelTypeWebhook})

	alert := firingAlert("c1")
	_, err := d.Dispatch(context.Background(), alert, firingTrigger(alert))
	if err == nil {
		t.Fatal("expected error for unregistered channel type")
	}
	if !strings.Contains(err.Error(), "no sender registered") {
		t.Errorf("error = %v", err)
	}
}

func TestDispatch_ChannelLookupErrorPropagates(t *testing.T) {
	repo := &fakeChannelRepo{err: errors.New("sqlite locked")}
	d := testDispatcher(repo, nil, &fakeSender{typ: models.ChannelTypeWebhook})

	alert := firingAlert("c1")
	_, err := d.Dispatch(context.Background(), alert, firingTrigger(alert))
	if err == nil || !strings.Contains(err.Error(), "sqlite locked") {
		t.Errorf("error = %v, want wrapped lookup failure", err)
	}
}
