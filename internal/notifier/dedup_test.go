package notifier

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spanlight/spanlight/internal/models"
)

func TestDedupKey_SameBucketSameKey(t *testing.T) {
	alert := firingAlert("c1") // severity HIGH, cooldown default 15m
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := firingTrigger(alert)
	first.TriggeredAt = base
	second := firingTrigger(alert)
	second.TriggeredAt = base.Add(time.Minute)

	k1, k2 := dedupKey(alert, first), dedupKey(alert, second)
	if k1 != k2 {
		t.Errorf("keys differ within one cooldown bucket:\n%s\n%s", k1, k2)
	}
	if !strings.HasPrefix(k1, "spanlight:notify:alert-1:FIRING:") {
		t.Errorf("key = %q", k1)
	}
}

func TestDedupKey_BucketRollsAfterCooldown(t *testing.T) {
	alert := firingAlert("c1")
	cooldown := alert.CooldownDuration()

	// Pick a bucket-aligned base so adding a full cooldown is
	// guaranteed to land in the next bucket.
	base := time.Unix(20*int64(cooldown.Seconds()), 0).UTC()

	first := firingTrigger(alert)
	first.TriggeredAt = base
	second := firingTrigger(alert)
	second.TriggeredAt = base.Add(cooldown)

	if dedupKey(alert, first) == dedupKey(alert, second) {
		t.Error("keys should differ across cooldown buckets")
	}
}

func TestDedupKey_StateIsPartOfTheKey(t *testing.T) {
	alert := firingAlert("c1")
	firing := firingTrigger(alert)
	resolved := firingTrigger(alert)
	resolved.State = models.StateResolved

	if dedupKey(alert, firing) == dedupKey(alert, resolved) {
		t.Error("firing and resolved must not share a dedup key")
	}
}

func TestNoopDeduper(t *testing.T) {
	var d Deduper = NoopDeduper{}

	ok, err := d.Acquire(context.Background(), "any", time.Minute)
	if err != nil || !ok {
		t.Errorf("Acquire = %v, %v, want true, nil", ok, err)
	}
	if err := d.Release(context.Background(), "any"); err != nil {
		t.Errorf("Release: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
