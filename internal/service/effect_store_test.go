package service

import (
	"errors"
	"testing"
	"time"
)

func TestActivateRejectsActiveDuplicate(t *testing.T) {
	gdb := setupEngineTestDB(t)
	store := NewEffectStore(gdb, nil, nil)

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	effect, err := store.Activate(7, EffectDoublePoints, &day, now)
	if err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	if effect.ExpiresAt == nil || !effect.ExpiresAt.Equal(now.Add(day)) {
		t.Fatalf("unexpected expiry %v", effect.ExpiresAt)
	}

	if _, err := store.Activate(7, EffectDoublePoints, &day, now.Add(time.Hour)); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}

	// 其他患者互不影响
	if _, err := store.Activate(8, EffectDoublePoints, &day, now); err != nil {
		t.Fatalf("Activate for other patient returned error: %v", err)
	}

	// 过期后即使未清理也可再次激活
	later := now.Add(day + time.Minute)
	if _, err := store.Activate(7, EffectDoublePoints, &day, later); err != nil {
		t.Fatalf("re-activation after expiry returned error: %v", err)
	}
}

func TestActivateValidation(t *testing.T) {
	gdb := setupEngineTestDB(t)
	store := NewEffectStore(gdb, nil, nil)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if _, err := store.Activate(7, "golden-pill", nil, now); ValidationReason(err) != ReasonBadEffect {
		t.Fatalf("expected bad-effect, got %v", err)
	}

	zero := time.Duration(0)
	if _, err := store.Activate(7, EffectDoublePoints, &zero, now); ValidationReason(err) != ReasonBadDuration {
		t.Fatalf("expected bad-duration, got %v", err)
	}
}

func TestIsActiveRespectsExpiry(t *testing.T) {
	gdb := setupEngineTestDB(t)
	store := NewEffectStore(gdb, nil, nil)

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	hour := time.Hour
	if _, err := store.Activate(7, EffectStreakShield, &hour, now); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	if _, err := store.Activate(7, EffectAnalyticsUnlock, nil, now); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}

	tests := []struct {
		name     string
		effectID string
		at       time.Time
		want     bool
	}{
		{name: "before expiry", effectID: EffectStreakShield, at: now.Add(59 * time.Minute), want: true},
		{name: "at expiry", effectID: EffectStreakShield, at: now.Add(time.Hour), want: false},
		{name: "permanent", effectID: EffectAnalyticsUnlock, at: now.AddDate(5, 0, 0), want: true},
		{name: "never bought", effectID: EffectDoublePoints, at: now, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.IsActive(7, tt.effectID, tt.at)
			if err != nil {
				t.Fatalf("IsActive returned error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("IsActive = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPruneRemovesOnlyExpired(t *testing.T) {
	gdb := setupEngineTestDB(t)
	store := NewEffectStore(gdb, nil, nil)

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	week := 7 * day

	if _, err := store.Activate(7, EffectDoublePoints, &day, now); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	if _, err := store.Activate(7, EffectTriplePointsWeek, &week, now); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	if _, err := store.Activate(7, EffectThemeOcean, nil, now); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}

	cutoff := now.Add(25 * time.Hour)
	// 在清理时刻之后创建的效果不会被删除
	if _, err := store.Activate(8, EffectDoublePoints, &day, cutoff); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}

	removed, err := store.Prune(cutoff)
	if err != nil {
		t.Fatalf("Prune returned error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned effect, got %d", removed)
	}

	remaining, err := store.Active(7, cutoff)
	if err != nil {
		t.Fatalf("Active returned error: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining effects, got %d", len(remaining))
	}

	active, err := store.IsActive(8, EffectDoublePoints, cutoff)
	if err != nil {
		t.Fatalf("IsActive returned error: %v", err)
	}
	if !active {
		t.Fatal("effect created at cutoff should survive prune")
	}
}

func TestConsumeRemovesEffect(t *testing.T) {
	gdb := setupEngineTestDB(t)
	store := NewEffectStore(gdb, nil, nil)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Consume(7, EffectStreakShield); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := store.Activate(7, EffectStreakShield, nil, now); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	if err := store.Consume(7, EffectStreakShield); err != nil {
		t.Fatalf("Consume returned error: %v", err)
	}

	active, err := store.IsActive(7, EffectStreakShield, now)
	if err != nil {
		t.Fatalf("IsActive returned error: %v", err)
	}
	if active {
		t.Fatal("expected shield to be consumed")
	}
}

func TestThemeActivationPublishesAndLatestWins(t *testing.T) {
	gdb := setupEngineTestDB(t)
	publisher := &recordingPublisher{}
	store := NewEffectStore(gdb, publisher, nil)

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if _, err := store.Activate(7, EffectThemeNight, nil, now); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	if _, err := store.Activate(7, EffectThemeForest, nil, now.Add(time.Minute)); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	hour := time.Hour
	if _, err := store.Activate(7, EffectDoublePoints, &hour, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}

	theme, err := store.CurrentTheme(7, now.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("CurrentTheme returned error: %v", err)
	}
	if theme != EffectThemeForest {
		t.Fatalf("expected %s, got %q", EffectThemeForest, theme)
	}

	events := publisher.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 theme events, got %d", len(events))
	}
	if events[1].Type != EventThemeChanged || events[1].EffectID != EffectThemeForest || events[1].PatientID != 7 {
		t.Fatalf("unexpected event %+v", events[1])
	}

	none, err := store.CurrentTheme(9, now)
	if err != nil {
		t.Fatalf("CurrentTheme returned error: %v", err)
	}
	if none != "" {
		t.Fatalf("expected no theme, got %q", none)
	}
}
