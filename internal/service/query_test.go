package service

import (
	"testing"
	"time"
)

func TestRemainingUntilNeverNegative(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if got := remainingUntil(now.Add(-time.Minute), now); got != 0 {
		t.Fatalf("expected 0 for past expiry, got %s", got)
	}
	if got := remainingUntil(now.Add(90*time.Minute), now); got != 90*time.Minute {
		t.Fatalf("expected 90m, got %s", got)
	}
}

func TestQueryFacadeProjections(t *testing.T) {
	gdb := setupEngineTestDB(t)
	ledger := NewAdherenceLedger(gdb)
	store := NewEffectStore(gdb, nil, nil)
	points := NewPointsEngine(gdb, store)
	facade := NewQueryFacade(ledger, store, points)

	now := time.Date(2024, 5, 3, 10, 0, 0, 0, time.Local)
	evening := seedReminder(t, gdb, 7, "20:00", "2024-05-01", "2024-05-31")
	morning := seedReminder(t, gdb, 7, "08:00", "2024-05-01", "2024-05-31")
	if _, err := ledger.EnsureDay(7, now); err != nil {
		t.Fatalf("EnsureDay returned error: %v", err)
	}
	if _, err := ledger.MarkTaken(morning.ID, 7, now); err != nil {
		t.Fatalf("MarkTaken returned error: %v", err)
	}

	views, err := facade.TodayReminders(7, now)
	if err != nil {
		t.Fatalf("TodayReminders returned error: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 reminders, got %d", len(views))
	}
	if views[0].Reminder.ID != morning.ID || !views[0].Taken {
		t.Fatalf("expected morning reminder taken first, got %+v", views[0])
	}
	if views[1].Reminder.ID != evening.ID || views[1].Taken {
		t.Fatalf("expected evening reminder pending, got %+v", views[1])
	}

	// 第二天勾选状态重新开始
	tomorrow, err := facade.TodayReminders(7, now.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("TodayReminders returned error: %v", err)
	}
	for _, view := range tomorrow {
		if view.Taken {
			t.Fatalf("reminder %d should not be taken tomorrow", view.Reminder.ID)
		}
	}

	if _, err := points.Award(7, 1000, now); err != nil {
		t.Fatalf("Award returned error: %v", err)
	}
	summary, err := facade.PointsSummary(7)
	if err != nil {
		t.Fatalf("PointsSummary returned error: %v", err)
	}
	if summary.Rank != RankMaster || summary.CurrentPoints != 1000 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	hour := time.Hour
	if _, err := store.Activate(7, EffectStreakShield, &hour, now); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	if _, err := store.Activate(7, EffectThemeOcean, nil, now); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}

	effects, err := facade.ActiveEffects(7, now.Add(15*time.Minute))
	if err != nil {
		t.Fatalf("ActiveEffects returned error: %v", err)
	}
	if len(effects) != 2 {
		t.Fatalf("expected 2 effects, got %d", len(effects))
	}
	for _, effect := range effects {
		switch effect.EffectID {
		case EffectStreakShield:
			if effect.Remaining == nil || *effect.Remaining != 45*time.Minute {
				t.Fatalf("expected 45m remaining, got %v", effect.Remaining)
			}
		case EffectThemeOcean:
			if effect.Remaining != nil {
				t.Fatalf("expected permanent theme, got %v", *effect.Remaining)
			}
		}
	}

	theme, err := facade.CurrentTheme(7, now)
	if err != nil {
		t.Fatalf("CurrentTheme returned error: %v", err)
	}
	if theme != EffectThemeOcean {
		t.Fatalf("expected ocean theme, got %q", theme)
	}
}
