package service

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRankBoundaries(t *testing.T) {
	tests := []struct {
		overall int
		want    string
	}{
		{0, RankBeginner},
		{199, RankBeginner},
		{200, RankIntermediate},
		{499, RankIntermediate},
		{500, RankExpert},
		{999, RankExpert},
		{1000, RankMaster},
		{25000, RankMaster},
	}

	for _, tt := range tests {
		if got := Rank(tt.overall); got != tt.want {
			t.Errorf("Rank(%d) = %s, want %s", tt.overall, got, tt.want)
		}
	}
}

func TestAwardAppliesMultiplier(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	tests := []struct {
		name    string
		effects []string
		want    int
	}{
		{name: "no effect", want: 10},
		{name: "double", effects: []string{EffectDoublePoints}, want: 20},
		{name: "triple", effects: []string{EffectTriplePointsWeek}, want: 30},
		{name: "double wins over triple", effects: []string{EffectTriplePointsWeek, EffectDoublePoints}, want: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gdb := setupEngineTestDB(t)
			store := NewEffectStore(gdb, nil, nil)
			engine := NewPointsEngine(gdb, store)

			for _, effectID := range tt.effects {
				if _, err := store.Activate(7, effectID, &day, now); err != nil {
					t.Fatalf("Activate returned error: %v", err)
				}
			}

			tracker, err := engine.Award(7, 10, now.Add(time.Hour))
			if err != nil {
				t.Fatalf("Award returned error: %v", err)
			}
			if tracker.CurrentPoints != tt.want || tracker.OverallPoints != tt.want {
				t.Fatalf("expected %d/%d, got %d/%d", tt.want, tt.want, tracker.CurrentPoints, tracker.OverallPoints)
			}
		})
	}
}

func TestAwardIgnoresExpiredMultiplier(t *testing.T) {
	gdb := setupEngineTestDB(t)
	store := NewEffectStore(gdb, nil, nil)
	engine := NewPointsEngine(gdb, store)

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	if _, err := store.Activate(7, EffectDoublePoints, &day, now); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}

	tracker, err := engine.Award(7, 10, now.Add(day))
	if err != nil {
		t.Fatalf("Award returned error: %v", err)
	}
	if tracker.CurrentPoints != 10 {
		t.Fatalf("expected base points after expiry, got %d", tracker.CurrentPoints)
	}
}

func TestDeductFloorsAtZero(t *testing.T) {
	gdb := setupEngineTestDB(t)
	engine := NewPointsEngine(gdb, NewEffectStore(gdb, nil, nil))
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if _, err := engine.Award(7, 50, now); err != nil {
		t.Fatalf("Award returned error: %v", err)
	}

	tracker, err := engine.Deduct(7, 30, now)
	if err != nil {
		t.Fatalf("Deduct returned error: %v", err)
	}
	if tracker.CurrentPoints != 20 || tracker.OverallPoints != 50 {
		t.Fatalf("expected 20/50, got %d/%d", tracker.CurrentPoints, tracker.OverallPoints)
	}

	tracker, err = engine.Deduct(7, 100, now)
	if err != nil {
		t.Fatalf("Deduct returned error: %v", err)
	}
	if tracker.CurrentPoints != 0 || tracker.OverallPoints != 50 {
		t.Fatalf("expected 0/50, got %d/%d", tracker.CurrentPoints, tracker.OverallPoints)
	}

	if _, err := engine.Deduct(7, -1, now); ValidationReason(err) != ReasonBadAmount {
		t.Fatalf("expected bad-amount, got %v", err)
	}
}

func TestTrackerCreatedLazily(t *testing.T) {
	gdb := setupEngineTestDB(t)
	engine := NewPointsEngine(gdb, nil)

	tracker, err := engine.Tracker(42)
	if err != nil {
		t.Fatalf("Tracker returned error: %v", err)
	}
	if tracker.PatientID != 42 || tracker.CurrentPoints != 0 || tracker.Streak != 0 {
		t.Fatalf("unexpected zero tracker %+v", tracker)
	}

	again, err := engine.Tracker(42)
	if err != nil {
		t.Fatalf("Tracker returned error: %v", err)
	}
	if again.ID != tracker.ID {
		t.Fatalf("expected same tracker row, got %d and %d", tracker.ID, again.ID)
	}
}

func TestMissedDayConsumesShield(t *testing.T) {
	gdb := setupEngineTestDB(t)
	store := NewEffectStore(gdb, nil, nil)
	engine := NewPointsEngine(gdb, store)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if _, err := engine.OnQualifyingDay(7, now); err != nil {
			t.Fatalf("OnQualifyingDay returned error: %v", err)
		}
	}

	week := 7 * 24 * time.Hour
	if _, err := store.Activate(7, EffectStreakShield, &week, now); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}

	tracker, shielded, err := engine.OnMissedDay(7, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("OnMissedDay returned error: %v", err)
	}
	if !shielded || tracker.Streak != 3 {
		t.Fatalf("expected shielded streak 3, got shielded=%v streak=%d", shielded, tracker.Streak)
	}

	tracker, shielded, err = engine.OnMissedDay(7, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("OnMissedDay returned error: %v", err)
	}
	if shielded || tracker.Streak != 0 {
		t.Fatalf("expected reset streak, got shielded=%v streak=%d", shielded, tracker.Streak)
	}
}

func TestEvaluateDayOutcomes(t *testing.T) {
	gdb := setupEngineTestDB(t)
	ledger := NewAdherenceLedger(gdb)
	engine := NewPointsEngine(gdb, NewEffectStore(gdb, nil, nil))

	morning := seedReminder(t, gdb, 7, "08:00", "2024-05-01", "2024-05-31")
	seedReminder(t, gdb, 7, "20:00", "2024-05-01", "2024-05-31")

	dayOne := time.Date(2024, 5, 1, 0, 0, 0, 0, time.Local)
	dayTwo := dayOne.AddDate(0, 0, 1)
	dayThree := dayTwo.AddDate(0, 0, 1)
	now := dayThree.Add(12 * time.Hour)

	for _, day := range []time.Time{dayOne, dayTwo} {
		if _, err := ledger.EnsureDay(7, day); err != nil {
			t.Fatalf("EnsureDay returned error: %v", err)
		}
	}

	// 第一天全部服用
	var evening uint
	reminders, err := ledger.TodayOccurrences(7, dayOne)
	if err != nil {
		t.Fatalf("TodayOccurrences returned error: %v", err)
	}
	for _, reminder := range reminders {
		if reminder.ID != morning.ID {
			evening = reminder.ID
		}
		if _, err := ledger.MarkTaken(reminder.ID, 7, dayOne.Add(21*time.Hour)); err != nil {
			t.Fatalf("MarkTaken returned error: %v", err)
		}
	}
	// 第二天只服用一次
	if _, err := ledger.MarkTaken(evening, 7, dayTwo.Add(21*time.Hour)); err != nil {
		t.Fatalf("MarkTaken returned error: %v", err)
	}

	evaluation, err := engine.EvaluateDay(7, dayOne, now)
	if err != nil {
		t.Fatalf("EvaluateDay returned error: %v", err)
	}
	if evaluation.Outcome != DayQualifying || evaluation.Streak != 1 || evaluation.Scheduled != 2 || evaluation.Taken != 2 {
		t.Fatalf("unexpected evaluation for day one: %+v", evaluation)
	}

	again, err := engine.EvaluateDay(7, dayOne, now)
	if err != nil {
		t.Fatalf("EvaluateDay returned error: %v", err)
	}
	if again.Outcome != DaySkipped || again.Streak != 1 {
		t.Fatalf("expected skipped re-evaluation, got %+v", again)
	}

	evaluation, err = engine.EvaluateDay(7, dayTwo, now)
	if err != nil {
		t.Fatalf("EvaluateDay returned error: %v", err)
	}
	if evaluation.Outcome != DayMissed || evaluation.Streak != 0 {
		t.Fatalf("unexpected evaluation for day two: %+v", evaluation)
	}

	// 没有记录的患者不影响连胜，也不推进判定日期
	evaluation, err = engine.EvaluateDay(9, dayTwo, now)
	if err != nil {
		t.Fatalf("EvaluateDay returned error: %v", err)
	}
	if evaluation.Outcome != DayNeutral {
		t.Fatalf("expected neutral day, got %+v", evaluation)
	}
	tracker, err := engine.Tracker(9)
	if err != nil {
		t.Fatalf("Tracker returned error: %v", err)
	}
	if tracker.LastStreakDate != "" {
		t.Fatalf("expected neutral day to leave streak date empty, got %q", tracker.LastStreakDate)
	}
}

func TestEvaluateDayRejectsUnfinishedDays(t *testing.T) {
	gdb := setupEngineTestDB(t)
	ledger := NewAdherenceLedger(gdb)
	engine := NewPointsEngine(gdb, NewEffectStore(gdb, nil, nil))

	reminder := seedReminder(t, gdb, 7, "08:00", "2024-05-01", "2024-05-31")
	yesterday := time.Date(2024, 5, 9, 0, 0, 0, 0, time.Local)
	now := yesterday.AddDate(0, 0, 1).Add(10 * time.Hour)

	if _, err := ledger.ScheduleOccurrence(reminder, yesterday); err != nil {
		t.Fatalf("ScheduleOccurrence returned error: %v", err)
	}
	if _, err := ledger.MarkTaken(reminder.ID, 7, yesterday.Add(8*time.Hour)); err != nil {
		t.Fatalf("MarkTaken returned error: %v", err)
	}

	for _, day := range []time.Time{now, now.AddDate(0, 0, 1), now.AddDate(1, 0, 0)} {
		if _, err := engine.EvaluateDay(7, day, now); !errors.Is(err, ErrValidation) || ValidationReason(err) != ReasonBadDate {
			t.Fatalf("EvaluateDay(%s) expected bad-date validation error, got %v", dateKey(day), err)
		}
	}

	evaluation, err := engine.EvaluateDay(7, yesterday, now)
	if err != nil {
		t.Fatalf("EvaluateDay returned error: %v", err)
	}
	if evaluation.Outcome != DayQualifying || evaluation.Streak != 1 {
		t.Fatalf("expected yesterday to qualify after rejected calls, got %+v", evaluation)
	}
}

func TestConcurrentAwardAndDeductKeepBalance(t *testing.T) {
	gdb := setupEngineTestDB(t)
	engine := NewPointsEngine(gdb, NewEffectStore(gdb, nil, nil))
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if _, err := engine.Award(7, 100, now); err != nil {
		t.Fatalf("Award returned error: %v", err)
	}

	const (
		awards  = 20
		deducts = 8
	)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	}

	for i := 0; i < awards; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Award(7, 10, now)
			record(err)
		}()
	}
	for i := 0; i < deducts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Deduct(7, 10, now)
			record(err)
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	tracker, err := engine.Tracker(7)
	if err != nil {
		t.Fatalf("Tracker returned error: %v", err)
	}
	if tracker.CurrentPoints != 100+awards*10-deducts*10 {
		t.Fatalf("expected current points %d, got %d", 100+awards*10-deducts*10, tracker.CurrentPoints)
	}
	if tracker.OverallPoints != 100+awards*10 {
		t.Fatalf("expected overall points %d, got %d", 100+awards*10, tracker.OverallPoints)
	}
}

func TestPurchaseChecksBalanceAndDeducts(t *testing.T) {
	gdb := setupEngineTestDB(t)
	publisher := &recordingPublisher{}
	store := NewEffectStore(gdb, publisher, nil)
	engine := NewPointsEngine(gdb, store)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if _, _, err := engine.Purchase(7, EffectDoublePoints, now); !errors.Is(err, ErrInsufficientPoints) {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}

	if _, err := engine.Award(7, 300, now); err != nil {
		t.Fatalf("Award returned error: %v", err)
	}

	effect, tracker, err := engine.Purchase(7, EffectDoublePoints, now)
	if err != nil {
		t.Fatalf("Purchase returned error: %v", err)
	}
	if effect.ExpiresAt == nil || !effect.ExpiresAt.Equal(now.Add(24*time.Hour)) {
		t.Fatalf("unexpected expiry %v", effect.ExpiresAt)
	}
	if tracker.CurrentPoints != 100 || tracker.OverallPoints != 300 {
		t.Fatalf("expected 100/300, got %d/%d", tracker.CurrentPoints, tracker.OverallPoints)
	}

	// 已激活的效果不会重复扣费
	if _, err := engine.Award(7, 300, now); err != nil {
		t.Fatalf("Award returned error: %v", err)
	}
	before, err := engine.Tracker(7)
	if err != nil {
		t.Fatalf("Tracker returned error: %v", err)
	}
	if _, _, err := engine.Purchase(7, EffectDoublePoints, now); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	after, err := engine.Tracker(7)
	if err != nil {
		t.Fatalf("Tracker returned error: %v", err)
	}
	if after.CurrentPoints != before.CurrentPoints {
		t.Fatalf("failed purchase changed balance from %d to %d", before.CurrentPoints, after.CurrentPoints)
	}

	if _, _, err := engine.Purchase(7, EffectThemeNight, now); err != nil {
		t.Fatalf("Purchase theme returned error: %v", err)
	}
	if events := publisher.Events(); len(events) != 1 || events[0].EffectID != EffectThemeNight {
		t.Fatalf("expected one theme event, got %+v", events)
	}

	if _, _, err := engine.Purchase(7, "golden-pill", now); ValidationReason(err) != ReasonBadEffect {
		t.Fatalf("expected bad-effect, got %v", err)
	}
}
