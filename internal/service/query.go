package service

import (
	"time"

	"github.com/medreminder/internal/db"
)

// ReminderView 是今日提醒列表中的一项
type ReminderView struct {
	Reminder db.Reminder
	Taken    bool
}

// PointsSummary 汇总积分、连胜与等级
type PointsSummary struct {
	PatientID     uint
	CurrentPoints int
	OverallPoints int
	Streak        int
	Rank          string
}

// EffectView 是有效道具及其剩余时间；永久效果 Remaining 为空
type EffectView struct {
	EffectID  string
	ExpiresAt *time.Time
	Remaining *time.Duration
	CreatedAt time.Time
}

// QueryFacade 为展示层提供只读投影，不持有独立状态
type QueryFacade struct {
	ledger  *AdherenceLedger
	effects *EffectStore
	points  *PointsEngine
}

// NewQueryFacade 构造 QueryFacade
func NewQueryFacade(ledger *AdherenceLedger, effects *EffectStore, points *PointsEngine) *QueryFacade {
	return &QueryFacade{ledger: ledger, effects: effects, points: points}
}

// TodayReminders 返回 today 的提醒及当天是否已服用，按时间升序
func (q *QueryFacade) TodayReminders(patientID uint, today time.Time) ([]ReminderView, error) {
	reminders, err := q.ledger.TodayOccurrences(patientID, today)
	if err != nil {
		return nil, err
	}

	taken, err := q.ledger.TakenOn(patientID, today)
	if err != nil {
		return nil, err
	}

	views := make([]ReminderView, 0, len(reminders))
	for _, reminder := range reminders {
		_, ok := taken[reminder.ID]
		views = append(views, ReminderView{Reminder: reminder, Taken: ok})
	}
	return views, nil
}

// PointsSummary 返回积分概览，首次查询会初始化积分记录
func (q *QueryFacade) PointsSummary(patientID uint) (*PointsSummary, error) {
	tracker, err := q.points.Tracker(patientID)
	if err != nil {
		return nil, err
	}

	return &PointsSummary{
		PatientID:     tracker.PatientID,
		CurrentPoints: tracker.CurrentPoints,
		OverallPoints: tracker.OverallPoints,
		Streak:        tracker.Streak,
		Rank:          Rank(tracker.OverallPoints),
	}, nil
}

// ActiveEffects 返回有效道具，剩余时间为 max(0, expires_at - now)
func (q *QueryFacade) ActiveEffects(patientID uint, now time.Time) ([]EffectView, error) {
	effects, err := q.effects.Active(patientID, now)
	if err != nil {
		return nil, err
	}

	views := make([]EffectView, 0, len(effects))
	for _, effect := range effects {
		view := EffectView{EffectID: effect.EffectID, ExpiresAt: effect.ExpiresAt, CreatedAt: effect.CreatedAt}
		if effect.ExpiresAt != nil {
			remaining := remainingUntil(*effect.ExpiresAt, now)
			view.Remaining = &remaining
		}
		views = append(views, view)
	}
	return views, nil
}

// CurrentTheme 返回展示层应使用的主题
func (q *QueryFacade) CurrentTheme(patientID uint, now time.Time) (string, error) {
	return q.effects.CurrentTheme(patientID, now)
}

func remainingUntil(expiresAt, now time.Time) time.Duration {
	if d := expiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
