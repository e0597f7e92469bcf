package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/medreminder/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 等级
const (
	RankBeginner     = "Beginner"
	RankIntermediate = "Intermediate"
	RankExpert       = "Expert"
	RankMaster       = "Master"
)

// 单日连胜判定结果
const (
	DayQualifying = "qualifying"
	DayMissed     = "missed"
	DayNeutral    = "neutral"
	DaySkipped    = "skipped"
)

// Rank 根据累计积分计算等级：<200 Beginner，<500 Intermediate，<1000 Expert，其余 Master
func Rank(overall int) string {
	switch {
	case overall >= 1000:
		return RankMaster
	case overall >= 500:
		return RankExpert
	case overall >= 200:
		return RankIntermediate
	default:
		return RankBeginner
	}
}

// CatalogItem 描述商店中一种效果的价格与持续时间，Duration 为 0 表示永久
type CatalogItem struct {
	EffectID string
	Cost     int
	Duration time.Duration
}

var effectCatalog = map[string]CatalogItem{
	EffectStreakShield:      {EffectID: EffectStreakShield, Cost: 150, Duration: 7 * 24 * time.Hour},
	EffectDoublePoints:      {EffectID: EffectDoublePoints, Cost: 200, Duration: 24 * time.Hour},
	EffectTriplePointsWeek:  {EffectID: EffectTriplePointsWeek, Cost: 500, Duration: 7 * 24 * time.Hour},
	EffectThemeNight:        {EffectID: EffectThemeNight, Cost: 100},
	EffectThemeOcean:        {EffectID: EffectThemeOcean, Cost: 100},
	EffectThemeForest:       {EffectID: EffectThemeForest, Cost: 100},
	EffectExtraReminderSlot: {EffectID: EffectExtraReminderSlot, Cost: 250},
	EffectStreakMultiplier:  {EffectID: EffectStreakMultiplier, Cost: 300, Duration: 7 * 24 * time.Hour},
	EffectAnalyticsUnlock:   {EffectID: EffectAnalyticsUnlock, Cost: 400},
}

// CatalogFor 返回效果的商店配置
func CatalogFor(effectID string) (CatalogItem, bool) {
	item, ok := effectCatalog[effectID]
	return item, ok
}

// DayEvaluation 是一次单日连胜判定的结果
type DayEvaluation struct {
	Date      string
	Outcome   string
	Scheduled int64
	Taken     int64
	Shielded  bool
	Streak    int
}

// PointsEngine 维护积分、连胜与等级，按患者单行原子更新
type PointsEngine struct {
	db      *gorm.DB
	effects *EffectStore
}

// NewPointsEngine 构造 PointsEngine
func NewPointsEngine(gdb *gorm.DB, effects *EffectStore) *PointsEngine {
	return &PointsEngine{db: gdb, effects: effects}
}

// Tracker 返回患者积分，首次查询时创建零值记录
func (e *PointsEngine) Tracker(patientID uint) (*db.PointsTracker, error) {
	return ensureTracker(e.db, patientID, time.Now())
}

func ensureTracker(tx *gorm.DB, patientID uint, now time.Time) (*db.PointsTracker, error) {
	seed := db.PointsTracker{PatientID: patientID, LastUpdated: now}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "patient_id"}},
		DoNothing: true,
	}).Create(&seed).Error; err != nil {
		return nil, storageError("init points tracker", err)
	}

	return loadTracker(tx, patientID)
}

func loadTracker(tx *gorm.DB, patientID uint) (*db.PointsTracker, error) {
	var tracker db.PointsTracker
	if err := tx.Where("patient_id = ?", patientID).First(&tracker).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: points tracker for patient %d", ErrNotFound, patientID)
		}
		return nil, storageError("load points tracker", err)
	}
	return &tracker, nil
}

// Multiplier 返回当前积分倍率：double-points 优先于 triple-points-week，不叠加
func (e *PointsEngine) Multiplier(patientID uint, now time.Time) (int, error) {
	return pointsMultiplier(e.db, patientID, now)
}

func pointsMultiplier(tx *gorm.DB, patientID uint, now time.Time) (int, error) {
	double, err := effectActive(tx, patientID, EffectDoublePoints, now)
	if err != nil {
		return 0, err
	}
	if double {
		return 2, nil
	}

	triple, err := effectActive(tx, patientID, EffectTriplePointsWeek, now)
	if err != nil {
		return 0, err
	}
	if triple {
		return 3, nil
	}
	return 1, nil
}

// Award 按倍率发放积分，current 与 overall 同步增加
func (e *PointsEngine) Award(patientID uint, base int, now time.Time) (*db.PointsTracker, error) {
	var tracker *db.PointsTracker
	err := e.db.Transaction(func(tx *gorm.DB) error {
		var err error
		tracker, _, err = awardPoints(tx, patientID, base, now)
		return err
	})
	if err != nil {
		return nil, storageError("award points", err)
	}
	return tracker, nil
}

func awardPoints(tx *gorm.DB, patientID uint, base int, now time.Time) (*db.PointsTracker, int, error) {
	if base < 0 {
		return nil, 0, invalid(ReasonBadAmount, "base points must not be negative, got %d", base)
	}

	if _, err := ensureTracker(tx, patientID, now); err != nil {
		return nil, 0, err
	}

	multiplier, err := pointsMultiplier(tx, patientID, now)
	if err != nil {
		return nil, 0, err
	}
	awarded := base * multiplier

	if err := tx.Model(&db.PointsTracker{}).
		Where("patient_id = ?", patientID).
		Updates(map[string]any{
			"current_points": gorm.Expr("current_points + ?", awarded),
			"overall_points": gorm.Expr("overall_points + ?", awarded),
			"last_updated":   now,
		}).Error; err != nil {
		return nil, 0, storageError("award points", err)
	}

	tracker, err := loadTracker(tx, patientID)
	if err != nil {
		return nil, 0, err
	}
	return tracker, awarded, nil
}

// Deduct 扣减可用积分，最低为 0；累计积分不受影响
func (e *PointsEngine) Deduct(patientID uint, amount int, now time.Time) (*db.PointsTracker, error) {
	var tracker *db.PointsTracker
	err := e.db.Transaction(func(tx *gorm.DB) error {
		var err error
		tracker, err = deductPoints(tx, patientID, amount, now)
		return err
	})
	if err != nil {
		return nil, storageError("deduct points", err)
	}
	return tracker, nil
}

func deductPoints(tx *gorm.DB, patientID uint, amount int, now time.Time) (*db.PointsTracker, error) {
	if amount < 0 {
		return nil, invalid(ReasonBadAmount, "amount must not be negative, got %d", amount)
	}

	if _, err := ensureTracker(tx, patientID, now); err != nil {
		return nil, err
	}

	if err := tx.Model(&db.PointsTracker{}).
		Where("patient_id = ?", patientID).
		Updates(map[string]any{
			"current_points": gorm.Expr("CASE WHEN current_points > ? THEN current_points - ? ELSE 0 END", amount, amount),
			"last_updated":   now,
		}).Error; err != nil {
		return nil, storageError("deduct points", err)
	}

	return loadTracker(tx, patientID)
}

// OnQualifyingDay 连胜 +1
func (e *PointsEngine) OnQualifyingDay(patientID uint, now time.Time) (*db.PointsTracker, error) {
	var tracker *db.PointsTracker
	err := e.db.Transaction(func(tx *gorm.DB) error {
		var err error
		tracker, err = extendStreak(tx, patientID, now)
		return err
	})
	if err != nil {
		return nil, storageError("extend streak", err)
	}
	return tracker, nil
}

func extendStreak(tx *gorm.DB, patientID uint, now time.Time) (*db.PointsTracker, error) {
	if _, err := ensureTracker(tx, patientID, now); err != nil {
		return nil, err
	}

	if err := tx.Model(&db.PointsTracker{}).
		Where("patient_id = ?", patientID).
		Updates(map[string]any{
			"streak":       gorm.Expr("streak + 1"),
			"last_updated": now,
		}).Error; err != nil {
		return nil, storageError("extend streak", err)
	}

	return loadTracker(tx, patientID)
}

// OnMissedDay 连胜清零；若有有效的连胜护盾，则消耗护盾并保留连胜
func (e *PointsEngine) OnMissedDay(patientID uint, now time.Time) (*db.PointsTracker, bool, error) {
	var (
		tracker  *db.PointsTracker
		shielded bool
	)
	err := e.db.Transaction(func(tx *gorm.DB) error {
		var err error
		tracker, shielded, err = breakStreak(tx, patientID, now)
		return err
	})
	if err != nil {
		return nil, false, storageError("reset streak", err)
	}
	return tracker, shielded, nil
}

func breakStreak(tx *gorm.DB, patientID uint, now time.Time) (*db.PointsTracker, bool, error) {
	tracker, err := ensureTracker(tx, patientID, now)
	if err != nil {
		return nil, false, err
	}

	shield, err := effectActive(tx, patientID, EffectStreakShield, now)
	if err != nil {
		return nil, false, err
	}
	if shield {
		if err := consumeEffect(tx, patientID, EffectStreakShield); err != nil {
			return nil, false, err
		}
		return tracker, true, nil
	}

	if err := tx.Model(&db.PointsTracker{}).
		Where("patient_id = ?", patientID).
		Updates(map[string]any{"streak": 0, "last_updated": now}).Error; err != nil {
		return nil, false, storageError("reset streak", err)
	}

	tracker, err = loadTracker(tx, patientID)
	if err != nil {
		return nil, false, err
	}
	return tracker, false, nil
}

// EvaluateDay 判定某天是否达标：当天有计划且全部服用为达标，有计划但未全部服用为断签，
// 没有计划则不影响连胜，也不推进 LastStreakDate。已判定过（不晚于 LastStreakDate）的日期直接跳过。
// 只接受 now 之前已经结束的日期。
func (e *PointsEngine) EvaluateDay(patientID uint, day, now time.Time) (*DayEvaluation, error) {
	if !dayEnded(day, now) {
		return nil, invalid(ReasonBadDate, "day %s has not ended", dateKey(day))
	}

	var evaluation *DayEvaluation
	err := e.db.Transaction(func(tx *gorm.DB) error {
		var err error
		evaluation, err = evaluateDay(tx, patientID, day, now)
		return err
	})
	if err != nil {
		return nil, storageError("evaluate day", err)
	}
	return evaluation, nil
}

func evaluateDay(tx *gorm.DB, patientID uint, day, now time.Time) (*DayEvaluation, error) {
	key := dateKey(day)
	evaluation := &DayEvaluation{Date: key}

	tracker, err := ensureTracker(tx, patientID, now)
	if err != nil {
		return nil, err
	}
	if tracker.LastStreakDate != "" && key <= tracker.LastStreakDate {
		evaluation.Outcome = DaySkipped
		evaluation.Streak = tracker.Streak
		return evaluation, nil
	}

	evaluation.Scheduled, evaluation.Taken, err = dayStatus(tx, patientID, day)
	if err != nil {
		return nil, err
	}

	switch {
	case evaluation.Scheduled == 0:
		evaluation.Outcome = DayNeutral
		evaluation.Streak = tracker.Streak
		return evaluation, nil
	case evaluation.Taken == evaluation.Scheduled:
		evaluation.Outcome = DayQualifying
		if tracker, err = extendStreak(tx, patientID, now); err != nil {
			return nil, err
		}
	default:
		evaluation.Outcome = DayMissed
		if tracker, evaluation.Shielded, err = breakStreak(tx, patientID, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Model(&db.PointsTracker{}).
		Where("patient_id = ?", patientID).
		Update("last_streak_date", key).Error; err != nil {
		return nil, storageError("mark streak date", err)
	}

	evaluation.Streak = tracker.Streak
	return evaluation, nil
}

// Purchase 按商店价格购买效果：校验余额、激活效果并扣减积分在同一事务中完成
func (e *PointsEngine) Purchase(patientID uint, effectID string, now time.Time) (*db.ActiveEffect, *db.PointsTracker, error) {
	item, ok := CatalogFor(effectID)
	if !ok {
		return nil, nil, invalid(ReasonBadEffect, "unknown effect %q", effectID)
	}

	var (
		effect  *db.ActiveEffect
		tracker *db.PointsTracker
	)
	err := e.db.Transaction(func(tx *gorm.DB) error {
		current, err := ensureTracker(tx, patientID, now)
		if err != nil {
			return err
		}
		if current.CurrentPoints < item.Cost {
			return fmt.Errorf("%w: %s costs %d, balance %d", ErrInsufficientPoints, item.EffectID, item.Cost, current.CurrentPoints)
		}

		var duration *time.Duration
		if item.Duration > 0 {
			d := item.Duration
			duration = &d
		}

		if effect, err = activateEffect(tx, patientID, item.EffectID, duration, now); err != nil {
			return err
		}

		tracker, err = deductPoints(tx, patientID, item.Cost, now)
		return err
	})
	if err != nil {
		return nil, nil, storageError("purchase effect", err)
	}

	if e.effects != nil {
		e.effects.announce(effect, now)
	}
	return effect, tracker, nil
}

// CatchUp 依次判定从 LastStreakDate 次日（最早不早于 earliest）到 through 的每一天，
// 用于补齐服务停机期间漏掉的日期。返回实际参与判定的结果，跳过的日期不计入。
func (e *PointsEngine) CatchUp(patientID uint, earliest, through, now time.Time) ([]DayEvaluation, error) {
	tracker, err := e.Tracker(patientID)
	if err != nil {
		return nil, err
	}

	day := startOfDay(earliest)
	if tracker.LastStreakDate != "" {
		last, err := time.ParseInLocation(dateLayout, tracker.LastStreakDate, day.Location())
		if err == nil && !last.Before(day) {
			day = last.AddDate(0, 0, 1)
		}
	}

	var evaluations []DayEvaluation
	for end := startOfDay(through); !day.After(end); day = day.AddDate(0, 0, 1) {
		evaluation, err := e.EvaluateDay(patientID, day, now)
		if err != nil {
			return evaluations, err
		}
		if evaluation.Outcome != DaySkipped {
			evaluations = append(evaluations, *evaluation)
		}
	}
	return evaluations, nil
}

// dayEnded 判断 day 所在日期是否早于 now 所在日期
func dayEnded(day, now time.Time) bool {
	return dateKey(day) < dateKey(now.In(day.Location()))
}
