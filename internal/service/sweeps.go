package service

import (
	"context"
	"errors"
	"time"

	"github.com/medreminder/internal/task"
	"go.uber.org/zap"
)

// PruneTask 定期清理过期道具效果，避免过期效果参与积分与连胜计算
func PruneTask(effects *EffectStore, interval time.Duration, logger *zap.Logger) task.Task {
	return task.Task{
		Name:     "effect-prune",
		Interval: interval,
		Run: func(_ context.Context, now time.Time) error {
			removed, err := effects.Prune(now)
			if err != nil {
				return err
			}
			if removed > 0 {
				logger.Info("pruned expired effects", zap.Int64("removed", removed))
			}
			return nil
		},
	}
}

// MaterializeTask 为当天所有有效提醒补齐 PENDING 记录
func MaterializeTask(ledger *AdherenceLedger, interval time.Duration, logger *zap.Logger) task.Task {
	return task.Task{
		Name:     "adherence-materialize",
		Interval: interval,
		Run: func(_ context.Context, now time.Time) error {
			created, err := ledger.MaterializeDay(now)
			if err != nil {
				return err
			}
			if created > 0 {
				logger.Info("materialized occurrences", zap.Int("created", created), zap.String("date", dateKey(now)))
			}
			return nil
		},
	}
}

// streakCatchUpDays 是连胜判定最多回溯的天数，覆盖服务停机期间漏掉的日期
const streakCatchUpDays = 30

// StreakTask 对最近有服药记录的患者补齐截至昨天的连胜判定；重复执行不会重复计数
func StreakTask(points *PointsEngine, ledger *AdherenceLedger, interval time.Duration, logger *zap.Logger) task.Task {
	return task.Task{
		Name:     "streak-evaluate",
		Interval: interval,
		Run: func(ctx context.Context, now time.Time) error {
			yesterday := startOfDay(now).AddDate(0, 0, -1)
			earliest := yesterday.AddDate(0, 0, -(streakCatchUpDays - 1))
			patients, err := ledger.PatientsBetween(earliest, yesterday)
			if err != nil {
				return err
			}

			var errs []error
			for _, patientID := range patients {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				evaluations, err := points.CatchUp(patientID, earliest, yesterday, now)
				if err != nil {
					errs = append(errs, err)
				}
				for _, evaluation := range evaluations {
					if evaluation.Outcome == DayNeutral {
						continue
					}
					logger.Info("streak evaluated",
						zap.Uint("patient_id", patientID),
						zap.String("date", evaluation.Date),
						zap.String("outcome", evaluation.Outcome),
						zap.Bool("shielded", evaluation.Shielded),
						zap.Int("streak", evaluation.Streak))
				}
			}
			return errors.Join(errs...)
		},
	}
}
