package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/medreminder/internal/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 道具效果 ID
const (
	EffectStreakShield      = "streak-shield"
	EffectDoublePoints      = "double-points"
	EffectTriplePointsWeek  = "triple-points-week"
	EffectThemeNight        = "theme-night"
	EffectThemeOcean        = "theme-ocean"
	EffectThemeForest       = "theme-forest"
	EffectExtraReminderSlot = "extra-reminder-slot"
	EffectStreakMultiplier  = "streak-multiplier"
	EffectAnalyticsUnlock   = "analytics-unlock"
)

var knownEffects = map[string]struct{}{
	EffectStreakShield:      {},
	EffectDoublePoints:      {},
	EffectTriplePointsWeek:  {},
	EffectThemeNight:        {},
	EffectThemeOcean:        {},
	EffectThemeForest:       {},
	EffectExtraReminderSlot: {},
	EffectStreakMultiplier:  {},
	EffectAnalyticsUnlock:   {},
}

// IsThemeEffect 判断是否为外观主题
func IsThemeEffect(effectID string) bool {
	switch effectID {
	case EffectThemeNight, EffectThemeOcean, EffectThemeForest:
		return true
	}
	return false
}

// EffectStore 管理限时或永久的道具效果。
// 同一患者同一效果同时只能存在一条未过期记录；不同主题之间不互斥。
type EffectStore struct {
	db        *gorm.DB
	publisher EventPublisher
	logger    *zap.Logger
}

// NewEffectStore 构造 EffectStore，publisher 为空时不发送事件
func NewEffectStore(gdb *gorm.DB, publisher EventPublisher, logger *zap.Logger) *EffectStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EffectStore{db: gdb, publisher: publisher, logger: logger}
}

// Activate 激活效果；duration 为空表示永久。未过期的同名效果存在时返回 ErrAlreadyActive。
func (s *EffectStore) Activate(patientID uint, effectID string, duration *time.Duration, now time.Time) (*db.ActiveEffect, error) {
	var effect *db.ActiveEffect
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		effect, err = activateEffect(tx, patientID, effectID, duration, now)
		return err
	})
	if err != nil {
		return nil, storageError("activate effect", err)
	}

	s.announce(effect, now)
	return effect, nil
}

func activateEffect(tx *gorm.DB, patientID uint, effectID string, duration *time.Duration, now time.Time) (*db.ActiveEffect, error) {
	effectID = strings.ToLower(strings.TrimSpace(effectID))
	if _, ok := knownEffects[effectID]; !ok {
		return nil, invalid(ReasonBadEffect, "unknown effect %q", effectID)
	}
	if duration != nil && *duration <= 0 {
		return nil, invalid(ReasonBadDuration, "duration must be positive, got %s", *duration)
	}

	cutoff := now.UTC()

	// 同名效果已过期但尚未被清理时，先删除再创建
	if err := tx.Where("patient_id = ? AND effect_id = ? AND expires_at IS NOT NULL AND expires_at <= ?", patientID, effectID, cutoff).
		Delete(&db.ActiveEffect{}).Error; err != nil {
		return nil, storageError("clear expired effect", err)
	}

	active, err := effectActive(tx, patientID, effectID, now)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyActive, effectID)
	}

	effect := db.ActiveEffect{PatientID: patientID, EffectID: effectID, CreatedAt: cutoff}
	if duration != nil {
		expires := cutoff.Add(*duration)
		effect.ExpiresAt = &expires
	}

	if err := tx.Create(&effect).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyActive, effectID)
		}
		return nil, storageError("activate effect", err)
	}

	return &effect, nil
}

func (s *EffectStore) announce(effect *db.ActiveEffect, now time.Time) {
	if effect == nil || !IsThemeEffect(effect.EffectID) || s.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	event := Event{Type: EventThemeChanged, PatientID: effect.PatientID, EffectID: effect.EffectID, At: now}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish theme change failed",
			zap.Uint("patient_id", effect.PatientID),
			zap.String("effect_id", effect.EffectID),
			zap.Error(err))
	}
}

// IsActive 判断效果在 now 时是否有效
func (s *EffectStore) IsActive(patientID uint, effectID string, now time.Time) (bool, error) {
	return effectActive(s.db, patientID, effectID, now)
}

func effectActive(tx *gorm.DB, patientID uint, effectID string, now time.Time) (bool, error) {
	var count int64
	if err := tx.Model(&db.ActiveEffect{}).
		Where("patient_id = ? AND effect_id = ?", patientID, effectID).
		Where("(expires_at IS NULL OR expires_at > ?)", now.UTC()).
		Count(&count).Error; err != nil {
		return false, storageError("check effect", err)
	}
	return count > 0, nil
}

// Active 返回患者当前有效的全部效果，最新激活的在前
func (s *EffectStore) Active(patientID uint, now time.Time) ([]db.ActiveEffect, error) {
	var effects []db.ActiveEffect
	if err := s.db.Where("patient_id = ?", patientID).
		Where("(expires_at IS NULL OR expires_at > ?)", now.UTC()).
		Order("created_at DESC, id DESC").
		Find(&effects).Error; err != nil {
		return nil, storageError("list effects", err)
	}
	return effects, nil
}

// CurrentTheme 返回最近激活且仍有效的主题，没有时返回空串
func (s *EffectStore) CurrentTheme(patientID uint, now time.Time) (string, error) {
	effects, err := s.Active(patientID, now)
	if err != nil {
		return "", err
	}
	for _, effect := range effects {
		if IsThemeEffect(effect.EffectID) {
			return effect.EffectID, nil
		}
	}
	return "", nil
}

// Consume 立即移除效果（连胜护盾在抵消一次断签后被消耗）
func (s *EffectStore) Consume(patientID uint, effectID string) error {
	return consumeEffect(s.db, patientID, effectID)
}

func consumeEffect(tx *gorm.DB, patientID uint, effectID string) error {
	result := tx.Where("patient_id = ? AND effect_id = ?", patientID, effectID).Delete(&db.ActiveEffect{})
	if result.Error != nil {
		return storageError("consume effect", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: effect %s", ErrNotFound, effectID)
	}
	return nil
}

// Prune 删除 expires_at <= now 的效果。之后创建的效果过期时间必然晚于 now，不会被误删。
func (s *EffectStore) Prune(now time.Time) (int64, error) {
	result := s.db.Where("expires_at IS NOT NULL AND expires_at <= ?", now.UTC()).Delete(&db.ActiveEffect{})
	if result.Error != nil {
		return 0, storageError("prune effects", result.Error)
	}
	return result.RowsAffected, nil
}
