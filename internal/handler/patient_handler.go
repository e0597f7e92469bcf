package handler

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/medreminder/internal/db"
	"github.com/medreminder/internal/locale"
	"github.com/medreminder/internal/service"
	"go.uber.org/zap"
)

type takePayload struct {
	PatientID    uint   `json:"patient_id"`
	ScheduledFor string `json:"scheduled_for"`
}

type deductPayload struct {
	Amount int `json:"amount"`
}

type effectPayload struct {
	EffectID        string `json:"effect_id"`
	DurationSeconds *int64 `json:"duration_seconds"`
}

type evaluatePayload struct {
	Date string `json:"date"`
}

// TakeDose 标记提醒当天已服用；重复提交返回 already_taken 且不再发放积分
func (a *API) TakeDose(c *gin.Context) {
	reminderID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, locale.CodeInvalidID)
		return
	}

	var payload takePayload
	if !bindJSON(c, &payload) {
		return
	}
	if payload.PatientID == 0 {
		respondError(c, http.StatusBadRequest, locale.CodeInvalidRequest)
		return
	}

	at, err := a.resolveTakeTime(payload.ScheduledFor)
	if err != nil {
		respondError(c, http.StatusBadRequest, locale.CodeBadDate)
		return
	}

	result, err := a.doses.Take(reminderID, payload.PatientID, at)
	if errors.Is(err, service.ErrNotFound) && !service.IsFutureDay(at, a.now()) {
		// 当天记录可能尚未被后台任务补齐
		created, ensureErr := a.ledger.EnsureDay(payload.PatientID, at)
		if ensureErr != nil {
			a.handleServiceError(c, "take dose", ensureErr)
			return
		}
		if created > 0 {
			result, err = a.doses.Take(reminderID, payload.PatientID, at)
		}
	}
	if err != nil {
		a.handleServiceError(c, "take dose", err)
		return
	}

	if !result.AlreadyTaken {
		a.logger.Info("dose taken",
			zap.Uint("reminder_id", reminderID),
			zap.Uint("patient_id", payload.PatientID),
			zap.Int("awarded", result.Awarded))
	}

	body := gin.H{
		"record":        recordToPayload(*result.Record),
		"already_taken": result.AlreadyTaken,
		"awarded":       result.Awarded,
	}
	if result.Tracker != nil {
		body["points"] = trackerToPayload(*result.Tracker)
	}
	c.JSON(http.StatusOK, body)
}

// resolveTakeTime 支持 RFC3339 时间或 YYYY-MM-DD 日期，日期沿用当前时分
func (a *API) resolveTakeTime(raw string) (time.Time, error) {
	now := a.now()
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now, nil
	}
	if at, err := time.Parse(time.RFC3339, raw); err == nil {
		return at.In(time.Local), nil
	}
	day, err := time.ParseInLocation(dateFormat, raw, time.Local)
	if err != nil {
		return time.Time{}, err
	}
	local := now.In(time.Local)
	return time.Date(day.Year(), day.Month(), day.Day(), local.Hour(), local.Minute(), local.Second(), 0, time.Local), nil
}

// ListTodayReminders 返回患者当天的提醒及勾选状态
func (a *API) ListTodayReminders(c *gin.Context) {
	patientID, err := parseUintParam(c, "patientId")
	if err != nil {
		respondError(c, http.StatusBadRequest, locale.CodeInvalidID)
		return
	}

	day, err := parseDay(c.Query("date"), a.now())
	if err != nil {
		respondError(c, http.StatusBadRequest, locale.CodeBadDate)
		return
	}

	views, err := a.queries.TodayReminders(patientID, day)
	if err != nil {
		a.handleServiceError(c, "list reminders", err)
		return
	}

	items := make([]gin.H, 0, len(views))
	for _, view := range views {
		item := reminderToPayload(view.Reminder)
		item["taken"] = view.Taken
		items = append(items, item)
	}

	c.JSON(http.StatusOK, gin.H{
		"date":      day.Format(dateFormat),
		"reminders": items,
	})
}

// ListTaken 返回已服用的提醒 ID；带 date 参数时只统计当天
func (a *API) ListTaken(c *gin.Context) {
	patientID, err := parseUintParam(c, "patientId")
	if err != nil {
		respondError(c, http.StatusBadRequest, locale.CodeInvalidID)
		return
	}

	var taken map[uint]struct{}
	if raw := strings.TrimSpace(c.Query("date")); raw != "" {
		day, err := parseDay(raw, a.now())
		if err != nil {
			respondError(c, http.StatusBadRequest, locale.CodeBadDate)
			return
		}
		taken, err = a.ledger.TakenOn(patientID, day)
		if err != nil {
			a.handleServiceError(c, "list taken", err)
			return
		}
	} else {
		taken, err = a.ledger.TakenSet(patientID)
		if err != nil {
			a.handleServiceError(c, "list taken", err)
			return
		}
	}

	ids := make([]uint, 0, len(taken))
	for id := range taken {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	c.JSON(http.StatusOK, gin.H{"reminder_ids": ids})
}

// GetPoints 返回积分、连胜与等级
func (a *API) GetPoints(c *gin.Context) {
	patientID, err := parseUintParam(c, "patientId")
	if err != nil {
		respondError(c, http.StatusBadRequest, locale.CodeInvalidID)
		return
	}

	summary, err := a.queries.PointsSummary(patientID)
	if err != nil {
		a.handleServiceError(c, "points summary", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"points": gin.H{
		"patient_id":     summary.PatientID,
		"current_points": summary.CurrentPoints,
		"overall_points": summary.OverallPoints,
		"streak":         summary.Streak,
		"rank":           summary.Rank,
	}})
}

// DeductPoints 扣减可用积分
func (a *API) DeductPoints(c *gin.Context) {
	patientID, err := parseUintParam(c, "patientId")
	if err != nil {
		respondError(c, http.StatusBadRequest, locale.CodeInvalidID)
		return
	}

	var payload deductPayload
	if !bindJSON(c, &payload) {
		return
	}

	tracker, err := a.points.Deduct(patientID, payload.Amount, a.now())
	if err != nil {
		a.handleServiceError(c, "deduct points", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"points": trackerToPayload(*tracker)})
}

// ActivateEffect 直接激活效果，不扣积分
func (a *API) ActivateEffect(c *gin.Context) {
	patientID, err := parseUintParam(c, "patientId")
	if err != nil {
		respondError(c, http.StatusBadRequest, locale.CodeInvalidID)
		return
	}

	var payload effectPayload
	if !bindJSON(c, &payload) {
		return
	}

	var duration *time.Duration
	if payload.DurationSeconds != nil {
		d := time.Duration(*payload.DurationSeconds) * time.Second
		duration = &d
	}

	now := a.now()
	effect, err := a.effects.Activate(patientID, payload.EffectID, duration, now)
	if err != nil {
		a.handleServiceError(c, "activate effect", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"effect": effectToPayload(*effect, now)})
}

// PurchaseEffect 按商店价格购买效果
func (a *API) PurchaseEffect(c *gin.Context) {
	patientID, err := parseUintParam(c, "patientId")
	if err != nil {
		respondError(c, http.StatusBadRequest, locale.CodeInvalidID)
		return
	}

	var payload effectPayload
	if !bindJSON(c, &payload) {
		return
	}

	now := a.now()
	effect, tracker, err := a.points.Purchase(patientID, strings.ToLower(strings.TrimSpace(payload.EffectID)), now)
	if err != nil {
		a.handleServiceError(c, "purchase effect", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"effect": effectToPayload(*effect, now),
		"points": trackerToPayload(*tracker),
	})
}

// ListEffects 返回有效道具、剩余时间以及当前主题
func (a *API) ListEffects(c *gin.Context) {
	patientID, err := parseUintParam(c, "patientId")
	if err != nil {
		respondError(c, http.StatusBadRequest, locale.CodeInvalidID)
		return
	}

	now := a.now()
	views, err := a.queries.ActiveEffects(patientID, now)
	if err != nil {
		a.handleServiceError(c, "list effects", err)
		return
	}
	theme, err := a.queries.CurrentTheme(patientID, now)
	if err != nil {
		a.handleServiceError(c, "current theme", err)
		return
	}

	items := make([]gin.H, 0, len(views))
	for _, view := range views {
		item := gin.H{
			"effect_id":  view.EffectID,
			"created_at": view.CreatedAt.Format(time.RFC3339),
		}
		if view.ExpiresAt != nil {
			item["expires_at"] = view.ExpiresAt.Format(time.RFC3339)
		}
		if view.Remaining != nil {
			item["remaining_seconds"] = int64(view.Remaining.Seconds())
		}
		items = append(items, item)
	}

	c.JSON(http.StatusOK, gin.H{"effects": items, "theme": theme})
}

// EvaluateStreak 判定某天（默认昨天）是否达标并更新连胜
func (a *API) EvaluateStreak(c *gin.Context) {
	patientID, err := parseUintParam(c, "patientId")
	if err != nil {
		respondError(c, http.StatusBadRequest, locale.CodeInvalidID)
		return
	}

	var payload evaluatePayload
	if c.Request.ContentLength > 0 && !bindJSON(c, &payload) {
		return
	}

	now := a.now()
	day, err := parseDay(payload.Date, now.AddDate(0, 0, -1))
	if err != nil {
		respondError(c, http.StatusBadRequest, locale.CodeBadDate)
		return
	}

	evaluation, err := a.points.EvaluateDay(patientID, day, now)
	if err != nil {
		a.handleServiceError(c, "evaluate streak", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"evaluation": gin.H{
		"date":      evaluation.Date,
		"outcome":   evaluation.Outcome,
		"scheduled": evaluation.Scheduled,
		"taken":     evaluation.Taken,
		"shielded":  evaluation.Shielded,
		"streak":    evaluation.Streak,
	}})
}

func trackerToPayload(tracker db.PointsTracker) gin.H {
	return gin.H{
		"patient_id":     tracker.PatientID,
		"current_points": tracker.CurrentPoints,
		"overall_points": tracker.OverallPoints,
		"streak":         tracker.Streak,
		"rank":           service.Rank(tracker.OverallPoints),
	}
}

func effectToPayload(effect db.ActiveEffect, now time.Time) gin.H {
	payload := gin.H{
		"id":         effect.ID,
		"effect_id":  effect.EffectID,
		"created_at": effect.CreatedAt.Format(time.RFC3339),
	}
	if effect.ExpiresAt != nil {
		payload["expires_at"] = effect.ExpiresAt.Format(time.RFC3339)
		remaining := effect.ExpiresAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		payload["remaining_seconds"] = int64(remaining.Seconds())
	}
	return payload
}
