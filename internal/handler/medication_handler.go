package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/medreminder/internal/db"
	"github.com/medreminder/internal/locale"
	"github.com/medreminder/internal/service"
	"go.uber.org/zap"
)

type medicationPayload struct {
	PatientID uint   `json:"patient_id"`
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Route     string `json:"route"`
	Frequency string `json:"frequency"`
	StartDate string `json:"start_date"`
}

type clockPayload struct {
	Hour   int    `json:"hour"`
	Minute int    `json:"minute"`
	Period string `json:"period"`
}

type reminderPayload struct {
	Frequency string         `json:"frequency"`
	Times     []clockPayload `json:"times"`
	StartDate string         `json:"start_date"`
}

func (p medicationPayload) input() service.MedicationInput {
	return service.MedicationInput{
		PatientID: p.PatientID,
		Name:      p.Name,
		Dosage:    p.Dosage,
		Route:     p.Route,
		Frequency: p.Frequency,
		StartDate: p.StartDate,
	}
}

// CreateMedication 新建药物
func (a *API) CreateMedication(c *gin.Context) {
	var payload medicationPayload
	if !bindJSON(c, &payload) {
		return
	}

	medication, err := a.medications.Create(payload.input())
	if err != nil {
		a.handleServiceError(c, "create medication", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"medication": medicationToPayload(*medication)})
}

// GetMedication 返回单个药物
func (a *API) GetMedication(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, locale.CodeInvalidID)
		return
	}

	medication, err := a.medications.Get(id)
	if err != nil {
		a.handleServiceError(c, "get medication", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"medication": medicationToPayload(*medication)})
}

// UpdateMedication 管理员编辑药物
func (a *API) UpdateMedication(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, locale.CodeInvalidID)
		return
	}

	var payload medicationPayload
	if !bindJSON(c, &payload) {
		return
	}

	medication, err := a.medications.Update(id, payload.input())
	if err != nil {
		a.handleServiceError(c, "update medication", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"medication": medicationToPayload(*medication)})
}

// DeleteMedication 删除药物及其提醒
func (a *API) DeleteMedication(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, locale.CodeInvalidID)
		return
	}

	if err := a.medications.Delete(id); err != nil {
		a.handleServiceError(c, "delete medication", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// CreateReminders 按频率为药物生成提醒，并登记起始日的服药记录。
// 部分登记失败时返回 207，提醒本身已保存。
func (a *API) CreateReminders(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, locale.CodeInvalidID)
		return
	}

	var payload reminderPayload
	if !bindJSON(c, &payload) {
		return
	}

	times := make([]service.ClockTime, 0, len(payload.Times))
	for _, t := range payload.Times {
		times = append(times, service.ClockTime{Hour: t.Hour, Minute: t.Minute, Period: t.Period})
	}

	batch, err := a.medications.CreateReminders(service.ReminderInput{
		MedicationID: id,
		Frequency:    payload.Frequency,
		Times:        times,
		StartDate:    payload.StartDate,
	}, a.now())

	var partial *service.PartialScheduleError
	if errors.As(err, &partial) {
		a.logger.Warn("reminders partially scheduled",
			zap.Uint("medication_id", id),
			zap.Uints("failed", partial.Failed),
			zap.Error(partial.Err))
		body := batchToPayload(batch)
		body["failed"] = partial.Failed
		body["code"] = locale.CodePartialSchedule
		body["error"] = locale.Message(requestLocale(c).Language, locale.CodePartialSchedule)
		c.JSON(http.StatusMultiStatus, body)
		return
	}
	if err != nil {
		a.handleServiceError(c, "create reminders", err)
		return
	}

	c.JSON(http.StatusCreated, batchToPayload(batch))
}

func medicationToPayload(medication db.Medication) gin.H {
	return gin.H{
		"id":         medication.ID,
		"patient_id": medication.PatientID,
		"name":       medication.Name,
		"dosage":     medication.Dosage,
		"route":      medication.Route,
		"frequency":  medication.Frequency,
		"start_date": medication.StartDate,
		"created_at": medication.CreatedAt.Format(time.RFC3339),
	}
}

func reminderToPayload(reminder db.Reminder) gin.H {
	return gin.H{
		"id":            reminder.ID,
		"medication_id": reminder.MedicationID,
		"patient_id":    reminder.PatientID,
		"schedule_time": reminder.ScheduleTime,
		"frequency":     reminder.Frequency,
		"start_date":    reminder.StartDate,
		"end_date":      reminder.EndDate,
		"batch_id":      reminder.BatchID,
	}
}

func recordToPayload(record db.AdherenceRecord) gin.H {
	payload := gin.H{
		"id":             record.ID,
		"reminder_id":    record.ReminderID,
		"patient_id":     record.PatientID,
		"scheduled_for":  record.ScheduledFor.Format(time.RFC3339),
		"scheduled_date": record.ScheduledDate,
		"status":         record.Status,
		"taken":          record.Taken,
		"points_awarded": record.PointsAwarded,
	}
	if record.TakenAt != nil {
		payload["taken_at"] = record.TakenAt.Format(time.RFC3339)
	}
	return payload
}

func batchToPayload(batch *service.ReminderBatch) gin.H {
	reminders := make([]gin.H, 0, len(batch.Reminders))
	for _, reminder := range batch.Reminders {
		reminders = append(reminders, reminderToPayload(reminder))
	}
	scheduled := make([]gin.H, 0, len(batch.Scheduled))
	for _, record := range batch.Scheduled {
		scheduled = append(scheduled, recordToPayload(record))
	}
	return gin.H{
		"batch_id":   batch.BatchID,
		"medication": medicationToPayload(batch.Medication),
		"reminders":  reminders,
		"scheduled":  scheduled,
	}
}
