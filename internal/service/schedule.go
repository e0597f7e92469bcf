package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/medreminder/internal/db"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"

	// reminderValidDays 为提醒有效期，固定策略不可配置
	reminderValidDays = 30
)

// 频率编码
const (
	FrequencyOnceDaily     = "ONCE_DAILY"
	FrequencyTwiceDaily    = "TWICE_DAILY"
	FrequencyThreeDaily    = "THREE_DAILY"
	FrequencyFourDaily     = "FOUR_DAILY"
	FrequencyOnceWeekly    = "ONCE_WEEKLY"
	FrequencyEveryOtherDay = "EVERY_OTHER_DAY"
	FrequencyAsNeeded      = "AS_NEEDED"
)

var frequencyCounts = map[string]int{
	FrequencyOnceDaily:     1,
	FrequencyTwiceDaily:    2,
	FrequencyThreeDaily:    3,
	FrequencyFourDaily:     4,
	FrequencyOnceWeekly:    1,
	FrequencyEveryOtherDay: 1,
	FrequencyAsNeeded:      1,
}

// OccurrenceCount 返回频率对应的每日提醒次数
func OccurrenceCount(frequency string) (int, bool) {
	count, ok := frequencyCounts[normalizeFrequency(frequency)]
	return count, ok
}

// ClockTime 是 12 小时制的提醒时间
type ClockTime struct {
	Hour   int
	Minute int
	Period string // AM / PM
}

// To24Hour 转换为补零的 HH:mm：12 AM → 00，12 PM → 12，其余 PM 加 12
func (t ClockTime) To24Hour() (string, error) {
	if t.Hour < 1 || t.Hour > 12 {
		return "", invalid(ReasonBadTime, "hour %d out of range 1-12", t.Hour)
	}
	if t.Minute < 0 || t.Minute > 59 {
		return "", invalid(ReasonBadTime, "minute %d out of range 0-59", t.Minute)
	}

	hour := t.Hour
	switch strings.ToUpper(strings.TrimSpace(t.Period)) {
	case "AM":
		if hour == 12 {
			hour = 0
		}
	case "PM":
		if hour != 12 {
			hour += 12
		}
	default:
		return "", invalid(ReasonBadTime, "unknown period %q", t.Period)
	}

	return fmt.Sprintf("%02d:%02d", hour, t.Minute), nil
}

// ScheduleRequest 描述一次提醒生成请求
type ScheduleRequest struct {
	MedicationID uint
	PatientID    uint
	Frequency    string
	Times        []ClockTime
	StartDate    string
}

// ScheduleGenerator 将频率与时间点展开为具体提醒，本身不做持久化
type ScheduleGenerator struct{}

// Generate 校验请求并返回待保存的提醒；所有提醒共享 StartDate，EndDate = StartDate + 30 天
func (ScheduleGenerator) Generate(req ScheduleRequest, now time.Time) ([]db.Reminder, error) {
	frequency := normalizeFrequency(req.Frequency)
	expected, ok := frequencyCounts[frequency]
	if !ok {
		return nil, invalid(ReasonBadFrequency, "unsupported frequency %q", req.Frequency)
	}

	if len(req.Times) != expected {
		return nil, invalid(ReasonTimeCountMismatch, "%s expects %d times, got %d", frequency, expected, len(req.Times))
	}

	start, err := parseStartDate(req.StartDate, now)
	if err != nil {
		return nil, err
	}
	startDate := start.Format(dateLayout)
	endDate := start.AddDate(0, 0, reminderValidDays).Format(dateLayout)

	reminders := make([]db.Reminder, 0, len(req.Times))
	for _, clock := range req.Times {
		hhmm, err := clock.To24Hour()
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, db.Reminder{
			MedicationID: req.MedicationID,
			PatientID:    req.PatientID,
			ScheduleTime: hhmm,
			Frequency:    frequency,
			StartDate:    startDate,
			EndDate:      endDate,
		})
	}

	return reminders, nil
}

// parseStartDate 严格解析 YYYY-MM-DD（拒绝 2024-02-30），且不得早于 now 所在日期
func parseStartDate(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	start, err := time.ParseInLocation(dateLayout, value, now.Location())
	if err != nil {
		return time.Time{}, invalid(ReasonBadDate, "start date %q is not a calendar date", value)
	}

	if start.Before(startOfDay(now)) {
		return time.Time{}, invalid(ReasonBadDate, "start date %s is in the past", value)
	}

	return start, nil
}

func normalizeFrequency(frequency string) string {
	return strings.ToUpper(strings.TrimSpace(frequency))
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func dateKey(t time.Time) string {
	return t.Format(dateLayout)
}

// scheduledFor 组合日期与 HH:mm，得到该提醒当天的具体时间
func scheduledFor(day time.Time, hhmm string) (time.Time, error) {
	clock, err := time.Parse(clockLayout, hhmm)
	if err != nil {
		return time.Time{}, invalid(ReasonBadTime, "schedule time %q", hhmm)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, day.Location()), nil
}
