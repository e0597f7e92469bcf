package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation 输入不合法，调用方需修正后再提交，不重试
	ErrValidation = errors.New("validation failed")
	// ErrNotFound 引用的药物/提醒/记录不存在
	ErrNotFound = errors.New("not found")
	// ErrDuplicateSchedule 同一提醒在同一时间已存在服药记录
	ErrDuplicateSchedule = errors.New("occurrence already scheduled")
	// ErrAlreadyActive 同一效果尚未过期
	ErrAlreadyActive = errors.New("effect already active")
	// ErrConcurrencyConflict 并发竞争失败，可重试一次
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrStorage 持久化层失败
	ErrStorage = errors.New("storage failure")
	// ErrPartialSchedule 提醒已写入但服药记录未全部建立
	ErrPartialSchedule = errors.New("reminders created but occurrences not fully scheduled")
	// ErrInsufficientPoints 可用积分不足以购买
	ErrInsufficientPoints = errors.New("insufficient points")
)

// 校验失败原因
const (
	ReasonTimeCountMismatch = "time-count-mismatch"
	ReasonBadDate           = "bad-date"
	ReasonBadTime           = "bad-time"
	ReasonBadFrequency      = "bad-frequency"
	ReasonBadEffect         = "bad-effect"
	ReasonBadDuration       = "bad-duration"
	ReasonBadAmount         = "bad-amount"
	ReasonBadInput          = "bad-input"
)

// ValidationError 携带具体原因，errors.Is(err, ErrValidation) 成立
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Reason, e.Detail)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(reason, format string, args ...any) error {
	return &ValidationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// ValidationReason 返回校验错误的原因，非校验错误返回空串
func ValidationReason(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Reason
	}
	return ""
}

// StorageError 包装底层数据库错误
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// storageError 将数据库错误归类：锁冲突视为并发冲突，其余为存储错误
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isClassified(err) {
		return err
	}
	if isLockError(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrConcurrencyConflict, err)
	}
	return &StorageError{Op: op, Err: err}
}

func isClassified(err error) bool {
	for _, target := range []error{
		ErrValidation, ErrNotFound, ErrDuplicateSchedule, ErrAlreadyActive,
		ErrConcurrencyConflict, ErrStorage, ErrPartialSchedule, ErrInsufficientPoints,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isLockError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

// PartialScheduleError 表示提醒已持久化，但部分当日服药记录创建失败。
// 调用方可通过 AdherenceLedger.EnsureDay 补齐。
type PartialScheduleError struct {
	Batch  *ReminderBatch
	Failed []uint
	Err    error
}

func (e *PartialScheduleError) Error() string {
	return fmt.Sprintf("%v: %d of %d failed: %v", ErrPartialSchedule, len(e.Failed), len(e.Batch.Reminders), e.Err)
}

func (e *PartialScheduleError) Unwrap() error { return e.Err }

func (e *PartialScheduleError) Is(target error) bool {
	return target == ErrPartialSchedule
}
