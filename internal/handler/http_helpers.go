package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/medreminder/internal/locale"
	"github.com/medreminder/internal/service"
	"go.uber.org/zap"
)

const dateFormat = "2006-01-02"

var reasonCodes = map[string]string{
	service.ReasonTimeCountMismatch: locale.CodeTimeCountMismatch,
	service.ReasonBadDate:           locale.CodeBadDate,
	service.ReasonBadTime:           locale.CodeBadTime,
	service.ReasonBadFrequency:      locale.CodeBadFrequency,
	service.ReasonBadEffect:         locale.CodeBadEffect,
	service.ReasonBadDuration:       locale.CodeBadDuration,
	service.ReasonBadAmount:         locale.CodeBadAmount,
	service.ReasonBadInput:          locale.CodeInvalidRequest,
}

func respondError(c *gin.Context, status int, code string) {
	c.JSON(status, gin.H{
		"error": locale.Message(requestLocale(c).Language, code),
		"code":  code,
	})
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, locale.CodeInvalidRequest)
		return false
	}
	return true
}

func parseUintParam(c *gin.Context, key string) (uint, error) {
	raw := c.Param(key)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return uint(id), nil
}

// parseDay 解析 YYYY-MM-DD，空值返回 fallback
func parseDay(raw string, fallback time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	return time.ParseInLocation(dateFormat, raw, time.Local)
}

// errorCode 将业务错误映射为 HTTP 状态码与错误码
func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		if code, ok := reasonCodes[service.ValidationReason(err)]; ok {
			return http.StatusBadRequest, code
		}
		return http.StatusBadRequest, locale.CodeInvalidRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, locale.CodeNotFound
	case errors.Is(err, service.ErrDuplicateSchedule):
		return http.StatusConflict, locale.CodeDuplicateSchedule
	case errors.Is(err, service.ErrAlreadyActive):
		return http.StatusConflict, locale.CodeAlreadyActive
	case errors.Is(err, service.ErrInsufficientPoints):
		return http.StatusBadRequest, locale.CodeInsufficientPoints
	case errors.Is(err, service.ErrConcurrencyConflict):
		return http.StatusConflict, locale.CodeConcurrencyConflict
	case errors.Is(err, service.ErrPartialSchedule):
		return http.StatusMultiStatus, locale.CodePartialSchedule
	default:
		return http.StatusInternalServerError, locale.CodeInternal
	}
}

func (a *API) handleServiceError(c *gin.Context, op string, err error) {
	status, code := errorCode(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error(op+" failed",
			zap.String("request_id", c.GetString(requestIDContextKey)),
			zap.Error(err))
	}
	respondError(c, status, code)
}
