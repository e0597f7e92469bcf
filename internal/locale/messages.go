package locale

// 错误码，与 HTTP 响应中的 code 字段一致
const (
	CodeInvalidRequest      = "invalid_request"
	CodeInvalidID           = "invalid_id"
	CodeTimeCountMismatch   = "time_count_mismatch"
	CodeBadDate             = "bad_date"
	CodeBadTime             = "bad_time"
	CodeBadFrequency        = "bad_frequency"
	CodeBadEffect           = "bad_effect"
	CodeBadDuration         = "bad_duration"
	CodeBadAmount           = "bad_amount"
	CodeNotFound            = "not_found"
	CodeDuplicateSchedule   = "duplicate_schedule"
	CodeAlreadyActive       = "already_active"
	CodeInsufficientPoints  = "insufficient_points"
	CodeConcurrencyConflict = "concurrency_conflict"
	CodePartialSchedule     = "partial_schedule"
	CodeRateLimited         = "rate_limited"
	CodeInternal            = "internal_error"
)

type message struct {
	english string
	chinese string
}

var messages = map[string]message{
	CodeInvalidRequest:      {"invalid request body", "请求参数格式错误"},
	CodeInvalidID:           {"invalid id", "无效的ID"},
	CodeTimeCountMismatch:   {"number of times does not match the frequency", "提醒时间数量与服药频率不符"},
	CodeBadDate:             {"invalid date", "日期不合法"},
	CodeBadTime:             {"invalid time", "时间不合法"},
	CodeBadFrequency:        {"unsupported frequency", "不支持的服药频率"},
	CodeBadEffect:           {"unknown effect", "未知的道具效果"},
	CodeBadDuration:         {"duration must be positive", "持续时间必须大于0"},
	CodeBadAmount:           {"amount must not be negative", "积分数量不能为负数"},
	CodeNotFound:            {"resource not found", "记录不存在"},
	CodeDuplicateSchedule:   {"occurrence already scheduled", "该提醒当天已登记"},
	CodeAlreadyActive:       {"effect is already active", "该效果仍在有效期内"},
	CodeInsufficientPoints:  {"not enough points", "积分不足"},
	CodeConcurrencyConflict: {"request conflicted with another update, please retry", "操作冲突，请重试"},
	CodePartialSchedule:     {"reminders saved but some of today's doses were not scheduled", "提醒已保存，但部分当日服药记录创建失败"},
	CodeRateLimited:         {"too many requests", "请求过于频繁"},
	CodeInternal:            {"internal server error", "服务器内部错误"},
}

// Message 返回错误码对应的提示语，未知错误码按内部错误处理
func Message(language, code string) string {
	msg, ok := messages[code]
	if !ok {
		msg = messages[CodeInternal]
	}
	return Pick(language, msg.english, msg.chinese)
}

// Pick 按语言返回对应文案，缺少该语言时退回另一种，默认中文
func Pick(language, english, chinese string) string {
	preferred, fallback := chinese, english
	if NormalizeLanguage(language) == LanguageEnglish {
		preferred, fallback = english, chinese
	}
	if preferred == "" {
		return fallback
	}
	return preferred
}
