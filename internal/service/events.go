package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventThemeChanged 在购买主题效果后发布，供展示层切换外观
const EventThemeChanged = "theme.changed"

// Event 是发往展示层的领域事件
type Event struct {
	Type      string    `json:"type"`
	PatientID uint      `json:"patient_id"`
	EffectID  string    `json:"effect_id"`
	At        time.Time `json:"at"`
}

// EventPublisher 发布领域事件
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// RedisPublisher 通过 Redis PUBLISH 广播事件
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher 构造 RedisPublisher
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// LogPublisher 在未配置 Redis 时只记录事件
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher 构造 LogPublisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	p.logger.Info("domain event",
		zap.String("type", event.Type),
		zap.Uint("patient_id", event.PatientID),
		zap.String("effect_id", event.EffectID),
		zap.Time("at", event.At))
	return nil
}
