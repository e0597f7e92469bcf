package db

import "time"

// PointsTracker 保存患者的积分与连续打卡天数，每个患者一行
// CurrentPoints 可消费；OverallPoints 为累计值，用于计算等级
// LastStreakDate 为最近一次参与连胜计算的日期 (YYYY-MM-DD)
type PointsTracker struct {
	ID             uint   `gorm:"primaryKey"`
	PatientID      uint   `gorm:"uniqueIndex;not null"`
	CurrentPoints  int    `gorm:"not null;default:0"`
	OverallPoints  int    `gorm:"not null;default:0"`
	Streak         int    `gorm:"not null;default:0"`
	LastStreakDate string `gorm:"size:10"`
	LastUpdated    time.Time
	CreatedAt      time.Time
}

// ActiveEffect 是患者购买的道具效果
// ExpiresAt 为空表示永久有效；存储为 UTC 以便直接比较
type ActiveEffect struct {
	ID        uint       `gorm:"primaryKey"`
	PatientID uint       `gorm:"not null;index:idx_effect_owner,unique"`
	EffectID  string     `gorm:"size:32;not null;index:idx_effect_owner,unique"`
	ExpiresAt *time.Time `gorm:"index"`
	CreatedAt time.Time
}
