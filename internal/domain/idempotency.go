// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// Idempotency represents a recorded result of a previously processed send
// request, keyed by (creator_id, fan_id, key). It enables safe retries of
// the dashboard send-message endpoint by returning the originally produced
// message without re-sending through the platform.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	CreatorID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_creator_fan_key,priority:1"`
	FanID     string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_creator_fan_key,priority:2"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_creator_fan_key,priority:3"`
	MessageID string    `gorm:"type:TEXT NOT NULL"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
