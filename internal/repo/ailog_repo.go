// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for AI response
// logs and their usage analytics.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sorotech/go-creator-backend/internal/domain"
)

// CreateAILog records one generation. messageID may be empty when the
// generation was not tied to a stored message.
func CreateAILog(ctx context.Context, db *gorm.DB, creatorID, messageID, inputText, outputText string, latencyMs int) (*domain.AIResponseLog, error) {
	l := &domain.AIResponseLog{
		ID:         uuid.NewString(),
		CreatorID:  creatorID,
		InputText:  inputText,
		OutputText: outputText,
		LatencyMs:  latencyMs,
		CreatedAt:  time.Now().UTC(),
	}
	if messageID != "" {
		l.MessageID = &messageID
	}
	if err := db.WithContext(ctx).Create(l).Error; err != nil {
		return nil, err
	}
	return l, nil
}

// MarkAILogUsed flags a log row as used and records whether the operator
// edited the text before sending. Returns ErrNotFound for an unknown id.
func MarkAILogUsed(ctx context.Context, db *gorm.DB, id string, wasEdited bool) error {
	res := db.WithContext(ctx).
		Model(&domain.AIResponseLog{}).
		Where("id = ?", id).
		Updates(map[string]any{"was_used": true, "was_edited": wasEdited})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAILogs returns the most recent log rows for a creator.
func ListAILogs(ctx context.Context, db *gorm.DB, creatorID string, limit int) ([]domain.AIResponseLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []domain.AIResponseLog
	err := db.WithContext(ctx).
		Where("creator_id = ?", creatorID).
		Order("created_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// AILogStats aggregates generation analytics for one creator.
type AILogStats struct {
	TotalGenerated int64 `json:"total_generated"`
	TotalUsed      int64 `json:"total_used"`
	TotalEdited    int64 `json:"total_edited"`
	AvgLatencyMs   int   `json:"avg_latency_ms"`
	EditRatePct    int   `json:"edit_rate_pct"`
}

// GetAILogStats computes totals, average latency, and the edit rate (the
// percentage of used responses the operator had to edit).
func GetAILogStats(ctx context.Context, db *gorm.DB, creatorID string) (*AILogStats, error) {
	var row struct {
		TotalGenerated int64
		TotalUsed      int64
		TotalEdited    int64
		AvgLatency     float64
	}
	err := db.WithContext(ctx).Raw(`
		SELECT
			COUNT(*)                                         AS total_generated,
			SUM(CASE WHEN was_used   THEN 1 ELSE 0 END)      AS total_used,
			SUM(CASE WHEN was_edited THEN 1 ELSE 0 END)      AS total_edited,
			COALESCE(AVG(latency_ms), 0)                     AS avg_latency
		FROM ai_response_logs
		WHERE creator_id = ? AND deleted_at IS NULL`, creatorID).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}

	stats := &AILogStats{
		TotalGenerated: row.TotalGenerated,
		TotalUsed:      row.TotalUsed,
		TotalEdited:    row.TotalEdited,
		AvgLatencyMs:   int(row.AvgLatency + 0.5),
	}
	if stats.TotalUsed > 0 {
		stats.EditRatePct = int(float64(stats.TotalEdited)/float64(stats.TotalUsed)*100 + 0.5)
	}
	return stats, nil
}
