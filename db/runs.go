package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"vidprompt/apperr"
)

// PromptRun is one persisted generation and the configuration that produced it.
// Rows are never updated.
type PromptRun struct {
	ID        uint    `gorm:"primaryKey" json:"id"`
	VideoKey  *string `gorm:"size:500" json:"video_key"`
	VideoName *string `json:"video_name"`
	VideoSize *int64  `json:"video_size"`

	Template    string `gorm:"size:32;not null" json:"template"`
	Goal        string `json:"goal"`
	Language    string `gorm:"size:16" json:"language"`
	Style       string `json:"style"`
	FramesCount int    `json:"frames_count"`

	Summary        string                      `json:"summary"`
	Prompt         string                      `json:"prompt"`
	NegativePrompt string                      `json:"negative_prompt"`
	Tags           datatypes.JSONSlice[string] `gorm:"column:tags_json" json:"tags"`
	Notes          string                      `json:"notes"`

	RawJSON datatypes.JSON `gorm:"column:raw_json" json:"raw_json,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (PromptRun) TableName() string { return "prompt_runs" }

func CreateRun(ctx context.Context, dbConn *gorm.DB, run *PromptRun) error {
	if run.Tags == nil {
		run.Tags = datatypes.JSONSlice[string]{}
	}
	if err := dbConn.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("insert prompt run: %w", err)
	}
	return nil
}

// ListRuns returns a page of runs, newest first. The raw model response is
// left out of list rows.
func ListRuns(ctx context.Context, dbConn *gorm.DB, limit, offset int) ([]PromptRun, error) {
	runs := []PromptRun{}
	err := dbConn.WithContext(ctx).
		Omit("raw_json").
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("list prompt runs: %w", err)
	}
	return runs, nil
}

func GetRun(ctx context.Context, dbConn *gorm.DB, id uint) (*PromptRun, error) {
	var run PromptRun
	err := dbConn.WithContext(ctx).First(&run, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("prompt run %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get prompt run %d: %w", id, err)
	}
	return &run, nil
}

// DeleteRun removes the run and reports how many rows went away. A missing
// id is not an error.
func DeleteRun(ctx context.Context, dbConn *gorm.DB, id uint) (int64, error) {
	res := dbConn.WithContext(ctx).Delete(&PromptRun{}, id)
	if res.Error != nil {
		return 0, fmt.Errorf("delete prompt run %d: %w", id, res.Error)
	}
	return res.RowsAffected, nil
}
