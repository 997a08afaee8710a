package model

import (
	"time"

	"gorm.io/datatypes"
)

// JobEvent 任务状态流转记录，只追加不修改
type JobEvent struct {
	ID        int64          `gorm:"primaryKey" json:"id"`
	JobID     int64          `gorm:"not null;index" json:"job_id"`
	Status    string         `gorm:"size:20;not null" json:"status"`
	Stage     string         `gorm:"size:20" json:"stage"`
	Attempt   int            `json:"attempt,omitempty"`
	ErrorKind string         `gorm:"size:40" json:"error_kind,omitempty"`
	Message   string         `gorm:"type:text" json:"message,omitempty"`
	Detail    datatypes.JSON `json:"detail,omitempty"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

func (JobEvent) TableName() string {
	return "job_events"
}
