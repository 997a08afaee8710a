package repository

import (
	"encoding/json"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/qs3c/docgen_server/internal/model"
)

type JobEventRepository struct {
	db *gorm.DB
}

func NewJobEventRepository(db *gorm.DB) *JobEventRepository {
	return &JobEventRepository{db: db}
}

// Append 追加一条流转记录，detail 为可选的附加信息
func (r *JobEventRepository) Append(event *model.JobEvent, detail map[string]interface{}) error {
	if len(detail) > 0 {
		data, err := json.Marshal(detail)
		if err != nil {
			return err
		}
		event.Detail = datatypes.JSON(data)
	}
	return r.db.Create(event).Error
}

func (r *JobEventRepository) ListByJob(jobID int64) ([]*model.JobEvent, error) {
	var events []*model.JobEvent
	err := r.db.Where("job_id = ?", jobID).Order("id ASC").Find(&events).Error
	return events, err
}
