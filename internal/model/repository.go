package model

import (
	"time"
)

// Repository 已连接的代码仓库，同一 owner 下 canonical_url 唯一
type Repository struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	OwnerID      int64     `gorm:"not null;uniqueIndex:idx_owner_url" json:"owner_id"`
	CanonicalURL string    `gorm:"size:255;not null;uniqueIndex:idx_owner_url;index" json:"canonical_url"`
	DisplayName  string    `gorm:"size:200" json:"display_name"`
	Host         string    `gorm:"size:100" json:"host"`
	FullName     string    `gorm:"size:200" json:"full_name"`
	WebhookKind  string    `gorm:"size:30" json:"webhook_kind,omitempty"` // 为空表示未开启 push 自动生成
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Repository) TableName() string {
	return "repositories"
}
