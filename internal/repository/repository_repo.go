package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/qs3c/docgen_server/internal/model"
)

var ErrRepositoryExists = errors.New("repository already connected")

type RepositoryRepository struct {
	db *gorm.DB
}

func NewRepositoryRepository(db *gorm.DB) *RepositoryRepository {
	return &RepositoryRepository{db: db}
}

// Create 连接仓库；同一用户重复连接同一地址返回 ErrRepositoryExists
func (r *RepositoryRepository) Create(repo *model.Repository) error {
	if err := r.db.Create(repo).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrRepositoryExists
		}
		return err
	}
	return nil
}

func (r *RepositoryRepository) GetByID(id int64) (*model.Repository, error) {
	var repo model.Repository
	err := r.db.Where("id = ?", id).First(&repo).Error
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

func (r *RepositoryRepository) GetByOwnerAndURL(ownerID int64, canonicalURL string) (*model.Repository, error) {
	var repo model.Repository
	err := r.db.Where("owner_id = ? AND canonical_url = ?", ownerID, canonicalURL).First(&repo).Error
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

func (r *RepositoryRepository) ListByOwner(ownerID int64) ([]*model.Repository, error) {
	var repos []*model.Repository
	err := r.db.Where("owner_id = ?", ownerID).Order("id DESC").Find(&repos).Error
	return repos, err
}

// ListWebhookEnabledByURL 获取开启了 push 自动生成的仓库（可能属于多个用户）
func (r *RepositoryRepository) ListWebhookEnabledByURL(canonicalURL string) ([]*model.Repository, error) {
	var repos []*model.Repository
	err := r.db.Where("canonical_url = ? AND webhook_kind <> ?", canonicalURL, "").
		Order("id ASC").
		Find(&repos).Error
	return repos, err
}

func (r *RepositoryRepository) UpdateWebhookKind(id int64, kind string) error {
	return r.db.Model(&model.Repository{}).Where("id = ?", id).Update("webhook_kind", kind).Error
}
