package service

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/docgen_server/internal/model"
	"github.com/qs3c/docgen_server/internal/model/dto"
	"github.com/qs3c/docgen_server/internal/pkg/repourl"
	"github.com/qs3c/docgen_server/internal/repository"
)

var (
	ErrRepositoryNotFound   = errors.New("仓库不存在")
	ErrRepositoryPermission = errors.New("无权操作此仓库")
	ErrRepositoryConflict   = errors.New("该仓库已连接")
)

type RepositoryService struct {
	repoRepo *repository.RepositoryRepository
}

func NewRepositoryService(repoRepo *repository.RepositoryRepository) *RepositoryService {
	return &RepositoryService{repoRepo: repoRepo}
}

// Connect 连接仓库，同一用户重复连接返回冲突
func (s *RepositoryService) Connect(ownerID int64, req *dto.ConnectRepositoryRequest) (*dto.RepositoryItem, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	u, err := repourl.Parse(req.RepoURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	repo := newRepository(ownerID, u, req.DisplayName)
	if err := s.repoRepo.Create(repo); err != nil {
		if errors.Is(err, repository.ErrRepositoryExists) {
			return nil, ErrRepositoryConflict
		}
		return nil, err
	}
	return buildRepositoryItem(repo), nil
}

func (s *RepositoryService) List(ownerID int64) ([]*dto.RepositoryItem, error) {
	repos, err := s.repoRepo.ListByOwner(ownerID)
	if err != nil {
		return nil, err
	}
	items := make([]*dto.RepositoryItem, len(repos))
	for i, r := range repos {
		items[i] = buildRepositoryItem(r)
	}
	return items, nil
}

// SetWebhook 开启或关闭 push 自动生成
func (s *RepositoryService) SetWebhook(ownerID, repositoryID int64, req *dto.SetWebhookRequest) (*dto.RepositoryItem, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	repo, err := s.repoRepo.GetByID(repositoryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRepositoryNotFound
		}
		return nil, err
	}
	if repo.OwnerID != ownerID {
		return nil, ErrRepositoryPermission
	}

	if err := s.repoRepo.UpdateWebhookKind(repo.ID, req.Kind); err != nil {
		return nil, err
	}
	repo.WebhookKind = req.Kind
	return buildRepositoryItem(repo), nil
}

func newRepository(ownerID int64, u *repourl.RepoURL, displayName string) *model.Repository {
	if displayName == "" {
		displayName = u.Name
	}
	return &model.Repository{
		OwnerID:      ownerID,
		CanonicalURL: u.Canonical(),
		DisplayName:  displayName,
		Host:         u.Host,
		FullName:     u.FullName(),
	}
}

func buildRepositoryItem(r *model.Repository) *dto.RepositoryItem {
	return &dto.RepositoryItem{
		ID:           r.ID,
		CanonicalURL: r.CanonicalURL,
		DisplayName:  r.DisplayName,
		Host:         r.Host,
		FullName:     r.FullName,
		WebhookKind:  r.WebhookKind,
		CreatedAt:    r.CreatedAt.Format(time.RFC3339),
	}
}
