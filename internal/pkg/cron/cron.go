package cron

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/qs3c/docgen_server/internal/model"
	"github.com/qs3c/docgen_server/internal/pkg/queue"
	"github.com/qs3c/docgen_server/internal/repository"
)

// WorkspacePrefix 工作区目录前缀，与 worker.Manager 保持一致
const WorkspacePrefix = "docgen_"

const (
	workerLostMessage = "worker lost"
	requeueBatch      = 100
)

// Pusher 重新入队
type Pusher interface {
	Push(ctx context.Context, msg *queue.JobMessage) error
}

type Options struct {
	WorkspaceRoot string
	StaleAfter    time.Duration
	Interval      time.Duration
	ExpireAfter   time.Duration
}

// Service 崩溃恢复与工作区清理
type Service struct {
	jobRepo   *repository.JobRepository
	eventRepo *repository.JobEventRepository
	queue     Pusher
	opts      Options
	stopChan  chan struct{}
}

func NewService(
	jobRepo *repository.JobRepository,
	eventRepo *repository.JobEventRepository,
	q Pusher,
	opts Options,
) *Service {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.ExpireAfter <= 0 {
		opts.ExpireAfter = time.Hour
	}
	return &Service{
		jobRepo:   jobRepo,
		eventRepo: eventRepo,
		queue:     q,
		opts:      opts,
		stopChan:  make(chan struct{}),
	}
}

// Start 启动定时任务
func (s *Service) Start() {
	go s.runRecovery()
	go s.runSweep()
	log.Printf("Cron service started (recovery every %s, sweep %s)", s.opts.Interval, s.opts.WorkspaceRoot)
}

// Stop 停止定时任务
func (s *Service) Stop() {
	close(s.stopChan)
	log.Println("Cron service stopped")
}

func (s *Service) runRecovery() {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			ctx := context.Background()
			failed := s.RecoverStale(ctx)
			requeued := s.RequeuePending(ctx)
			if failed+requeued > 0 {
				log.Printf("Recovery summary: stale_failed=%d, requeued=%d", failed, requeued)
			}
		}
	}
}

func (s *Service) runSweep() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			if n := s.SweepWorkspaces(); n > 0 {
				log.Printf("Cleanup summary: workspaces=%d", n)
			}
		}
	}
}

// RecoverStale 心跳超时的 running 任务判定为 worker 丢失，直接失败
func (s *Service) RecoverStale(ctx context.Context) int {
	if s.opts.StaleAfter <= 0 {
		return 0
	}

	jobs, err := s.jobRepo.ListStale(time.Now().Add(-s.opts.StaleAfter))
	if err != nil {
		log.Printf("Recovery: failed to list stale jobs: %v", err)
		return 0
	}

	count := 0
	for _, job := range jobs {
		err := s.jobRepo.Finish(job.ID, model.JobStatusFailed, &model.JobResult{
			ErrorKind:    model.ErrorKindFatal,
			ErrorMessage: workerLostMessage,
		})
		if err != nil {
			// 已被 worker 自己写入终态
			if !errors.Is(err, repository.ErrJobTerminal) {
				log.Printf("Recovery: failed to fail job %d: %v", job.ID, err)
			}
			continue
		}

		if s.eventRepo != nil {
			s.eventRepo.Append(&model.JobEvent{
				JobID:     job.ID,
				Status:    model.JobStatusFailed,
				Stage:     job.Stage,
				ErrorKind: model.ErrorKindFatal,
				Message:   workerLostMessage,
			}, map[string]interface{}{"last_heartbeat": job.UpdatedAt})
		}
		log.Printf("Recovery: job %d failed as worker lost (stage=%s)", job.ID, job.Stage)
		count++
	}
	return count
}

// RequeuePending 长时间未被领取的 pending 任务重新入队
func (s *Service) RequeuePending(ctx context.Context) int {
	jobs, err := s.jobRepo.ListPending(time.Now().Add(-s.opts.Interval), requeueBatch)
	if err != nil {
		log.Printf("Recovery: failed to list pending jobs: %v", err)
		return 0
	}

	count := 0
	for _, job := range jobs {
		msg := &queue.JobMessage{
			JobID:        job.ID,
			RepositoryID: job.RepositoryID,
			OwnerID:      job.OwnerID,
		}
		if err := s.queue.Push(ctx, msg); err != nil {
			log.Printf("Recovery: failed to requeue job %d: %v", job.ID, err)
			continue
		}
		s.jobRepo.Touch(job.ID)
		count++
	}
	return count
}

// SweepWorkspaces 清理过期的工作区目录（<root>/docgen_*）
func (s *Service) SweepWorkspaces() int {
	root := s.opts.WorkspaceRoot
	if root == "" {
		root = os.TempDir()
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		log.Printf("Cleanup workspaces: failed to read dir %s: %v", root, err)
		return 0
	}

	cleaned := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), WorkspacePrefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if time.Since(info.ModTime()) > s.opts.ExpireAfter {
			dirPath := filepath.Join(root, entry.Name())
			if err := os.RemoveAll(dirPath); err != nil {
				log.Printf("Cleanup workspaces: failed to remove %s: %v", dirPath, err)
			} else {
				cleaned++
			}
		}
	}
	return cleaned
}
