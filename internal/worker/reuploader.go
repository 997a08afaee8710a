package worker

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/qs3c/docgen_server/internal/patch"
	"github.com/qs3c/docgen_server/internal/repository"
)

const reuploadInterval = 5 * time.Minute

// Reuploader 后台把只落在本地的补丁归档重传到 OSS
type Reuploader struct {
	jobRepo  *repository.JobRepository
	archive  patch.ArchiveStore
	localDir string
}

func NewReuploader(jobRepo *repository.JobRepository, archive patch.ArchiveStore, localDir string) *Reuploader {
	return &Reuploader{
		jobRepo:  jobRepo,
		archive:  archive,
		localDir: localDir,
	}
}

// Start 启动后台重传循环
func (r *Reuploader) Start(ctx context.Context) {
	// 启动后先执行一次
	r.Run()

	ticker := time.NewTicker(reuploadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Reuploader stopped")
			return
		case <-ticker.C:
			r.Run()
		}
	}
}

// Run 执行一轮重传，返回成功数量
func (r *Reuploader) Run() int {
	jobs, err := r.jobRepo.ListLocalArchives()
	if err != nil {
		log.Printf("Reuploader: failed to query local archives: %v", err)
		return 0
	}
	if len(jobs) == 0 {
		return 0
	}

	log.Printf("Reuploader: found %d local archives to re-upload", len(jobs))

	uploaded := 0
	for _, job := range jobs {
		localPath := patch.LocalArchivePath(r.localDir, job.ID)
		data, err := os.ReadFile(localPath)
		if err != nil {
			log.Printf("Reuploader: failed to read local archive %d: %v", job.ID, err)
			continue
		}

		url, err := r.archive.UploadPatchWithRetry(job.ID, job.Branch, data)
		if err != nil {
			log.Printf("Reuploader: failed to re-upload archive %d: %v", job.ID, err)
			continue
		}

		if err := r.jobRepo.UpdateArchiveURL(job.ID, url); err != nil {
			log.Printf("Reuploader: failed to update DB for archive %d: %v", job.ID, err)
			continue
		}

		os.Remove(localPath)
		uploaded++
		log.Printf("Reuploader: successfully re-uploaded archive %d to OSS", job.ID)
	}
	return uploaded
}
