package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/qs3c/docgen_server/config"
	"github.com/qs3c/docgen_server/internal/database"
	"github.com/qs3c/docgen_server/internal/pkg/cron"
	"github.com/qs3c/docgen_server/internal/pkg/jwt"
	"github.com/qs3c/docgen_server/internal/pkg/oss"
	"github.com/qs3c/docgen_server/internal/pkg/queue"
	"github.com/qs3c/docgen_server/internal/repository"
	"github.com/qs3c/docgen_server/internal/worker"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "docgen-cleanup",
		Short:        "Operator tasks for the documentation pipeline",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", envOr("CONFIG_PATH", "config.yaml"), "config file path")

	root.AddCommand(newSweepCmd())
	root.AddCommand(newRecoverCmd())
	root.AddCommand(newReuploadCmd())
	root.AddCommand(newTokenCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newSweepCmd() *cobra.Command {
	var expireHours int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired job workspaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if expireHours <= 0 {
				expireHours = cfg.Pipeline.WorkspaceExpireHours
			}

			svc := cron.NewService(nil, nil, nil, cron.Options{
				WorkspaceRoot: cfg.Pipeline.WorkspaceRoot,
				ExpireAfter:   time.Duration(expireHours) * time.Hour,
			})
			n := svc.SweepWorkspaces()
			log.Printf("Removed %d workspace(s) under %s", n, cfg.Pipeline.WorkspaceRoot)
			return nil
		},
	}
	cmd.Flags().IntVar(&expireHours, "expire-hours", 0, "workspace age threshold, defaults to pipeline.workspace_expire_hours")
	return cmd
}

func newRecoverCmd() *cobra.Command {
	var skipRequeue bool
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Fail stale running jobs and requeue pending ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			db, err := database.Open(&cfg.Database)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			rdb, err := database.NewRedis(&cfg.Redis)
			if err != nil {
				return fmt.Errorf("connect redis: %w", err)
			}

			svc := cron.NewService(
				repository.NewJobRepository(db),
				repository.NewJobEventRepository(db),
				queue.NewQueue(rdb, cfg.Queue.JobQueue),
				cron.Options{
					StaleAfter: time.Duration(cfg.Pipeline.StaleAfterMinutes) * time.Minute,
					Interval:   time.Duration(cfg.Pipeline.RecoveryIntervalMinutes) * time.Minute,
				},
			)

			ctx := cmd.Context()
			failed := svc.RecoverStale(ctx)
			requeued := 0
			if !skipRequeue {
				requeued = svc.RequeuePending(ctx)
			}
			log.Printf("Recovery summary: stale_failed=%d, requeued=%d", failed, requeued)
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipRequeue, "skip-requeue", false, "only fail stale running jobs")
	return cmd
}

func newReuploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reupload",
		Short: "Upload locally kept patch archives to OSS",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.OSS.Endpoint == "" || cfg.OSS.AccessKeyID == "" {
				return errors.New("oss is not configured")
			}
			db, err := database.Open(&cfg.Database)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			ossClient, err := oss.NewClient(&cfg.OSS)
			if err != nil {
				return fmt.Errorf("init oss client: %w", err)
			}

			n := worker.NewReuploader(repository.NewJobRepository(db), ossClient, cfg.Archive.LocalDir).Run()
			log.Printf("Uploaded %d archive(s)", n)
			return nil
		},
	}
}

// newTokenCmd 为指定 owner 签发访问令牌，用于本地调试和脚本调用
func newTokenCmd() *cobra.Command {
	var ownerID int64
	var hours int
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token for an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ownerID <= 0 {
				return errors.New("--owner is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if hours <= 0 {
				hours = cfg.JWT.ExpireHours
			}
			token, err := jwt.GenerateToken(ownerID, cfg.JWT.Secret, hours)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Int64Var(&ownerID, "owner", 0, "owner id")
	cmd.Flags().IntVar(&hours, "hours", 0, "token lifetime, defaults to jwt.expire_hours")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
