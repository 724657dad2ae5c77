// Package main runs a gateway with a simulated import job publishing into
// it, for manual end-to-end testing. It prints a signed token and the job ID
// so a WebSocket client can connect and watch the progress stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/videohaven/progress-gateway/internal/auth"
	"github.com/videohaven/progress-gateway/internal/config"
	"github.com/videohaven/progress-gateway/internal/progress"
	"github.com/videohaven/progress-gateway/internal/publisher"
	"github.com/videohaven/progress-gateway/internal/server"
	memorystorage "github.com/videohaven/progress-gateway/internal/storage/memory"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	items := flag.Int("items", 100, "Units of work in the simulated job")
	delay := flag.Duration("delay", 200*time.Millisecond, "Delay between units")
	fail := flag.Bool("fail", false, "End the job with a failure instead of completion")
	flag.Parse()

	if os.Getenv("PROGRESS_AUTH_JWT_SECRET") == "" && *cfgPath == "" {
		// A throwaway secret keeps the simulator runnable with zero setup.
		_ = os.Setenv("PROGRESS_AUTH_JWT_SECRET", "jobsim-dev-secret")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}

	ownerID := uuid.New()
	jobID := uuid.New()
	if ms, ok := app.EventRepo().(*memorystorage.EventStore); ok {
		ms.PutJob(progress.Job{
			ID:         jobID,
			OwnerID:    ownerID,
			Status:     progress.StatusPending,
			TotalCount: int64(*items),
			CreatedAt:  time.Now().UTC(),
		})
	}

	token, err := auth.Sign(cfg.Auth.JWTSecret, ownerID, 24*time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("owner:   %s\n", ownerID)
	fmt.Printf("job:     %s\n", jobID)
	fmt.Printf("token:   %s\n", token)
	fmt.Printf("connect: ws://localhost:%d/v1/ws\n", cfg.Server.Port)
	fmt.Printf("history: http://localhost:%d/v1/jobs/%s/events\n", cfg.Server.Port, jobID)

	go simulate(ctx, app.Publisher(), ownerID, jobID, *items, *delay, *fail)

	if err := app.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		os.Exit(1)
	}
}

// simulate walks one import job from pending to a terminal status.
func simulate(
	ctx context.Context,
	pub *publisher.Publisher,
	ownerID, jobID uuid.UUID,
	items int,
	delay time.Duration,
	fail bool,
) {
	total := int64(items)
	pub.Publish(ctx, publisher.Update{
		JobID:      jobID,
		OwnerID:    ownerID,
		Status:     progress.StatusPending,
		TotalCount: total,
	})

	for i := 1; i <= items; i++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		item := fmt.Sprintf("video-%04d.mp4", i)
		if fail && i == items/2 {
			msg := "source returned 403"
			pub.Publish(ctx, publisher.Update{
				JobID:          jobID,
				OwnerID:        ownerID,
				Status:         progress.StatusFailed,
				ProcessedCount: int64(i - 1),
				TotalCount:     total,
				Error:          &msg,
			})
			return
		}
		pub.Publish(ctx, publisher.Update{
			JobID:          jobID,
			OwnerID:        ownerID,
			Status:         progress.StatusProcessing,
			ProcessedCount: int64(i),
			TotalCount:     total,
			CurrentItem:    &item,
		})
	}

	msg := "import finished"
	pub.Publish(ctx, publisher.Update{
		JobID:          jobID,
		OwnerID:        ownerID,
		Status:         progress.StatusCompleted,
		ProcessedCount: total,
		TotalCount:     total,
		Message:        &msg,
	})
}
