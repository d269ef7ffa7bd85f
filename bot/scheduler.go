package bot

import (
	"context"
	"fmt"
	"log"
	"sync"

	"archive-bot/models"
	"archive-bot/utils"

	"github.com/robfig/cron/v3"
)

// Jobs are the scheduled units of work.
type Jobs struct {
	Archive func(ctx context.Context) error
	Audit   func(ctx context.Context) error
}

// Scheduler runs the archive and audit jobs on their cron schedules. Jobs share one
// mutex so they never overlap in-process.
type Scheduler struct {
	cron   *cron.Cron
	cfg    *models.ArchiveConfig
	jobs   Jobs
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler; nothing runs until Start.
func NewScheduler(cfg *models.ArchiveConfig, jobs Jobs) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(),
		cfg:    cfg,
		jobs:   jobs,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start registers the jobs and starts the cron runner.
func (s *Scheduler) Start() error {
	log.Println("Initializing scheduler...")
	if s.jobs.Archive != nil {
		if _, err := s.cron.AddFunc(s.cfg.Archive.Schedule, func() { s.run("archive", s.jobs.Archive) }); err != nil {
			return fmt.Errorf("could not schedule archive job %q: %w", s.cfg.Archive.Schedule, err)
		}
	}
	if s.jobs.Audit != nil {
		if _, err := s.cron.AddFunc(s.cfg.Audit.Schedule, func() { s.run("audit", s.jobs.Audit) }); err != nil {
			return fmt.Errorf("could not schedule audit job %q: %w", s.cfg.Audit.Schedule, err)
		}
	}
	s.cron.Start()
	log.Printf("Scheduled archive %q and audit %q.", s.cfg.Archive.Schedule, s.cfg.Audit.Schedule)
	return nil
}

// Stop cancels a running job and waits for the cron runner to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	log.Println("Scheduler stopped.")
}

func (s *Scheduler) run(name string, job func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	utils.Info("scheduler", name, "job started")
	if err := job(s.ctx); err != nil {
		utils.Error("scheduler", name, err.Error())
		return
	}
	utils.Info("scheduler", name, "job finished")
}
