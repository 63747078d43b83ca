package services

import (
	"context"
	"time"

	"bidding-engine/internal/domain"
	"bidding-engine/pkg/logger"
	"bidding-engine/pkg/utils"

	"github.com/robfig/cron/v3"
)

// CronCloseScheduler drives the listing state machine clock: it sweeps the
// scheduled_jobs table every minute and executes due open/close transitions.
// Only the elected leader runs the sweep, so a multi-instance deployment
// closes each auction once.
type CronCloseScheduler struct {
	cron       *cron.Cron
	repo       domain.SchedulerRepository
	lifecycle  *AuctionLifecycle
	leader     domain.LeaderElection
	instanceID string
	log        logger.Logger
}

func NewCronCloseScheduler(
	repo domain.SchedulerRepository,
	lifecycle *AuctionLifecycle,
	leader domain.LeaderElection,
	instanceID string,
	log logger.Logger,
) *CronCloseScheduler {
	return &CronCloseScheduler{
		cron:       cron.New(cron.WithSeconds()),
		repo:       repo,
		lifecycle:  lifecycle,
		leader:     leader,
		instanceID: instanceID,
		log:        log,
	}
}

func (s *CronCloseScheduler) Start(ctx context.Context) error {
	s.log.Info("Starting close scheduler", "instance_id", s.instanceID)

	_, err := s.cron.AddFunc("@every 1m", func() {
		s.sweep(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

func (s *CronCloseScheduler) Stop() error {
	s.log.Info("Stopping close scheduler")
	s.cron.Stop()
	return nil
}

func (s *CronCloseScheduler) ScheduleOpen(ctx context.Context, listingID string, at time.Time) error {
	return s.repo.CreateJob(ctx, &domain.ScheduledJob{
		ID:        utils.GenerateID("job"),
		ListingID: listingID,
		JobType:   domain.JobOpenAuction,
		RunAt:     at,
		Status:    domain.JobPending,
		CreatedAt: time.Now(),
	})
}

func (s *CronCloseScheduler) ScheduleClose(ctx context.Context, listingID string, at time.Time) error {
	return s.repo.CreateJob(ctx, &domain.ScheduledJob{
		ID:        utils.GenerateID("job"),
		ListingID: listingID,
		JobType:   domain.JobCloseAuction,
		RunAt:     at,
		Status:    domain.JobPending,
		CreatedAt: time.Now(),
	})
}

func (s *CronCloseScheduler) RescheduleClose(ctx context.Context, listingID string, newEnd time.Time) error {
	if err := s.repo.CancelJobsForListing(ctx, listingID); err != nil {
		return err
	}
	return s.ScheduleClose(ctx, listingID, newEnd)
}

func (s *CronCloseScheduler) CancelSchedule(ctx context.Context, listingID string) error {
	return s.repo.CancelJobsForListing(ctx, listingID)
}

func (s *CronCloseScheduler) sweep(ctx context.Context) {
	isLeader, err := s.leader.IsLeader(ctx, s.instanceID)
	if err != nil {
		s.log.Error("Leader check failed", "error", err)
		return
	}
	if !isLeader {
		// Try to take over a released or expired leadership.
		if isLeader, err = s.leader.BecomeLeader(ctx, s.instanceID); err != nil || !isLeader {
			return
		}
	}

	jobs, err := s.repo.GetPendingJobs(ctx, time.Now())
	if err != nil {
		s.log.Error("Failed to load pending jobs", "error", err)
		return
	}

	for _, job := range jobs {
		s.log.Info("Processing job", "job_id", job.ID, "type", job.JobType, "listing_id", job.ListingID)

		switch job.JobType {
		case domain.JobOpenAuction:
			err = s.lifecycle.OpenAuction(ctx, job.ListingID)
		case domain.JobCloseAuction:
			_, err = s.lifecycle.CloseAuction(ctx, job.ListingID)
		}
		if err != nil {
			// Leave the job pending, the next sweep retries it.
			s.log.Error("Failed to execute job", "job_id", job.ID, "error", err)
			continue
		}

		if err := s.repo.UpdateJobStatus(ctx, job.ID, domain.JobExecuted); err != nil {
			s.log.Error("Failed to mark job executed", "job_id", job.ID, "error", err)
		}
	}
}
