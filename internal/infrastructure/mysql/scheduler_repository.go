package mysql

import (
	"context"
	"database/sql"
	"time"

	"bidding-engine/internal/domain"
)

type SchedulerRepository struct {
	db *sql.DB
}

func NewSchedulerRepository(db *sql.DB) *SchedulerRepository {
	return &SchedulerRepository{db: db}
}

func (r *SchedulerRepository) CreateJob(ctx context.Context, job *domain.ScheduledJob) error {
	query := `
        INSERT INTO scheduled_jobs (id, listing_id, job_type, run_at, status, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.ListingID, string(job.JobType),
		job.RunAt, string(job.Status), job.CreatedAt)
	return translateErr(err)
}

func (r *SchedulerRepository) GetPendingJobs(ctx context.Context, before time.Time) ([]*domain.ScheduledJob, error) {
	query := `
        SELECT id, listing_id, job_type, run_at, status, created_at
        FROM scheduled_jobs
        WHERE status = 'pending' AND run_at <= ?
        ORDER BY run_at ASC
    `

	rows, err := r.db.QueryContext(ctx, query, before)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var jobs []*domain.ScheduledJob
	for rows.Next() {
		var (
			job             domain.ScheduledJob
			jobType, status string
		)
		err := rows.Scan(&job.ID, &job.ListingID, &jobType,
			&job.RunAt, &status, &job.CreatedAt)
		if err != nil {
			return nil, translateErr(err)
		}

		job.JobType = domain.JobType(jobType)
		job.Status = domain.JobStatus(status)
		jobs = append(jobs, &job)
	}

	return jobs, translateErr(rows.Err())
}

func (r *SchedulerRepository) UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	query := `UPDATE scheduled_jobs SET status = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, string(status), jobID)
	return translateErr(err)
}

func (r *SchedulerRepository) CancelJobsForListing(ctx context.Context, listingID string) error {
	query := `UPDATE scheduled_jobs SET status = 'cancelled' WHERE listing_id = ? AND status = 'pending'`
	_, err := r.db.ExecContext(ctx, query, listingID)
	return translateErr(err)
}
