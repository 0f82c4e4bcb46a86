package fleet

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobKind is the operation a job asks a flashing station to run.
type JobKind string

const (
	JobInstall  JobKind = "install"
	JobReadback JobKind = "readback"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// Job is one fleet-tracked install or readback request against a device.
type Job struct {
	ID            string    `json:"id"`
	Kind          JobKind   `json:"kind"`
	Device        string    `json:"device"`
	Station       string    `json:"station"`
	VersionBefore uint16    `json:"version_before"`
	VersionAfter  uint16    `json:"version_after"`
	FrameCount    int       `json:"frame_count"`
	Status        JobStatus `json:"status"`
	Detail        string    `json:"detail,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewJob creates a queued job with a fresh UUID.
func NewJob(kind JobKind, device, station string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		Device:    device,
		Station:   station,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AuditStore persists every job to Postgres so install/readback activity
// across the fleet is reviewable after the fact.
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Migrate creates the jobs table if it does not exist.
func (s *AuditStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fleet_jobs (
			id             TEXT PRIMARY KEY,
			kind           TEXT NOT NULL,
			device         TEXT NOT NULL,
			station        TEXT NOT NULL,
			version_before INTEGER NOT NULL DEFAULT 0,
			version_after  INTEGER NOT NULL DEFAULT 0,
			frame_count    INTEGER NOT NULL DEFAULT 0,
			status         TEXT NOT NULL,
			detail         TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("fleet: migrate jobs table: %w", err)
	}
	return nil
}

func (s *AuditStore) Insert(ctx context.Context, j *Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fleet_jobs
			(id, kind, device, station, version_before, version_after,
			 frame_count, status, detail, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		j.ID, j.Kind, j.Device, j.Station, int(j.VersionBefore), int(j.VersionAfter),
		j.FrameCount, j.Status, j.Detail, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("fleet: insert job %s: %w", j.ID, err)
	}
	return nil
}

func (s *AuditStore) Update(ctx context.Context, j *Job) error {
	j.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE fleet_jobs
		SET version_before=$2, version_after=$3, frame_count=$4,
		    status=$5, detail=$6, updated_at=$7
		WHERE id=$1`,
		j.ID, int(j.VersionBefore), int(j.VersionAfter), j.FrameCount,
		j.Status, j.Detail, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("fleet: update job %s: %w", j.ID, err)
	}
	return nil
}

func (s *AuditStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, device, station, version_before, version_after,
		       frame_count, status, detail, created_at, updated_at
		FROM fleet_jobs WHERE id=$1`, id)

	var j Job
	var vb, va int
	err := row.Scan(&j.ID, &j.Kind, &j.Device, &j.Station, &vb, &va,
		&j.FrameCount, &j.Status, &j.Detail, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fleet: get job %s: %w", id, err)
	}
	j.VersionBefore = uint16(vb)
	j.VersionAfter = uint16(va)
	return &j, nil
}
