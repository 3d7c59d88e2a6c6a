package jobstore

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/yungbote/scholarcast-backend/internal/pkg/ctxutil"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
)

// CleanupConfig carries the retention policy of the periodic sweeper.
// Zero TTLs fall back to the defaults below.
type CleanupConfig struct {
	Enabled       bool
	KeepOnlyFinal bool

	CompletedTTL time.Duration // OUTPUT_RETENTION_HOURS
	FailedTTL    time.Duration // FAILED_OUTPUT_RETENTION_HOURS
	OrphanTTL    time.Duration // ORPHAN_OUTPUT_RETENTION_HOURS
	MetadataTTL  time.Duration // JOB_METADATA_RETENTION_HOURS

	MaxDeletions int
	Interval     time.Duration

	UploadEnabled      bool
	UploadRoot         string
	UploadTTL          time.Duration // UPLOAD_RETENTION_HOURS
	UploadMaxDeletions int
}

func (c *CleanupConfig) withDefaults() CleanupConfig {
	out := *c
	if out.CompletedTTL <= 0 {
		out.CompletedTTL = 72 * time.Hour
	}
	if out.FailedTTL <= 0 {
		out.FailedTTL = 24 * time.Hour
	}
	if out.OrphanTTL <= 0 {
		out.OrphanTTL = 12 * time.Hour
	}
	if out.MetadataTTL <= 0 {
		out.MetadataTTL = 168 * time.Hour
	}
	if out.MaxDeletions <= 0 {
		out.MaxDeletions = 100
	}
	if out.Interval <= 0 {
		out.Interval = time.Hour
	}
	if out.UploadTTL <= 0 {
		out.UploadTTL = 48 * time.Hour
	}
	if out.UploadMaxDeletions <= 0 {
		out.UploadMaxDeletions = 100
	}
	return out
}

// CleanupService periodically expires terminal job directories and stale
// uploads. Active jobs are never touched.
type CleanupService struct {
	log   *logger.Logger
	store *Store
	cfg   CleanupConfig
}

func NewCleanupService(log *logger.Logger, store *Store, cfg CleanupConfig) *CleanupService {
	return &CleanupService{
		log:   log.With("service", "CleanupService"),
		store: store,
		cfg:   cfg.withDefaults(),
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *CleanupService) Run(ctx context.Context) {
	ctx = ctxutil.Default(ctx)
	if !s.cfg.Enabled {
		s.log.Info("output cleanup disabled")
		return
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted := s.SweepOnce(ctx)
			if deleted > 0 {
				s.log.Info("cleanup sweep done", "deleted", deleted)
			}
		}
	}
}

// jobDisposition classifies a job directory for retention purposes.
type jobDisposition int

const (
	jobActive jobDisposition = iota
	jobCompleted
	jobFailed
	jobOrphan
)

// SweepOnce runs one pass, capped at MaxDeletions directory removals.
// Returns the number of deletions performed.
func (s *CleanupService) SweepOnce(ctx context.Context) int {
	deleted := 0
	entries, err := os.ReadDir(s.store.Root())
	if err != nil {
		return 0
	}
	now := time.Now()
	for _, e := range entries {
		if ctx.Err() != nil || deleted >= s.cfg.MaxDeletions {
			break
		}
		if !e.IsDir() || !safeID.MatchString(e.Name()) {
			continue
		}
		jobDir := filepath.Join(s.store.Root(), e.Name())
		disp := classifyJobDir(jobDir)
		age := dirAge(jobDir, now)

		var ttl time.Duration
		switch disp {
		case jobActive:
			// A non-terminal status left behind by a killed process would pin
			// the directory forever; past the failed TTL the job counts as
			// interrupted and expires.
			if age < s.cfg.FailedTTL {
				continue
			}
			ttl = s.cfg.FailedTTL
		case jobCompleted:
			ttl = s.cfg.CompletedTTL
		case jobFailed:
			ttl = s.cfg.FailedTTL
		case jobOrphan:
			ttl = s.cfg.OrphanTTL
		}
		if age < ttl {
			// Completed jobs can still shed intermediates early.
			if disp == jobCompleted && s.cfg.KeepOnlyFinal {
				_ = s.store.Cleanup(jobDir, CleanupKeepFinalOnly)
			}
			continue
		}
		if err := s.store.Cleanup(jobDir, CleanupExpired); err != nil {
			s.log.Warn("cleanup: expire failed", "job", e.Name(), "error", err.Error())
			continue
		}
		deleted++
	}

	if s.cfg.UploadEnabled && s.cfg.UploadRoot != "" {
		deleted += s.sweepUploads(ctx, now)
	}
	return deleted
}

func (s *CleanupService) sweepUploads(ctx context.Context, now time.Time) int {
	deleted := 0
	entries, err := os.ReadDir(s.cfg.UploadRoot)
	if err != nil {
		return 0
	}
	for _, e := range entries {
		if ctx.Err() != nil || deleted >= s.cfg.UploadMaxDeletions {
			break
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < s.cfg.UploadTTL {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.cfg.UploadRoot, e.Name())); err == nil {
			deleted++
		}
	}
	return deleted
}

// classifyJobDir decides terminal-ness from on-disk evidence only:
// a final video means completed; error info without one means failed; any
// non-terminal section status means the job is (or was) in flight and is
// treated as active until SweepOnce ages it past the failed TTL.
func classifyJobDir(jobDir string) jobDisposition {
	if _, err := os.Stat(filepath.Join(jobDir, FinalVideoFileName)); err == nil {
		return jobCompleted
	}
	if _, err := os.Stat(filepath.Join(jobDir, ErrorInfoFileName)); err == nil {
		return jobFailed
	}

	sectionsDir := filepath.Join(jobDir, SectionsDir)
	entries, err := os.ReadDir(sectionsDir)
	if err != nil {
		return jobOrphan
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, convErr := strconv.Atoi(e.Name()); convErr != nil {
			continue
		}
		status, _, rerr := ReadStatus(filepath.Join(sectionsDir, e.Name()))
		if rerr == nil && !status.Terminal() {
			return jobActive
		}
	}
	if _, err := os.Stat(filepath.Join(jobDir, ScriptFileName)); err == nil {
		// Script exists but the run never finished: interrupted.
		return jobFailed
	}
	return jobOrphan
}

func dirAge(dir string, now time.Time) time.Duration {
	info, err := os.Stat(dir)
	if err != nil {
		return 0
	}
	newest := info.ModTime()
	// The job dir mtime alone can be stale; check the top-level entries too.
	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, e := range entries {
			if fi, ferr := e.Info(); ferr == nil && fi.ModTime().After(newest) {
				newest = fi.ModTime()
			}
		}
	}
	return now.Sub(newest)
}
