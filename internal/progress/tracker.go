package progress

import (
	"sync"

	"github.com/yungbote/scholarcast-backend/internal/jobstore"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
)

// Callback receives stage transitions. It runs on the reporting goroutine
// and must not block.
type Callback func(stage string, percent int, message string)

// Tracker is the in-memory source of truth for "what is done" in one job.
// On resume it is seeded from filesystem evidence (jobstore.Inspect).
type Tracker struct {
	log   *logger.Logger
	total int
	cb    Callback

	mu        sync.Mutex
	completed map[int]bool
	failed    map[int]bool
}

func NewTracker(log *logger.Logger, total int, cb Callback) *Tracker {
	return &Tracker{
		log:       log.With("service", "ProgressTracker"),
		total:     total,
		cb:        cb,
		completed: map[int]bool{},
		failed:    map[int]bool{},
	}
}

// Seed marks sections already complete on disk, as discovered by Inspect.
func (t *Tracker) Seed(state jobstore.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, i := range state.CompletedSections {
		t.completed[i] = true
	}
	if state.TotalSections > 0 {
		t.total = state.TotalSections
	}
}

func (t *Tracker) SetTotal(total int) {
	t.mu.Lock()
	t.total = total
	t.mu.Unlock()
}

func (t *Tracker) MarkSectionComplete(i int) {
	t.mu.Lock()
	t.completed[i] = true
	delete(t.failed, i)
	t.mu.Unlock()
}

func (t *Tracker) MarkSectionFailed(i int) {
	t.mu.Lock()
	t.failed[i] = true
	t.mu.Unlock()
}

func (t *Tracker) IsSectionComplete(i int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed[i]
}

func (t *Tracker) CompletedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.completed)
}

func (t *Tracker) FailedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.failed)
}

// ReportStageProgress forwards a job-level stage update to the callback.
func (t *Tracker) ReportStageProgress(stage string, percent int, message string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	t.log.Debug("stage progress", "stage", stage, "percent", percent, "message", message)
	if t.cb != nil {
		t.cb(stage, percent, message)
	}
}

// ReportSectionProgress maps section completion onto the processing band
// (20%..90%) of the overall job.
func (t *Tracker) ReportSectionProgress(done, total int, cached bool) {
	if total <= 0 {
		return
	}
	percent := 20 + (done*70)/total
	msg := "section processed"
	if cached {
		msg = "section restored from previous run"
	}
	t.ReportStageProgress("processing_sections", percent, msg)
}
