package progress

import (
	"testing"

	"github.com/yungbote/scholarcast-backend/internal/jobstore"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
)

type event struct {
	stage   string
	percent int
	message string
}

func collector(events *[]event) Callback {
	return func(stage string, percent int, message string) {
		*events = append(*events, event{stage, percent, message})
	}
}

func TestSeedFromInspectState(t *testing.T) {
	tr := NewTracker(logger.NewNop(), 0, nil)
	tr.Seed(jobstore.State{TotalSections: 4, CompletedSections: []int{0, 2}})

	if !tr.IsSectionComplete(0) || !tr.IsSectionComplete(2) {
		t.Fatal("seeded sections not marked complete")
	}
	if tr.IsSectionComplete(1) {
		t.Fatal("unseeded section marked complete")
	}
	if tr.CompletedCount() != 2 {
		t.Fatalf("completed count = %d", tr.CompletedCount())
	}
}

func TestMarkCompleteClearsFailure(t *testing.T) {
	tr := NewTracker(logger.NewNop(), 3, nil)
	tr.MarkSectionFailed(1)
	if tr.FailedCount() != 1 {
		t.Fatalf("failed count = %d", tr.FailedCount())
	}
	tr.MarkSectionComplete(1)
	if tr.FailedCount() != 0 {
		t.Fatal("retry success must clear the failure")
	}
	if tr.CompletedCount() != 1 {
		t.Fatalf("completed count = %d", tr.CompletedCount())
	}
}

func TestReportStageProgressClampsPercent(t *testing.T) {
	var events []event
	tr := NewTracker(logger.NewNop(), 1, collector(&events))
	tr.ReportStageProgress("analyzing", -5, "")
	tr.ReportStageProgress("finalizing", 140, "")

	if len(events) != 2 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].percent != 0 || events[1].percent != 100 {
		t.Fatalf("percents = %d, %d", events[0].percent, events[1].percent)
	}
}

func TestReportSectionProgressBand(t *testing.T) {
	var events []event
	tr := NewTracker(logger.NewNop(), 4, collector(&events))

	tr.ReportSectionProgress(0, 4, false)
	tr.ReportSectionProgress(2, 4, false)
	tr.ReportSectionProgress(4, 4, true)

	want := []int{20, 55, 90}
	for i, ev := range events {
		if ev.stage != "processing_sections" {
			t.Fatalf("stage = %q", ev.stage)
		}
		if ev.percent != want[i] {
			t.Fatalf("event %d percent = %d, want %d", i, ev.percent, want[i])
		}
	}
	if events[2].message != "section restored from previous run" {
		t.Fatalf("cached message = %q", events[2].message)
	}
}

func TestReportSectionProgressZeroTotalIsSilent(t *testing.T) {
	var events []event
	tr := NewTracker(logger.NewNop(), 0, collector(&events))
	tr.ReportSectionProgress(1, 0, false)
	if len(events) != 0 {
		t.Fatalf("got %d events, want none", len(events))
	}
}
