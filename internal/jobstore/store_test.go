package jobstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	pkgerrors "github.com/yungbote/scholarcast-backend/internal/pkg/errors"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(logger.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestResolveIDRejectsUnsafeIDs(t *testing.T) {
	s := newStore(t)
	for _, id := range []string{
		"",
		"..",
		"../other",
		"a/b",
		"job id",
		"job.id",
		"\\escape",
		".hidden",
	} {
		if _, err := s.ResolveID(id); !errors.Is(err, pkgerrors.ErrInvalidID) {
			t.Fatalf("ResolveID(%q) = %v, want invalid id", id, err)
		}
	}
}

func TestResolveIDAcceptsSafeIDs(t *testing.T) {
	s := newStore(t)
	for _, id := range []string{"abc", "ABC-123", "under_score", "550e8400-e29b-41d4-a716-446655440000"} {
		got, err := s.ResolveID(id)
		if err != nil {
			t.Fatalf("ResolveID(%q): %v", id, err)
		}
		if got != filepath.Join(s.Root(), id) {
			t.Fatalf("ResolveID(%q) = %q", id, got)
		}
	}
}

func TestOpenCreatesTree(t *testing.T) {
	s := newStore(t)
	job, err := s.Open("job1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if fi, err := os.Stat(job.SectionsDir); err != nil || !fi.IsDir() {
		t.Fatalf("sections dir missing: %v", err)
	}
	// Reopening an existing job is not an error.
	if _, err := s.Open("job1"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
}

func TestStatusRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := WriteStatus(dir, StatusFixingError, "render correction 2\nwith newline"); err != nil {
		t.Fatalf("WriteStatus: %v", err)
	}
	status, detail, err := ReadStatus(dir)
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if status != StatusFixingError {
		t.Fatalf("status = %q", status)
	}
	if detail != "render correction 2 with newline" {
		t.Fatalf("detail = %q, newlines must be flattened", detail)
	}
}

func TestReadStatusMissing(t *testing.T) {
	if _, _, err := ReadStatus(t.TempDir()); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestInspectReconstructsCompletion(t *testing.T) {
	s := newStore(t)
	job, err := s.Open("job2")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	script := []byte(`{"sections":[{"id":"s0"},{"id":"s1"},{"id":"s2"}]}`)
	if err := os.WriteFile(job.ScriptPath(), script, 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	// Section 0 completed in the per-section layout, section 2 in the legacy
	// merged layout, section 1 not at all.
	if err := os.MkdirAll(job.SectionDir(0), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(job.SectionDir(0), "final_section.mp4"), []byte("v"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(job.MergedSectionPath(2), []byte("v"), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := s.Inspect("job2")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !st.HasScript || st.HasFinalVideo {
		t.Fatalf("state = %+v", st)
	}
	if st.TotalSections != 3 {
		t.Fatalf("total = %d, want 3", st.TotalSections)
	}
	if len(st.CompletedSections) != 2 || st.CompletedSections[0] != 0 || st.CompletedSections[1] != 2 {
		t.Fatalf("completed = %v, want [0 2]", st.CompletedSections)
	}
}

func TestCleanupKeepFinalOnly(t *testing.T) {
	s := newStore(t)
	job, err := s.Open("job3")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustWrite := func(path string) {
		t.Helper()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite(job.FinalVideoPath())
	mustWrite(job.VideoInfoPath())
	mustWrite(job.ScriptPath())
	mustWrite(filepath.Join(job.SectionDir(0), "final_section.mp4"))
	mustWrite(filepath.Join(job.TranslationDir("es"), "final_video.mp4"))

	if err := s.Cleanup(job.Dir, CleanupKeepFinalOnly); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	for _, keep := range []string{job.FinalVideoPath(), job.VideoInfoPath(), filepath.Join(job.TranslationDir("es"), "final_video.mp4")} {
		if _, err := os.Stat(keep); err != nil {
			t.Fatalf("kept file removed: %s", keep)
		}
	}
	for _, gone := range []string{job.ScriptPath(), job.SectionsDir} {
		if _, err := os.Stat(gone); !os.IsNotExist(err) {
			t.Fatalf("intermediate survived: %s", gone)
		}
	}
}

func TestCleanupRefusesOutsideRoot(t *testing.T) {
	s := newStore(t)
	outside := t.TempDir()
	if err := s.Cleanup(outside, CleanupExpired); !errors.Is(err, pkgerrors.ErrInvalidID) {
		t.Fatalf("err = %v, want invalid id", err)
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatal("directory outside root was deleted")
	}
}

func TestCleanupUnknownMode(t *testing.T) {
	s := newStore(t)
	job, _ := s.Open("job4")
	if err := s.Cleanup(job.Dir, CleanupMode("bogus")); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("err = %v, want invalid argument", err)
	}
}
