package jobstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"

	pkgerrors "github.com/yungbote/scholarcast-backend/internal/pkg/errors"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
)

// Section status markers. Single ASCII line, written atomically.
type Status string

const (
	StatusGeneratingAudio     Status = "generating_audio"
	StatusGeneratingAnimation Status = "generating_animation"
	StatusFixingError         Status = "fixing_error"
	StatusCompleted           Status = "completed"
)

func (s Status) Terminal() bool { return s == StatusCompleted }

type CleanupMode string

const (
	// CleanupKeepFinalOnly deletes intermediates but keeps the final video,
	// its metadata and translations.
	CleanupKeepFinalOnly CleanupMode = "keep_final_only"
	// CleanupExpired removes the whole job tree.
	CleanupExpired CleanupMode = "expired"
)

var safeID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

const (
	ScriptFileName     = "script.json"
	FinalVideoFileName = "final_video.mp4"
	VideoInfoFileName  = "video_info.json"
	ErrorInfoFileName  = "error_info.json"
	TranslationsDir    = "translations"
	SectionsDir        = "sections"
	StatusFileName     = "status"
)

// Store maps job ids to directory trees under a single configured root.
type Store struct {
	log  *logger.Logger
	root string
}

func New(log *logger.Logger, root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create root: %w", err)
	}
	return &Store{log: log.With("service", "JobStore"), root: abs}, nil
}

func (s *Store) Root() string { return s.root }

// ResolveID validates an externally supplied id and returns the absolute
// path <root>/<id>. Traversal safety is mandatory: the resolved path must
// keep the root as a proper ancestor or the id is rejected outright.
func (s *Store) ResolveID(id string) (string, error) {
	return ResolveUnder(s.root, id)
}

// ResolveUnder is the shared safe-id resolution used for job ids, section
// ids, analysis ids and upload names.
func ResolveUnder(root, id string) (string, error) {
	if !safeID.MatchString(id) {
		return "", fmt.Errorf("%w: %q", pkgerrors.ErrInvalidID, id)
	}
	candidate := filepath.Join(root, id)
	abs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("%w: %q", pkgerrors.ErrInvalidID, id)
	}
	if !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes root", pkgerrors.ErrInvalidID, id)
	}
	return abs, nil
}

// Job is a handle on one job's directory tree. The orchestrator goroutine
// running the job is the sole writer of everything outside sections/<i>/.
type Job struct {
	ID          string
	Dir         string
	SectionsDir string
}

func (j *Job) ScriptPath() string     { return filepath.Join(j.Dir, ScriptFileName) }
func (j *Job) FinalVideoPath() string { return filepath.Join(j.Dir, FinalVideoFileName) }
func (j *Job) VideoInfoPath() string  { return filepath.Join(j.Dir, VideoInfoFileName) }
func (j *Job) ErrorInfoPath() string  { return filepath.Join(j.Dir, ErrorInfoFileName) }
func (j *Job) MediaDir() string       { return filepath.Join(j.Dir, "media") }

func (j *Job) SectionDir(i int) string {
	return filepath.Join(j.SectionsDir, strconv.Itoa(i))
}

func (j *Job) MergedSectionPath(i int) string {
	return filepath.Join(j.SectionsDir, fmt.Sprintf("merged_%d.mp4", i))
}

func (j *Job) TranslationDir(lang string) string {
	return filepath.Join(j.Dir, TranslationsDir, lang)
}

// Open creates <root>/<id>/ and <root>/<id>/sections/ if absent.
func (s *Store) Open(id string) (*Job, error) {
	dir, err := s.ResolveID(id)
	if err != nil {
		return nil, err
	}
	sections := filepath.Join(dir, SectionsDir)
	if err := os.MkdirAll(sections, 0o755); err != nil {
		return nil, fmt.Errorf("create job dir: %w", err)
	}
	return &Job{ID: id, Dir: dir, SectionsDir: sections}, nil
}

// State is the resumable evidence found on disk for a job.
type State struct {
	HasScript         bool
	HasFinalVideo     bool
	TotalSections     int
	CompletedSections []int
}

// Inspect reconstructs the completion set from filesystem evidence: a
// section is complete when either sections/merged_<i>.mp4 or
// sections/<i>/final_section.mp4 exists.
func (s *Store) Inspect(id string) (State, error) {
	st := State{}
	dir, err := s.ResolveID(id)
	if err != nil {
		return st, err
	}
	if _, err := os.Stat(filepath.Join(dir, FinalVideoFileName)); err == nil {
		st.HasFinalVideo = true
	}

	scriptPath := filepath.Join(dir, ScriptFileName)
	if raw, err := os.ReadFile(scriptPath); err == nil {
		st.HasScript = true
		var probe struct {
			Sections []json.RawMessage `json:"sections"`
		}
		if json.Unmarshal(raw, &probe) == nil {
			st.TotalSections = len(probe.Sections)
		}
	}

	sectionsDir := filepath.Join(dir, SectionsDir)
	entries, err := os.ReadDir(sectionsDir)
	if err != nil {
		return st, nil
	}
	seen := map[int]bool{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			idx, convErr := strconv.Atoi(name)
			if convErr != nil {
				continue
			}
			if _, err := os.Stat(filepath.Join(sectionsDir, name, "final_section.mp4")); err == nil {
				seen[idx] = true
			}
			continue
		}
		var idx int
		if _, scanErr := fmt.Sscanf(name, "merged_%d.mp4", &idx); scanErr == nil {
			seen[idx] = true
		}
	}
	for idx := range seen {
		st.CompletedSections = append(st.CompletedSections, idx)
	}
	sort.Ints(st.CompletedSections)
	return st, nil
}

// WriteStatus atomically writes the section status marker
// (`<status>[\t<detail>]\n`, temp-write + rename).
func WriteStatus(sectionDir string, status Status, detail string) error {
	if err := os.MkdirAll(sectionDir, 0o755); err != nil {
		return fmt.Errorf("create section dir: %w", err)
	}
	line := string(status)
	detail = strings.ReplaceAll(strings.TrimSpace(detail), "\n", " ")
	if detail != "" {
		line += "\t" + detail
	}
	line += "\n"
	return renameio.WriteFile(filepath.Join(sectionDir, StatusFileName), []byte(line), 0o644)
}

// ReadStatus reads the marker back; ErrNotFound when absent.
func ReadStatus(sectionDir string) (Status, string, error) {
	raw, err := os.ReadFile(filepath.Join(sectionDir, StatusFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", pkgerrors.ErrNotFound
		}
		return "", "", err
	}
	line := strings.TrimRight(string(raw), "\n")
	status, detail, _ := strings.Cut(line, "\t")
	return Status(status), detail, nil
}

// keepOnCleanup lists job-root entries that survive keep_final_only.
var keepOnCleanup = map[string]bool{
	FinalVideoFileName: true,
	VideoInfoFileName:  true,
	ErrorInfoFileName:  true,
	TranslationsDir:    true,
}

// Cleanup deletes intermediate artifacts. keep_final_only preserves the
// final video, its metadata and translations; expired removes the tree.
func (s *Store) Cleanup(jobDir string, mode CleanupMode) error {
	abs, err := filepath.Abs(jobDir)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return fmt.Errorf("%w: cleanup target outside root", pkgerrors.ErrInvalidID)
	}

	switch mode {
	case CleanupExpired:
		return os.RemoveAll(abs)
	case CleanupKeepFinalOnly:
		entries, err := os.ReadDir(abs)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		for _, e := range entries {
			if keepOnCleanup[e.Name()] {
				continue
			}
			if err := os.RemoveAll(filepath.Join(abs, e.Name())); err != nil {
				s.log.Warn("cleanup: failed to remove entry", "entry", e.Name(), "error", err.Error())
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown cleanup mode %q", pkgerrors.ErrInvalidArgument, mode)
	}
}
