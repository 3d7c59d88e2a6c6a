package config

import (
	"github.com/kelseyhightower/envconfig"
)

// Config is the engine-wide configuration. Everything here is environment
// driven; cmd binaries load .env first via godotenv.
type Config struct {
	LogMode string `envconfig:"LOG_MODE" default:"dev"`

	// Roots. Every user-supplied id resolves inside one of these.
	OutputRoot   string `envconfig:"OUTPUT_ROOT" default:"./output"`
	UploadRoot   string `envconfig:"UPLOAD_ROOT" default:"./uploads"`
	AnalysisRoot string `envconfig:"ANALYSIS_ROOT" default:"./output/analysis"`

	// Toolchain binaries.
	PythonBin  string `envconfig:"PYTHON_BIN" default:"python3"`
	Renderer   string `envconfig:"RENDERER_MODULE" default:"manim"`
	FFmpegBin  string `envconfig:"FFMPEG_BIN" default:"ffmpeg"`
	FFprobeBin string `envconfig:"FFPROBE_BIN" default:"ffprobe"`

	// Render quality: low | medium | high | 4k.
	RenderQuality      string `envconfig:"RENDER_QUALITY" default:"low"`
	RenderTimeoutSecs  int    `envconfig:"RENDER_TIMEOUT" default:"600"`
	MaxConcurrent      int    `envconfig:"MAX_CONCURRENT_SECTIONS" default:"3"`
	MaxConcurrentJobs  int    `envconfig:"MAX_CONCURRENT_JOBS" default:"8"`

	// Section retry budgets.
	MaxSectionRetries     int `envconfig:"MAX_SECTION_RETRIES" default:"2"`
	MaxRefinementAttempts int `envconfig:"MAX_REFINEMENT_ATTEMPTS" default:"5"`
	MaxCorrectionAttempts int `envconfig:"MAX_CORRECTION_ATTEMPTS" default:"3"`

	// Overview-mode script constraints.
	OverviewMinSections        int     `envconfig:"OVERVIEW_MIN_SECTIONS" default:"5"`
	OverviewMaxSections        int     `envconfig:"OVERVIEW_MAX_SECTIONS" default:"8"`
	OverviewSectionMinWords    int     `envconfig:"OVERVIEW_SECTION_MIN_WORDS" default:"80"`
	OverviewSectionMaxWords    int     `envconfig:"OVERVIEW_SECTION_MAX_WORDS" default:"170"`
	OverviewMinDurationSeconds float64 `envconfig:"OVERVIEW_MIN_DURATION_SECONDS" default:"180"`
	OverviewMaxDurationSeconds float64 `envconfig:"OVERVIEW_MAX_DURATION_SECONDS" default:"420"`
	OverviewConstraintRetries  int     `envconfig:"OVERVIEW_CONSTRAINT_RETRY_COUNT" default:"1"`

	// Ingestion.
	PDFSlicePageThreshold  int  `envconfig:"PDF_SLICE_PAGE_THRESHOLD" default:"15"`
	EnableSectionPDFSlices bool `envconfig:"ENABLE_SECTION_PDF_SLICES" default:"false"`

	// Output cleanup service.
	CleanupEnabled            bool `envconfig:"OUTPUT_CLEANUP_ENABLED" default:"true"`
	KeepOnlyFinal             bool `envconfig:"OUTPUT_KEEP_ONLY_FINAL" default:"true"`
	RetentionHours            int  `envconfig:"OUTPUT_RETENTION_HOURS" default:"72"`
	FailedRetentionHours      int  `envconfig:"FAILED_OUTPUT_RETENTION_HOURS" default:"24"`
	OrphanRetentionHours      int  `envconfig:"ORPHAN_OUTPUT_RETENTION_HOURS" default:"12"`
	JobMetadataRetentionHours int  `envconfig:"JOB_METADATA_RETENTION_HOURS" default:"168"`
	CleanupMaxDeletions       int  `envconfig:"OUTPUT_CLEANUP_MAX_DELETIONS" default:"100"`
	CleanupIntervalMinutes    int  `envconfig:"OUTPUT_CLEANUP_INTERVAL_MINUTES" default:"60"`

	// Upload cleanup.
	UploadCleanupEnabled      bool `envconfig:"UPLOAD_CLEANUP_ENABLED" default:"true"`
	UploadRetentionHours      int  `envconfig:"UPLOAD_RETENTION_HOURS" default:"48"`
	UploadCleanupMaxDeletions int  `envconfig:"UPLOAD_CLEANUP_MAX_DELETIONS" default:"100"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
