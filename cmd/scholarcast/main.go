package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/yungbote/scholarcast-backend/internal/analysis"
	"github.com/yungbote/scholarcast-backend/internal/anim"
	"github.com/yungbote/scholarcast-backend/internal/config"
	"github.com/yungbote/scholarcast-backend/internal/jobstore"
	"github.com/yungbote/scholarcast-backend/internal/llm"
	"github.com/yungbote/scholarcast-backend/internal/media"
	"github.com/yungbote/scholarcast-backend/internal/orchestrator"
	"github.com/yungbote/scholarcast-backend/internal/pkg/logger"
	"github.com/yungbote/scholarcast-backend/internal/script"
	"github.com/yungbote/scholarcast-backend/internal/section"
	"github.com/yungbote/scholarcast-backend/internal/translate"
	"github.com/yungbote/scholarcast-backend/internal/tts"
)

func main() {
	input := flag.String("input", "", "path to the source material (pdf, image or text)")
	jobID := flag.String("job", "", "job id; generated when empty")
	mode := flag.String("mode", "overview", "script mode: overview | comprehensive")
	language := flag.String("language", "", "narration language; autodetected when empty")
	voice := flag.String("voice", "", "tts voice")
	style := flag.String("style", "", "narration style tag")
	resume := flag.Bool("resume", true, "resume from on-disk section artifacts")
	analyzeOnly := flag.Bool("analyze", false, "analyze the material and exit")
	translateTo := flag.String("translate", "", "translate a completed job into this language and exit")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Media toolchain
	tools := media.New(log, media.WithBinaries(cfg.FFmpegBin, cfg.FFprobeBin))
	if err := tools.AssertReady(ctx); err != nil {
		log.Fatal("media toolchain not ready", "error", err.Error())
	}
	renderer := media.NewRenderer(log, cfg.PythonBin, cfg.Renderer, tools)
	extractor := media.NewTextExtractor(log, "")

	// LLM gateway
	costs := llm.NewCostStore()
	provider, err := llm.NewOpenAIProvider(log, "")
	if err != nil {
		log.Fatal("provider init failed", "error", err.Error())
	}
	gw := llm.NewGateway(log, provider, costs)

	// Job store + background cleanup
	store, err := jobstore.New(log, cfg.OutputRoot)
	if err != nil {
		log.Fatal("job store init failed", "error", err.Error())
	}
	if cfg.CleanupEnabled {
		cleanup := jobstore.NewCleanupService(log, store, jobstore.CleanupConfig{
			Enabled:            true,
			KeepOnlyFinal:      cfg.KeepOnlyFinal,
			CompletedTTL:       time.Duration(cfg.RetentionHours) * time.Hour,
			FailedTTL:          time.Duration(cfg.FailedRetentionHours) * time.Hour,
			OrphanTTL:          time.Duration(cfg.OrphanRetentionHours) * time.Hour,
			MetadataTTL:        time.Duration(cfg.JobMetadataRetentionHours) * time.Hour,
			MaxDeletions:       cfg.CleanupMaxDeletions,
			Interval:           time.Duration(cfg.CleanupIntervalMinutes) * time.Minute,
			UploadEnabled:      cfg.UploadCleanupEnabled,
			UploadRoot:         cfg.UploadRoot,
			UploadTTL:          time.Duration(cfg.UploadRetentionHours) * time.Hour,
			UploadMaxDeletions: cfg.UploadCleanupMaxDeletions,
		})
		go cleanup.Run(ctx)
	}

	if *analyzeOnly {
		svc, err := analysis.NewService(log, gw, tools, cfg.AnalysisRoot)
		if err != nil {
			log.Fatal("analysis init failed", "error", err.Error())
		}
		res, err := svc.Analyze(ctx, *input)
		if err != nil {
			log.Fatal("analysis failed", "error", err.Error())
		}
		printJSON(res)
		return
	}

	ttsClient, err := tts.NewClient(log)
	if err != nil {
		log.Fatal("tts init failed", "error", err.Error())
	}

	if *translateTo != "" {
		svc, err := translate.NewService(log, gw, ttsClient, tools, store)
		if err != nil {
			log.Fatal("translate init failed", "error", err.Error())
		}
		out, err := svc.Translate(ctx, *jobID, *translateTo, *voice)
		if err != nil {
			log.Fatal("translation failed", "error", err.Error())
		}
		log.Info("translation ready", "path", out)
		return
	}

	if *input == "" {
		fmt.Println("usage: scholarcast -input <material> [-job id] [-mode overview|comprehensive]")
		os.Exit(2)
	}

	pipeline := script.NewPipeline(log, gw, tools, extractor, script.Config{
		OverviewMinSections:       cfg.OverviewMinSections,
		OverviewMaxSections:       cfg.OverviewMaxSections,
		OverviewSectionMinWords:   cfg.OverviewSectionMinWords,
		OverviewSectionMaxWords:   cfg.OverviewSectionMaxWords,
		OverviewMinDuration:       cfg.OverviewMinDurationSeconds,
		OverviewMaxDuration:       cfg.OverviewMaxDurationSeconds,
		OverviewConstraintRetries: cfg.OverviewConstraintRetries,
		PDFSlicePageThreshold:     cfg.PDFSlicePageThreshold,
		EnableSectionPDFSlices:    cfg.EnableSectionPDFSlices,
	})

	id := *jobID
	if id == "" {
		id = uuid.NewString()
	}
	job, err := store.Open(id)
	if err != nil {
		log.Fatal("open job failed", "job", id, "error", err.Error())
	}

	// Per-job gateway call log
	callLog := llm.NewCallLog(log, job.Dir)
	if obsGW, ok := gw.(interface{ SetObserver(llm.Observer) }); ok {
		obsGW.SetObserver(callLog.Observe)
	}

	validator := anim.NewPyValidator(log, job.Dir, anim.WithPython(cfg.PythonBin))
	agent := anim.NewAgent(log, gw, validator, anim.RefinerConfig{
		MaxAttempts: cfg.MaxRefinementAttempts,
	})
	processor, err := section.NewProcessor(log, ttsClient, tools, renderer, agent, section.Config{
		Quality:               cfg.RenderQuality,
		RenderTimeout:         time.Duration(cfg.RenderTimeoutSecs) * time.Second,
		MaxCorrectionAttempts: cfg.MaxCorrectionAttempts,
	})
	if err != nil {
		log.Fatal("section processor init failed", "error", err.Error())
	}
	orch, err := orchestrator.New(log, store, pipeline, processor, tools, costs, cfg.MaxSectionRetries)
	if err != nil {
		log.Fatal("orchestrator init failed", "error", err.Error())
	}

	res, err := orch.GenerateVideo(ctx, orchestrator.Request{
		JobID:    id,
		Material: script.Material{Path: *input, Kind: script.DetectMaterialKind(*input)},
		Voice:    *voice,
		Style:    *style,
		Language: *language,
		Mode:     script.Mode(*mode),
		Resume:   *resume,
		Progress: func(stage string, percent int, message string) {
			log.Info("progress", "stage", stage, "percent", percent, "message", message)
		},
		MaxConcurrent: cfg.MaxConcurrent,
	})
	if err != nil {
		log.Fatal("job failed", "job", id, "error", err.Error())
	}
	printJSON(res)
	if res.Status != "completed" {
		os.Exit(1)
	}
}

func printJSON(v any) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	fmt.Println(string(raw))
}
