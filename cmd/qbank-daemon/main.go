package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/qbanklabs/qbank-go/internal/adapters/ai"
	"github.com/qbanklabs/qbank-go/internal/adapters/cache"
	"github.com/qbanklabs/qbank-go/internal/adapters/daemon"
	"github.com/qbanklabs/qbank-go/internal/adapters/metrics"
	"github.com/qbanklabs/qbank-go/internal/adapters/pdf"
	"github.com/qbanklabs/qbank-go/internal/adapters/persistence"
	"github.com/qbanklabs/qbank-go/internal/adapters/similarity"
	"github.com/qbanklabs/qbank-go/internal/adapters/storage"
	"github.com/qbanklabs/qbank-go/internal/application/admission"
	admissioncmd "github.com/qbanklabs/qbank-go/internal/application/admission/commands"
	admissionqry "github.com/qbanklabs/qbank-go/internal/application/admission/queries"
	"github.com/qbanklabs/qbank-go/internal/application/common"
	"github.com/qbanklabs/qbank-go/internal/application/stages"
	"github.com/qbanklabs/qbank-go/internal/domain/pipeline"
	"github.com/qbanklabs/qbank-go/internal/infrastructure/config"
	"github.com/qbanklabs/qbank-go/internal/infrastructure/database"
	"github.com/qbanklabs/qbank-go/internal/infrastructure/pidfile"
)

const version = "0.1.0"

func main() {
	// Parse command-line flags
	forceFlag := flag.Bool("force", false, "Kill any existing daemon and start a new one")
	flag.Parse()

	fmt.Printf("QBank Daemon v%s\n", version)
	fmt.Println("==================")

	// Load configuration
	fmt.Println("Loading configuration...")
	cfg := config.MustLoadConfig("") // Empty string = search default paths

	// Acquire PID file lock to prevent multiple instances
	fmt.Printf("Acquiring PID file lock: %s\n", cfg.Daemon.PIDFile)
	pf := pidfile.New(cfg.Daemon.PIDFile)

	// Try to acquire the lock
	err := pf.Acquire()
	if err != nil {
		if *forceFlag {
			// Force mode: kill existing daemon and try again
			fmt.Println("Force mode enabled - attempting to kill existing daemon...")
			if killErr := pf.KillExisting(); killErr != nil {
				log.Fatalf("Failed to kill existing daemon: %v", killErr)
			}
			fmt.Println("Existing daemon killed")

			// Try to acquire lock again
			if err := pf.Acquire(); err != nil {
				log.Fatalf("Failed to acquire PID file lock after killing existing daemon: %v", err)
			}
		} else {
			log.Fatalf("Failed to acquire PID file lock: %v\nUse --force to kill the existing daemon", err)
		}
	}

	defer func() {
		if err := pf.Release(); err != nil {
			log.Printf("Warning: failed to release PID file: %v", err)
		}
	}()
	fmt.Println("PID file lock acquired")

	// Initialize application
	if err := run(cfg); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run(cfg *config.Config) error {
	// 1. Setup database connection
	fmt.Printf("Connecting to %s database...\n", cfg.Database.Type)

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close(db)

	if err := database.AutoMigrate(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	fmt.Println("Database connected")

	// 2. Initialize repositories
	tenantRepo := persistence.NewGormTenantRepository(db)
	categoryRepo := persistence.NewGormCategoryRepository(db)
	runRepo := persistence.NewGormRunRepository(db)
	jobRepo := persistence.NewGormJobRepository(db)
	itemRepo := persistence.NewGormItemRepository(db, nil) // nil = use RealClock in production
	logRepo := persistence.NewGormPipelineLogRepository(db, nil)
	queueStore := persistence.NewGormQueue(db, nil)
	fmt.Println("Repositories initialized")

	// 3. Initialize cache store
	// Redis when configured, otherwise the cache_entries table
	var blobCache common.BlobCache
	if cfg.Cache.RedisAddr != "" {
		redisCache, err := cache.NewRedisCacheStore(cfg.Cache.RedisAddr)
		if err != nil {
			return fmt.Errorf("failed to connect to redis cache: %w", err)
		}
		blobCache = redisCache
		fmt.Printf("Cache store initialized (redis at %s)\n", cfg.Cache.RedisAddr)
	} else {
		blobCache = persistence.NewGormCacheStore(db, nil)
		fmt.Println("Cache store initialized (database-backed)")
	}

	// 4. Initialize AI client
	aiClient := ai.NewGeminiClient(
		cfg.AI.BaseURL,
		cfg.AI.APIKey,
		cfg.AI.RateLimit.Requests,
		cfg.AI.RateLimit.Burst,
		cfg.AI.MaxAttempts,
		cfg.AI.Timeout,
		nil, // nil = use RealClock
	)
	fmt.Println("AI client initialized")

	// 5. Initialize storage and the URL source fetcher
	artifactStore := storage.NewFilesystemStore(cfg.Storage.UploadDir, cfg.Storage.OutputDir)
	sourceFetcher := storage.NewHTTPFetcher(2 * time.Minute)
	fmt.Printf("Artifact store initialized (uploads: %s, outputs: %s)\n", cfg.Storage.UploadDir, cfg.Storage.OutputDir)

	// 6. Initialize the stage toolchain adapters
	pdfToolkit := pdf.NewPopplerToolkit(cfg.Tools.Pdftotext, cfg.Tools.Pdftoppm)
	similarityEngine := similarity.NewEngine(cfg.Tools.Similarity, cfg.Pipeline.SimilarityTimeout)
	fmt.Println("PDF toolkit and similarity engine initialized")

	// 7. Build the stage processor registry
	registry := stages.NewRegistry(
		stages.NewExtractProcessor(pdfToolkit, artifactStore, runRepo, 0), // 0 = default DPI
		stages.NewParseProcessor(aiClient, artifactStore, tenantRepo, cfg.AI.VisionModel, cfg.AI.MaxInFlight),
		stages.NewCategorizeProcessor(aiClient, artifactStore, itemRepo, tenantRepo, categoryRepo, cfg.AI.LanguageModel, cfg.AI.MaxInFlight),
		stages.NewSimilarityProcessor(similarityEngine, artifactStore, cfg.Pipeline.CrossEncoderThreshold, cfg.Pipeline.RefineThreshold),
		stages.NewSplitProcessor(artifactStore, itemRepo),
		stages.NewCoordinateProcessor(runRepo, itemRepo, artifactStore, nil,
			cfg.Pipeline.CoordinatorPollInterval, cfg.Pipeline.CoordinatorTimeout, cfg.Pipeline.StalledCheckInterval),
	)
	fmt.Printf("Stage processors registered: %d stages\n", len(registry.Stages()))

	// 8. Recover state left behind by the previous daemon process.
	// Must run before any runner starts leasing.
	report, err := daemon.RecoverAtStartup(context.Background(), queueStore, runRepo, jobRepo)
	if err != nil {
		return fmt.Errorf("startup recovery failed: %w", err)
	}
	fmt.Printf("Startup recovery: %d leases released, %d jobs interrupted, %d jobs orphaned\n",
		report.ReleasedLeases, report.InterruptedJobs, report.OrphanedJobs)

	// 9. Initialize stage runners
	// The coordinate stage leases for the coordinator timeout because one
	// delivery covers the whole child poll; everything else uses the
	// regular stage lease.
	runners := make([]*daemon.StageRunner, 0, len(registry.Stages()))
	for _, stage := range registry.Stages() {
		leaseDuration := cfg.Pipeline.LeaseDuration
		if stage == pipeline.StageCoordinate {
			leaseDuration = cfg.Pipeline.CoordinatorTimeout
		}

		runner, err := daemon.NewStageRunner(
			stage, registry, queueStore, runRepo, jobRepo, logRepo, blobCache,
			nil, // nil = use RealClock
			leaseDuration, cfg.Pipeline.WorkerConcurrency,
		)
		if err != nil {
			return fmt.Errorf("failed to create %s runner: %w", stage, err)
		}
		runners = append(runners, runner)
	}
	fmt.Printf("Stage runners initialized (concurrency %d)\n", cfg.Pipeline.WorkerConcurrency)

	// 10. Initialize admission service
	sources := admission.NewSourceMaterializer(sourceFetcher)
	admissionService := admission.NewService(
		tenantRepo, runRepo, jobRepo, itemRepo, queueStore, artifactStore, sources,
		cfg.Pipeline.BatchSize, cfg.Pipeline.MaxBatches,
	)

	// 11. Initialize mediator (CQRS dispatcher)
	med := common.NewMediator()

	// 11a. Register middleware (must be done before registering handlers)
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()

		commandCollector := metrics.NewCommandMetricsCollector()
		if err := commandCollector.Register(); err != nil {
			return fmt.Errorf("failed to register command metrics: %w", err)
		}

		pipelineCollector := metrics.NewPipelineMetricsCollector(queueStore)
		if err := pipelineCollector.Register(); err != nil {
			return fmt.Errorf("failed to register pipeline metrics: %w", err)
		}
		metrics.SetGlobalCollector(pipelineCollector)
		pipelineCollector.Start(context.Background())
		defer pipelineCollector.Stop()

		med.Use(metrics.PrometheusMiddleware(commandCollector))
		fmt.Println("Metrics collectors registered")
	}

	// 12. Register command handlers
	submitHandler := admissioncmd.NewSubmitPipelineHandler(admissionService)
	if err := common.RegisterHandler[*admissioncmd.SubmitPipelineCommand](med, submitHandler); err != nil {
		return fmt.Errorf("failed to register SubmitPipeline handler: %w", err)
	}

	cancelHandler := admissioncmd.NewCancelPipelineHandler(admissionService)
	if err := common.RegisterHandler[*admissioncmd.CancelPipelineCommand](med, cancelHandler); err != nil {
		return fmt.Errorf("failed to register CancelPipeline handler: %w", err)
	}

	pauseHandler := admissioncmd.NewPausePipelineHandler(admissionService)
	if err := common.RegisterHandler[*admissioncmd.PausePipelineCommand](med, pauseHandler); err != nil {
		return fmt.Errorf("failed to register PausePipeline handler: %w", err)
	}

	resumeHandler := admissioncmd.NewResumePipelineHandler(admissionService)
	if err := common.RegisterHandler[*admissioncmd.ResumePipelineCommand](med, resumeHandler); err != nil {
		return fmt.Errorf("failed to register ResumePipeline handler: %w", err)
	}

	restartHandler := admissioncmd.NewRestartPipelineHandler(admissionService)
	if err := common.RegisterHandler[*admissioncmd.RestartPipelineCommand](med, restartHandler); err != nil {
		return fmt.Errorf("failed to register RestartPipeline handler: %w", err)
	}

	deleteHandler := admissioncmd.NewDeletePipelineHandler(admissionService)
	if err := common.RegisterHandler[*admissioncmd.DeletePipelineCommand](med, deleteHandler); err != nil {
		return fmt.Errorf("failed to register DeletePipeline handler: %w", err)
	}

	mergeHandler := admissioncmd.NewMergePipelineHandler(admissionService)
	if err := common.RegisterHandler[*admissioncmd.MergePipelineCommand](med, mergeHandler); err != nil {
		return fmt.Errorf("failed to register MergePipeline handler: %w", err)
	}

	// 13. Register query handlers
	getPipelineHandler := admissionqry.NewGetPipelineHandler(runRepo, jobRepo)
	if err := common.RegisterHandler[*admissionqry.GetPipelineQuery](med, getPipelineHandler); err != nil {
		return fmt.Errorf("failed to register GetPipeline handler: %w", err)
	}

	listPipelinesHandler := admissionqry.NewListPipelinesHandler(tenantRepo, runRepo, blobCache)
	if err := common.RegisterHandler[*admissionqry.ListPipelinesQuery](med, listPipelinesHandler); err != nil {
		return fmt.Errorf("failed to register ListPipelines handler: %w", err)
	}

	getLogsHandler := admissionqry.NewGetPipelineLogsHandler(runRepo, logRepo)
	if err := common.RegisterHandler[*admissionqry.GetPipelineLogsQuery](med, getLogsHandler); err != nil {
		return fmt.Errorf("failed to register GetPipelineLogs handler: %w", err)
	}

	// 14. Initialize daemon server
	socketPath := cfg.Daemon.SocketPath
	fmt.Printf("Starting daemon server on: %s\n", socketPath)

	// Ensure socket directory exists
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	daemonServer, err := daemon.NewServer(med, &cfg.Daemon, version, runners)
	if err != nil {
		return fmt.Errorf("failed to create daemon server: %w", err)
	}

	fmt.Println("\n✓ Daemon is ready to accept connections")
	fmt.Println("Press Ctrl+C to stop")

	// Start serving (blocks until shutdown)
	if err := daemonServer.Start(); err != nil {
		return fmt.Errorf("daemon server error: %w", err)
	}

	fmt.Println("\nDaemon stopped")
	return nil
}
