package app

import (
	"context"
	"gradeglide_backend/internal/config"
	"gradeglide_backend/internal/controller"
	"gradeglide_backend/internal/repository"
	"gradeglide_backend/internal/service"
	"gradeglide_backend/internal/util"
	"gradeglide_backend/pkg/configwatcher"
	"gradeglide_backend/pkg/database"
	"gradeglide_backend/pkg/logger"
	"gradeglide_backend/pkg/monitoring"
	"gradeglide_backend/pkg/security"
	"gradeglide_backend/pkg/tracing"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	ConfigDir       string
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	tracer          *sdktrace.TracerProvider
	ctx             context.Context
	cancel          context.CancelFunc
	configCallbacks []func(*config.Config)
}

type repositories struct {
	user      *repository.UserRepository
	session   *repository.SessionRepository
	answerKey *repository.AnswerKeyRepository
}

type services struct {
	auth       *service.AuthService
	storage    *service.StorageService
	models     *service.ModelProvider
	ocr        service.OCREngine
	rasterizer *service.Rasterizer
	detector   *service.RegionDetector
	grader     *service.GraderService
	extractor  *service.SchemeExtractor
	aggregator *service.AggregatorService
	queue      service.JobQueue
	pipeline   *service.PipelineService
	upload     *service.UploadService
	session    *service.SessionService
	answerKey  *service.AnswerKeyService
	export     *service.ExportService
	annotate   *service.AnnotateService
}

type controllers struct {
	auth      *controller.AuthController
	health    *controller.HealthController
	upload    *controller.UploadController
	session   *controller.SessionController
	answerKey *controller.AnswerKeyController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:      repository.NewUserRepository(db),
		session:   repository.NewSessionRepository(db),
		answerKey: repository.NewAnswerKeyRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, db *gorm.DB, rdb *redis.Client) (*services, error) {
	s := &services{}

	s.storage = service.NewStorageService(cfg)
	s.auth = service.NewAuthService(repos.user, cfg)

	client, err := service.NewModelClient(a.ctx, cfg.AI)
	if err != nil {
		// 模型不可用时评分降级为人工复核，不阻止启动
		logger.Log.Warn("Grading model unavailable", zap.String("provider", cfg.AI.Provider), zap.Error(err))
		client = nil
	}
	if client == nil {
		logger.Log.Warn("No grading model configured, questions will be flagged for manual review")
	}
	s.models = service.NewModelProvider(client, cfg.AI.Timeout())

	s.ocr, err = service.NewOCREngine(a.ctx, cfg.OCR)
	if err != nil {
		logger.Log.Warn("OCR engine unavailable, falling back to demo regions", zap.Error(err))
		s.ocr = nil
	}

	s.rasterizer = service.NewRasterizer(cfg.Rasterizer, cfg.Pipeline.WorkDir)
	s.detector = service.NewRegionDetector(s.ocr)
	s.grader = service.NewGraderService(s.models)
	s.extractor = service.NewSchemeExtractor(s.models, s.rasterizer, s.ocr, cfg.Rasterizer.PdftotextPath)
	s.aggregator = service.NewAggregatorService(db)

	s.queue, err = service.NewJobQueue(cfg.Queue, rdb)
	if err != nil {
		return nil, err
	}

	s.pipeline = service.NewPipelineService(
		db,
		repos.session,
		repos.answerKey,
		s.aggregator,
		s.storage,
		s.rasterizer,
		s.detector,
		s.grader,
		cfg.Pipeline.GradingConcurrency,
	)
	s.upload = service.NewUploadService(repos.session, repos.answerKey, s.aggregator, s.storage, s.queue, cfg.Server.MaxUploadMB)
	s.session = service.NewSessionService(repos.session, s.storage)
	s.answerKey = service.NewAnswerKeyService(repos.answerKey)
	s.export = service.NewExportService(repos.session)
	s.annotate = service.NewAnnotateService(repos.session, s.storage)

	return s, nil
}

func (a *App) initControllers(s *services, cfg *config.Config, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		auth:      controller.NewAuthController(s.auth),
		health:    controller.NewHealthController(db, rdb),
		upload:    controller.NewUploadController(s.upload),
		session:   controller.NewSessionController(s.session, s.aggregator, s.export, s.annotate),
		answerKey: controller.NewAnswerKeyController(s.answerKey, s.extractor, cfg.Server.MaxUploadMB),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// startWorkers 内存队列不持久，重启前未完成的会话直接标记为 error
func (a *App) startWorkers(s *services) {
	if !s.queue.Durable() {
		n, err := s.pipeline.RecoverInterrupted(a.ctx)
		if err != nil {
			logger.Log.Error("Failed to recover interrupted sessions", zap.Error(err))
		} else if n > 0 {
			logger.Log.Warn("Marked interrupted sessions as failed", zap.Int("count", n))
		}
	}

	s.queue.Start(a.ctx, s.pipeline.Handle)
	logger.Log.Info("Pipeline workers started",
		zap.String("queue", a.Config.Queue.Type),
		zap.Int("workers", a.Config.Queue.Workers),
	)
}

func (a *App) registerReloaders(s *services) {
	a.RegisterConfigCallback(func(cfg *config.Config) {
		logger.SetMode(cfg.Server.Mode)
	})
	a.RegisterConfigCallback(func(cfg *config.Config) {
		if err := s.models.Reload(a.ctx, cfg.AI); err != nil {
			logger.Log.Error("Failed to reload grading model", zap.Error(err))
			return
		}
		logger.Log.Info("Grading model reloaded", zap.String("provider", cfg.AI.Provider), zap.String("model", cfg.AI.Model))
	})
}

func (a *App) watchConfig() {
	if a.ConfigDir == "" {
		return
	}
	path := filepath.Join(a.ConfigDir, "config.yaml")
	if _, err := os.Stat(path); err != nil {
		return
	}

	go func() {
		err := configwatcher.WatchConfig(a.ctx, path, func(cfg *config.Config) {
			for _, callback := range a.configCallbacks {
				callback(cfg)
			}
		})
		if err != nil {
			logger.Log.Error("Config watcher stopped", zap.Error(err))
		}
	}()
}

func NewApp(cfg *config.Config, configDir string) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		ConfigDir: configDir,
		DB:        db,
		ctx:       ctx,
		cancel:    cancel,
	}

	if cfg.MigrateOnly {
		return app
	}

	// 仅 redis 队列需要连接
	if cfg.Queue.Type == "redis" {
		rdb, err := database.InitRedis(&cfg.Redis)
		if err != nil {
			logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
			log.Fatalf("Failed to initialize redis: %v", err)
		}
		app.Redis = rdb
	}

	repos := app.initRepositories(db)
	services, err := app.initServices(repos, cfg, db, app.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize services", zap.Error(err))
		log.Fatalf("Failed to initialize services: %v", err)
	}
	app.services = services
	controllers := app.initControllers(services, cfg, db, app.Redis)

	// 监控初始化
	monitoring.Init()

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("gradeglide", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	gin.SetMode(cfg.Server.Mode)
	router := gin.Default()
	router.MaxMultipartMemory = int64(cfg.Server.MaxUploadMB) << 20
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)

	if cfg.Storage.Type == util.StorageLocal {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	app.registerReloaders(services)
	app.startWorkers(services)

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	a.watchConfig()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	a.Close()
	logger.Log.Info("Server exiting")
}

// Close 停止后台任务并释放外部资源
func (a *App) Close() {
	a.cancel()

	if s := a.services; s != nil {
		s.queue.Stop()
		if closer, ok := s.ocr.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				logger.Log.Warn("Failed to close OCR engine", zap.Error(err))
			}
		}
	}

	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}

	if a.Redis != nil {
		_ = a.Redis.Close()
	}

	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
