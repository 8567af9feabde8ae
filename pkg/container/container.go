package container

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"notification-service/internal/config"
	"notification-service/internal/domains/notification/handler"
	"notification-service/internal/domains/notification/repository"
	"notification-service/internal/domains/notification/service"
	"notification-service/internal/infrastructure/audit"
	"notification-service/internal/infrastructure/breaker"
	infraCache "notification-service/internal/infrastructure/cache"
	"notification-service/internal/infrastructure/database"
	"notification-service/internal/infrastructure/email"
	"notification-service/internal/infrastructure/metrics"
	"notification-service/internal/infrastructure/push"
	"notification-service/internal/infrastructure/ratelimit"
	"notification-service/internal/infrastructure/userinfo"
	"notification-service/internal/shared"
)

// ========================================
// CONTAINER STRUCT
// ========================================

// Container is the root of the dependency graph. Every component is a
// singleton built once at startup; initialization order matters.
type Container struct {
	// Infrastructure
	Config  *config.Config
	DB      *database.PostgresDB
	Redis   *infraCache.RedisClient
	Metrics *metrics.Collector
	Audit   *audit.Logger
	Clock   shared.Clock

	Limiter     *ratelimit.Limiter
	MailBreaker *breaker.MailBreaker
	EmailSender email.Sender
	PushSender  push.Provider
	UserInfo    *userinfo.Provider

	// Repositories
	NotificationRepo repository.NotificationRepository
	PreferenceRepo   repository.PreferenceRepository
	TemplateRepo     repository.TemplateRepository
	DeliveryRepo     repository.DeliveryRecordRepository
	DeadLetterRepo   repository.DeadLetterRepository

	// Services
	Renderer            *service.TemplateRenderer
	Templates           service.TemplateStore
	Preferences         service.PreferenceService
	Tracker             service.StatusTracker
	Pipeline            service.DeliveryPipeline
	Digests             service.DigestService
	DeadLetters         service.DeadLetterService
	NotificationService service.NotificationService

	// HTTP handlers
	DeliveryHandler     handler.DeliveryHandler
	NotificationHandler handler.NotificationHandler
	PreferencesHandler  handler.PreferencesHandler
	TemplateHandler     handler.TemplateHandler
	DeadLetterHandler   handler.DeadLetterHandler
}

// ========================================
// CONSTRUCTOR
// ========================================

// NewContainer builds the whole dependency graph:
// config -> infrastructure -> repositories -> services -> handlers.
// A failure at any step aborts startup.
func NewContainer() (*Container, error) {
	log.Println("🔧 Initializing DI Container...")

	c := &Container{Clock: shared.SystemClock()}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	c.Config = cfg
	log.Printf("✅ Config loaded (Environment: %s)", cfg.App.Environment)

	// Database
	log.Println("🗄️  Connecting to PostgreSQL...")
	db := database.NewPostgresDB(cfg.Database)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.HealthCheck(context.Background()); err != nil {
		return nil, fmt.Errorf("database health check failed: %w", err)
	}
	c.DB = db
	log.Println("✅ Database connected")

	// Redis
	log.Println("🔴 Connecting to Redis...")
	redisClient := infraCache.NewRedisClient(cfg.Redis.Host, cfg.Redis.Password, cfg.Redis.DB)
	if err := redisClient.Connect(context.Background()); err != nil {
		// The rate limiter fails open without Redis; degraded but up.
		log.Printf("⚠️  Redis connection failed (non-critical): %v", err)
	} else {
		log.Println("✅ Redis connected")
	}
	c.Redis = redisClient

	// Observability and security primitives
	c.Metrics = metrics.NewCollector(prometheus.DefaultRegisterer)
	c.Audit = audit.NewLogger()
	c.Limiter = ratelimit.NewLimiter(redisClient.Client, cfg.RateLimit, c.Metrics, c.Audit, c.Clock)
	c.MailBreaker = breaker.NewMailBreaker("smtp", cfg.Breaker, c.Metrics, c.Audit, c.Clock)

	// Outbound transports. Development logs instead of sending.
	if cfg.App.Environment == "production" {
		c.EmailSender = email.NewSMTPSender(cfg.SMTP)
	} else {
		c.EmailSender = email.NewLogSender(cfg.SMTP)
	}
	c.PushSender = push.NewLogProvider()
	c.UserInfo = userinfo.NewProvider(userinfo.NewStaticSource(), cfg.Cache)

	log.Println("📦 Initializing repositories...")
	c.initRepositories()
	log.Println("✅ Repositories initialized")

	log.Println("⚙️  Initializing services...")
	if err := c.initServices(); err != nil {
		return nil, fmt.Errorf("failed to init services: %w", err)
	}
	log.Println("✅ Services initialized")

	log.Println("🎯 Initializing handlers...")
	c.initHandlers()
	log.Println("✅ Handlers initialized")

	log.Println("🎉 DI Container initialized successfully")
	return c, nil
}

// ========================================
// PRIVATE INITIALIZATION
// ========================================

func (c *Container) initRepositories() {
	pool := c.DB.Pool

	c.NotificationRepo = repository.NewNotificationRepository(pool)
	c.PreferenceRepo = repository.NewPreferenceRepository(pool)
	c.TemplateRepo = repository.NewTemplateRepository(pool)
	c.DeliveryRepo = repository.NewDeliveryRecordRepository(pool)
	c.DeadLetterRepo = repository.NewDeadLetterRepository(pool)
}

func (c *Container) initServices() error {
	cfg := c.Config

	c.Renderer = service.NewTemplateRenderer(cfg.Cache, c.Clock)
	c.Templates = service.NewTemplateStore(c.TemplateRepo, c.Renderer, cfg.Cache, c.Audit)
	c.Preferences = service.NewPreferenceService(c.PreferenceRepo, c.Audit, c.Clock)
	c.Tracker = service.NewStatusTracker(c.DeliveryRepo, c.Metrics, c.Clock)

	c.Pipeline = service.NewDeliveryPipeline(cfg.Pipeline, cfg.Retry, service.PipelineDeps{
		Preferences:   c.Preferences,
		Templates:     c.Templates,
		Renderer:      c.Renderer,
		Tracker:       c.Tracker,
		Limiter:       c.Limiter,
		Breaker:       c.MailBreaker,
		Email:         c.EmailSender,
		Push:          c.PushSender,
		Users:         c.UserInfo,
		Notifications: c.NotificationRepo,
		DeadLetters:   c.DeadLetterRepo,
		Metrics:       c.Metrics,
		Clock:         c.Clock,
	})

	digests, err := service.NewDigestService(
		c.DB.Pool,
		c.NotificationRepo,
		c.PreferenceRepo,
		c.Preferences,
		c.Pipeline,
		c.UserInfo,
		cfg.Digest,
		c.Clock,
	)
	if err != nil {
		return err
	}
	c.Digests = digests

	c.DeadLetters = service.NewDeadLetterService(
		c.DeadLetterRepo,
		c.EmailSender,
		c.PushSender,
		c.MailBreaker,
		c.Metrics,
		c.Audit,
	)
	c.NotificationService = service.NewNotificationService(c.NotificationRepo)

	return nil
}

func (c *Container) initHandlers() {
	c.DeliveryHandler = handler.NewDeliveryHandler(c.Pipeline, c.Tracker, c.Clock)
	c.NotificationHandler = handler.NewNotificationHandler(c.NotificationService, c.Digests)
	c.PreferencesHandler = handler.NewPreferencesHandler(c.Preferences)
	c.TemplateHandler = handler.NewTemplateHandler(c.Templates)
	c.DeadLetterHandler = handler.NewDeadLetterHandler(c.DeadLetters)
}

// ========================================
// CLEANUP
// ========================================

// Cleanup releases resources on shutdown. The pipeline drains first so
// in-flight deliveries resolve before the stores go away.
func (c *Container) Cleanup() {
	log.Println("🧹 Cleaning up container resources...")

	if c.Pipeline != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.Config.Pipeline.DrainTimeout)
		if err := c.Pipeline.Shutdown(ctx); err != nil {
			log.Printf("⚠️  Pipeline shutdown: %v", err)
		}
		cancel()
		log.Println("✅ Delivery pipeline drained")
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.Printf("⚠️  Redis close: %v", err)
		} else {
			log.Println("✅ Redis connection closed")
		}
	}

	if c.DB != nil {
		c.DB.Close()
		log.Println("✅ Database connections closed")
	}
}
