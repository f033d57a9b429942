package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gatekeeper-service/internal/client"
	"gatekeeper-service/internal/config"
	"gatekeeper-service/internal/hashing"
	"gatekeeper-service/internal/ipcheck"
	"gatekeeper-service/internal/ratelimit"
	redisrepo "gatekeeper-service/internal/repository/redis"
	"gatekeeper-service/internal/repository/scylla"
	"gatekeeper-service/internal/service"
	"gatekeeper-service/internal/tls"
	"gatekeeper-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient
	esClient         *client.ESClient

	// Managers
	hasher    *hashing.Hasher
	limiter   *ratelimit.Limiter
	lockStore *ratelimit.LockStore
	checker   *ipcheck.Checker

	// Repositories
	memberRepo  *scylla.MemberRepository
	banRepo     *scylla.BanRepository
	auditRepo   *scylla.AuditRepository
	warningRepo *scylla.WarningRepository
	gateCache   *redisrepo.GateCache

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(&tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		})
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeManagers()
	factory.startMaintenance()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("redis_available", factory.redisClient != nil),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks.
// Scylla is the durable store and init failure is fatal in production; the
// rest degrade to warnings.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis (optional: the limiter and caches fall back to in-process state)
	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		util.Warn("Redis unavailable, rate limiting runs in-process only", util.ErrorField(err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			util.Warn("Redis health check failed", util.ErrorField(err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
	if scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
	}

	// ClickHouse
	if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		util.Warn("ClickHouse initialization failed - proceeding without analytics", util.ErrorField(err))
	} else {
		f.clickhouseClient = chClient
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			util.Warn("ClickHouse health check failed", util.ErrorField(err))
		}
	}

	// Elasticsearch
	if esClient, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		util.Warn("Elasticsearch initialization failed - proceeding without audit search", util.ErrorField(err))
	} else {
		f.esClient = esClient
		if err := f.esClient.HealthCheck(); err != nil {
			util.Warn("Elasticsearch health check failed", util.ErrorField(err))
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers wires the rate limiter, locks, hashing, and IP checker
func (f *Factory) initializeManagers() {
	f.hasher = hashing.NewHasher()
	f.checker = ipcheck.NewChecker(&f.config.IPCheck)

	var shared ratelimit.Store
	if f.redisClient != nil {
		shared = ratelimit.NewRedisStore(f.redisClient, f.config.RateLimit.RedisTimeout)
	}
	f.limiter = ratelimit.NewLimiter(shared, ratelimit.SystemClock)
	f.lockStore = ratelimit.NewLockStore(f.redisClient, ratelimit.SystemClock, f.config.RateLimit.RedisTimeout)

	if f.redisClient != nil {
		f.gateCache = redisrepo.NewGateCache(f.redisClient)
	}

	util.Info("Managers initialized successfully",
		util.Bool("shared_rate_limit_store", shared != nil))
}

// startMaintenance runs the local window cleanup on a ticker so identities
// seen once do not accumulate forever.
func (f *Factory) startMaintenance() {
	interval := f.config.RateLimit.CleanupInterval
	retention := int64(f.config.RateLimit.CleanupRetention.Seconds())
	if interval <= 0 || retention <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed := f.limiter.Cleanup(retention)
				util.Debug("Rate limit window cleanup completed",
					util.Int("removed", removed),
					util.Int("tracked", f.limiter.TrackedKeys()))
			case <-f.closed:
				return
			}
		}
	}()
}

// ==============================
// Repositories
// ==============================

func (f *Factory) MemberRepository() *scylla.MemberRepository {
	if f.memberRepo == nil {
		f.memberRepo = scylla.NewMemberRepository(
			f.scyllaClient, f.hasher, f.config.Bucketing.MemberBuckets, util.Get())
	}
	return f.memberRepo
}

func (f *Factory) BanRepository() *scylla.BanRepository {
	if f.banRepo == nil {
		f.banRepo = scylla.NewBanRepository(f.scyllaClient, util.Get())
	}
	return f.banRepo
}

func (f *Factory) AuditRepository() *scylla.AuditRepository {
	if f.auditRepo == nil {
		f.auditRepo = scylla.NewAuditRepository(
			f.scyllaClient, f.hasher, f.config.Bucketing.EventBuckets, util.Get())
	}
	return f.auditRepo
}

func (f *Factory) WarningRepository() *scylla.WarningRepository {
	if f.warningRepo == nil {
		f.warningRepo = scylla.NewWarningRepository(
			f.scyllaClient, f.hasher, f.config.Bucketing.MemberBuckets, util.Get())
	}
	return f.warningRepo
}

// ==============================
// Service Factory
// ==============================

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		var events service.EventPublisher
		if f.kafkaProducer != nil {
			events = f.kafkaProducer
		}
		f.serviceFactory = service.NewServiceFactory(
			f.config,
			f.limiter,
			f.lockStore,
			f.hasher,
			f.MemberRepository(),
			f.BanRepository(),
			f.AuditRepository(),
			f.WarningRepository(),
			f.checker,
			f.gateCache,
			events,
			f.clickhouseClient,
			f.esClient,
		)
	}
	return f.serviceFactory
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	return healthErrors
}

// IsHealthy reports whether the required dependencies are reachable.
// Optional backends (kafka, clickhouse, elasticsearch) do not gate health.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	delete(healthErrors, "clickhouse")
	delete(healthErrors, "elasticsearch")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

// ==============================
// Getters
// ==============================

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) Hasher() *hashing.Hasher {
	return f.hasher
}

func (f *Factory) Limiter() *ratelimit.Limiter {
	return f.limiter
}

func (f *Factory) LockStore() *ratelimit.LockStore {
	return f.lockStore
}
