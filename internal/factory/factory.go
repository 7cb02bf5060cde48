package factory

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"neighborly-auth/internal/audit"
	"neighborly-auth/internal/bucketing"
	"neighborly-auth/internal/client"
	"neighborly-auth/internal/config"
	"neighborly-auth/internal/encryption"
	"neighborly-auth/internal/handler"
	"neighborly-auth/internal/hashing"
	"neighborly-auth/internal/notification"
	"neighborly-auth/internal/repository/redis"
	"neighborly-auth/internal/repository/scylla"
	"neighborly-auth/internal/service"
	"neighborly-auth/internal/tls"
	"neighborly-auth/internal/token"
	"neighborly-auth/internal/util"
)

// Factory manages the lifecycle of all application dependencies.
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.Manager
	bucketingManager  *bucketing.BucketingManager

	// Repositories and services, built lazily
	otpRepository  *scylla.OTPRepository
	userRepository *scylla.UserRepository
	userCache      *redis.UserCache
	recorder       *audit.Recorder
	dispatcher     notification.Dispatcher
	tokenService   *token.Service
	userDirectory  *service.UserDirectory
	authService    *service.AuthService

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory initializes all external clients and managers. In production a
// failed client is fatal; in development the service comes up degraded and
// the health endpoint reports what is missing.
func NewFactory(cfg *config.Config) (*Factory, error) {
	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewManager(cfg.Server)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeManagers()

	util.Info("Factory initialized",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return factory, nil
}

func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if redisClient, err := client.NewRedisClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
	if scyllaClient, err := scylla.NewScyllaClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka is best-effort everywhere: OTP delivery and the event stream
	// degrade to logging when the producer is unavailable.
	if producer, err := client.NewKafkaProducer(f.config); err != nil {
		util.Warn("Kafka producer initialization failed, proceeding without Kafka",
			util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	// Elasticsearch
	if esClient, err := client.NewElasticsearchClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
	} else {
		f.esClient = esClient
		if err := f.esClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch health check: %w", err))
		} else {
			util.Info("Elasticsearch client initialized and healthy")
		}
	}

	// ClickHouse
	if chClient, err := client.NewClickHouseClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = chClient
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			util.Info("ClickHouse client initialized and healthy")
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

func (f *Factory) initializeManagers() {
	f.hasher = hashing.NewHasher(f.config)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			util.Warn("Could not load AWS config, falling back to local key wrapping",
				util.ErrorField(err))
		} else {
			kmsClient = kms.NewFromConfig(awsCfg)
			util.Info("KMS client initialized", util.String("region", f.config.KMS.Region))
		}
	}
	f.encryptionManager = encryption.NewManager(f.config, kmsClient)
}

// ==============================
// Repositories
// ==============================

func (f *Factory) OTPRepository() *scylla.OTPRepository {
	if f.otpRepository == nil {
		f.otpRepository = scylla.NewOTPRepository(f.ScyllaClient())
	}
	return f.otpRepository
}

func (f *Factory) UserRepository() *scylla.UserRepository {
	if f.userRepository == nil {
		f.userRepository = scylla.NewUserRepository(
			f.ScyllaClient(),
			f.BucketingManager(),
			f.EncryptionManager(),
		)
	}
	return f.userRepository
}

func (f *Factory) UserCache() *redis.UserCache {
	if f.userCache == nil && f.redisClient != nil {
		f.userCache = redis.NewUserCache(f.redisClient, f.config.Redis.UserTTL)
	}
	return f.userCache
}

// ==============================
// Services
// ==============================

// Recorder is the security event pipeline: ClickHouse for the audit trail,
// Elasticsearch for admin search, Kafka for downstream consumers. Sinks that
// failed to initialize are simply absent.
func (f *Factory) Recorder() *audit.Recorder {
	if f.recorder == nil {
		var batch audit.BatchSink
		if f.clickhouseClient != nil {
			batch = f.clickhouseClient
		}
		var index audit.IndexSink
		if f.esClient != nil {
			index = f.esClient
		}
		var stream audit.StreamSink
		if f.kafkaProducer != nil {
			stream = f.kafkaProducer
		}
		f.recorder = audit.NewRecorder(f.BucketingManager(), batch, index, stream,
			f.config.Elasticsearch.EventsIndex, f.config.Kafka.EventsTopic)
	}
	return f.recorder
}

// Dispatcher picks the OTP delivery strategy: Kafka when a producer exists,
// otherwise log-only delivery for development.
func (f *Factory) Dispatcher() notification.Dispatcher {
	if f.dispatcher == nil {
		if f.kafkaProducer != nil {
			f.dispatcher = notification.NewKafkaDispatcher(f.kafkaProducer, f.config.Kafka.OTPTopic)
		} else {
			f.dispatcher = notification.NewLogDispatcher()
		}
	}
	return f.dispatcher
}

func (f *Factory) TokenService() *token.Service {
	if f.tokenService == nil {
		f.tokenService = token.NewService(f.config)
	}
	return f.tokenService
}

func (f *Factory) UserDirectory() *service.UserDirectory {
	if f.userDirectory == nil {
		var cache service.UserCacheStore
		if uc := f.UserCache(); uc != nil {
			cache = uc
		}
		f.userDirectory = service.NewUserDirectory(f.UserRepository(), cache, f.Recorder())
	}
	return f.userDirectory
}

func (f *Factory) AuthService() *service.AuthService {
	if f.authService == nil {
		f.authService = service.NewAuthService(
			f.OTPRepository(),
			f.UserDirectory(),
			f.Hasher(),
			f.TokenService(),
			f.Dispatcher(),
			f.Recorder(),
			f.config.OTP,
		)
	}
	return f.authService
}

// ==============================
// HTTP wiring
// ==============================

// Router assembles the HTTP surface around the services.
func (f *Factory) Router() http.Handler {
	authHandler := handler.NewAuthHandler(f.AuthService())

	var searcher handler.EventSearcher
	if f.esClient != nil {
		searcher = f.esClient
	}
	var stats handler.StatsProvider
	if f.scyllaClient != nil {
		stats = f.OTPRepository()
	}
	adminHandler := handler.NewAdminHandler(f.UserDirectory(), searcher, stats,
		f.config.Elasticsearch.EventsIndex)

	return handler.NewRouter(handler.RouterConfig{
		Auth:         authHandler,
		Admin:        adminHandler,
		Authenticate: handler.Authenticator(f.TokenService(), f.UserDirectory()),
		AdminOnly:    handler.AdminOnly(f.config.Admin.APIKey),
		Health:       f,
		RequireTLS:   f.config.Server.EnableTLS,
	})
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		} else {
			healthErrors["redis"] = nil
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		} else {
			healthErrors["scylla"] = nil
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		} else {
			healthErrors["elasticsearch"] = nil
		}
	} else {
		healthErrors["elasticsearch"] = fmt.Errorf("elasticsearch client not initialized")
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		} else {
			healthErrors["clickhouse"] = nil
		}
	} else {
		healthErrors["clickhouse"] = fmt.Errorf("clickhouse client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		} else {
			healthErrors["kafka"] = nil
		}
	}

	return healthErrors
}

// IsHealthy reports whether the required backends are up. Kafka is optional.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	for _, err := range healthErrors {
		if err != nil {
			return false
		}
	}
	return true
}

// ==============================
// Lifecycle
// ==============================

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		// Drain buffered events before the sinks go away.
		if f.recorder != nil {
			f.recorder.Close()
			util.Info("Event recorder drained and closed")
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

// ==============================
// Getters
// ==============================

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) ScyllaClient() *scylla.ScyllaClient {
	return f.scyllaClient
}

func (f *Factory) Hasher() *hashing.Hasher {
	return f.hasher
}

func (f *Factory) EncryptionManager() *encryption.Manager {
	return f.encryptionManager
}

func (f *Factory) BucketingManager() *bucketing.BucketingManager {
	return f.bucketingManager
}
