package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/carecoord/carecoord/handlers"
	"github.com/carecoord/carecoord/internal/config"
	"github.com/carecoord/carecoord/internal/database"
	"github.com/carecoord/carecoord/internal/identity"
	"github.com/carecoord/carecoord/internal/oidc"
	"github.com/carecoord/carecoord/internal/repository"
	"github.com/carecoord/carecoord/internal/sessions"
	"github.com/carecoord/carecoord/internal/storage"
	"github.com/carecoord/carecoord/internal/store"
	"github.com/carecoord/carecoord/internal/tokens"
	"github.com/carecoord/carecoord/internal/users"
	"github.com/carecoord/carecoord/pkg/logger"
	"github.com/carecoord/carecoord/pkg/metrics"
	"github.com/carecoord/carecoord/pkg/middleware"
)

var startTime = time.Now()

const mongoConnectAttempts = 5

func main() {
	// LOG_LEVEL: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.LogLevel)
	logger.Infof("config loaded: keycloak=%v mongo=%v redis=%v minio=%v", cfg.Keycloak.URL != "", cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.MinIO.Enabled())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)

	r := gin.New()
	r.Use(cors(), gin.Logger(), gin.Recovery())

	// Redis first: the limiter, the session store and the revocation list use it.
	var rdb *redis.Client
	if addr := cfg.Redis.Addr(); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s): %v", addr, err)
			_ = rdb.Close()
			rdb = nil
		} else {
			logger.Infof("connected to Redis at %s", addr)
			defer rdb.Close()
		}
	}

	var limiter middleware.Limiter
	if cfg.RateLimit.Enabled {
		if rdb != nil {
			limiter = middleware.NewRedisLimiter(rdb, cfg.RateLimit.Requests, cfg.RateLimit.Window)
		} else {
			rps := float64(cfg.RateLimit.Requests) / cfg.RateLimit.Window.Seconds()
			limiter = middleware.NewMemoryLimiter(rps, cfg.RateLimit.Requests)
		}
		logger.Infof("rate limiter enabled (%s): %d requests per %s", limiter.Name(), cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}

	// Document store: MongoDB when configured, memory otherwise.
	var (
		mongoClient *mongo.Client
		docStore    store.Store
		userRepo    users.UserRepository
		sessionRepo sessions.Repository
	)
	if cfg.MongoDB.URI != "" {
		mongoClient, err = database.ConnectMongoWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, mongoConnectAttempts)
		if err != nil {
			logger.Fatalf("could not connect to MongoDB: %v", err)
		}
		defer func() { _ = mongoClient.Disconnect(context.Background()) }()
		db := mongoClient.Database(cfg.MongoDB.Database)
		docStore = store.NewMongoStore(db)

		ur := users.NewMongoUserRepository(db.Collection("users"))
		if err := ur.EnsureIndexes(ctx); err != nil {
			logger.Warnf("users index: %v", err)
		}
		userRepo = ur
		if rdb == nil {
			sr := sessions.NewMongoRepository(db.Collection("sessions"))
			if err := sr.EnsureIndexes(ctx); err != nil {
				logger.Warnf("sessions index: %v", err)
			}
			sessionRepo = sr
		}
	} else {
		docStore = store.NewMemoryStore()
		userRepo = users.NewMemoryUserRepository()
	}
	if rdb != nil {
		sessionRepo = sessions.NewRedisRepository(rdb, "session:")
		logger.Infof("using Redis for session storage")
	}
	if sessionRepo == nil {
		sessionRepo = sessions.NewMemoryRepository()
	}

	repos := repository.NewFactory(docStore, identity.ContextProvider{})
	if err := repos.EnsureIndexes(ctx); err != nil {
		logger.Warnf("failed to ensure record indexes: %v", err)
	}

	var blobs storage.BlobStore
	if cfg.MinIO.Enabled() {
		ms, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			logger.Fatalf("failed to initialize MinIO: %v", err)
		}
		blobs = ms
	} else {
		logger.Warnf("MINIO_ENDPOINT is not set; attachments are kept in memory")
		blobs = storage.NewMemoryStore("/blobs")
	}

	// Bearer tokens: our own access tokens first, then identity-provider id tokens.
	var accessTokens, idTokens middleware.Verifiers
	if cfg.JWT.Secret != "" {
		accessTokens = append(accessTokens, tokens.NewVerifier(cfg.JWT.Secret))
	}
	if issuer := cfg.Keycloak.Issuer(); issuer != "" && cfg.Keycloak.ClientID != "" {
		ver, err := oidc.NewVerifier(ctx, issuer, cfg.Keycloak.ClientID)
		if err != nil {
			logger.Warnf("failed to initialize OIDC verifier: %v", err)
		} else {
			idTokens = append(idTokens, ver)
		}
	}
	if len(idTokens) == 0 && cfg.Keycloak.AllowInsecure {
		logger.Warnf("enabling insecure id-token verifier (ALLOW_INSECURE_TOKEN=true)")
		idTokens = append(idTokens, oidc.NewInsecureVerifier())
	}
	accessTokens = append(accessTokens, idTokens...)

	revoker := sessions.NewRevoker(rdb)
	userSvc := users.NewService(userRepo)
	authH := handlers.NewAuthHandler(cfg, idTokens, userSvc, sessions.NewService(sessionRepo), revoker)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", func(c *gin.Context) {
		pctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		deps := map[string]bool{"verifier": len(accessTokens) > 0}
		if mongoClient != nil {
			deps["mongodb"] = mongoClient.Ping(pctx, nil) == nil
		}
		if rdb != nil {
			deps["redis"] = rdb.Ping(pctx).Err() == nil
		}
		status, code := "ready", http.StatusOK
		for _, ok := range deps {
			if !ok {
				status, code = "not_ready", http.StatusServiceUnavailable
			}
		}
		c.JSON(code, gin.H{"status": status, "deps": deps, "uptime": time.Since(startTime).String()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterSwagger(r)

	authGroup := r.Group("/")
	if limiter != nil {
		authGroup.Use(middleware.RateLimit(limiter))
	}
	authH.Register(authGroup)

	protected := []gin.HandlerFunc{middleware.AuthMiddleware(accessTokens, revoker)}
	if limiter != nil {
		protected = append(protected, middleware.RateLimit(limiter))
	}
	api := r.Group("/api", protected...)
	api.GET("/me", authH.Me)
	handlers.NewEntityHandler(repos, blobs, cfg.Subscriptions.LoadTimeout).Register(api)
	if _, inMemory := blobs.(*storage.MemoryStore); inMemory {
		handlers.RegisterBlobRoutes(r.Group("/blobs", protected...), blobs)
	}

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		// ends open event streams on shutdown
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		logger.Infof("carecoord listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("graceful shutdown failed: %v", err)
	}
}

// cors is a permissive policy for development clients.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}
