package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/imgsearch/internal/auth"
	"github.com/example/imgsearch/internal/config"
	"github.com/example/imgsearch/internal/grpchealth"
	"github.com/example/imgsearch/internal/handlers"
	"github.com/example/imgsearch/internal/logging"
	"github.com/example/imgsearch/internal/repository"
	"github.com/example/imgsearch/internal/searchclient"
	"github.com/example/imgsearch/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the browser-facing search gateway",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "HTTP listen address (default: :8080)")
	serveCmd.Flags().String("grpc-listen", "", "gRPC health listen address (default: :9090)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.NewLogger(cfg.Log.Debug)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	startupCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	db, err := initDatabase(startupCtx, cfg.Database.DSN)
	if err != nil {
		logger.Error("failed to connect to database", zap.Error(err))
		return err
	}
	repo := repository.NewSearchRepository(db, logger)
	if err := repo.AutoMigrate(startupCtx); err != nil {
		logger.Error("auto migrate failed", zap.Error(err))
		return err
	}

	redisCtx, redisCancel := context.WithTimeout(startupCtx, 5*time.Second)
	defer redisCancel()
	redisClient, err := initRedis(redisCtx, cfg.Redis.Addr)
	if err != nil {
		logger.Error("redis connection failed", zap.Error(err))
		return err
	}
	defer redisClient.Close()

	client, err := searchclient.New(cfg.Backend.URL, cfg.Backend.Timeout, logger)
	if err != nil {
		return err
	}
	imageProxy, err := newImageProxy(cfg.Backend.URL)
	if err != nil {
		return err
	}

	cache := usecase.NewRedisCache(redisClient)
	uc := usecase.NewSearchUseCase(repo, cache, client, cfg.Images.BaseURL, cfg.Backend.Timeout, logger)

	if !cfg.Log.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize

	authMiddleware := auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret is empty, /api routes run unauthenticated")
	}
	handlers.RegisterRoutes(r, uc, handlers.Options{Limits: cfg.Gateway.Limits, ImageProxy: imageProxy}, authMiddleware)

	health := grpchealth.New(logger)
	grpcListener, err := net.Listen("tcp", cfg.Gateway.GRPCListen)
	if err != nil {
		return logging.NewOperationError("serve.grpc_listen", "", err)
	}
	go func() {
		if err := health.Serve(grpcListener); err != nil {
			logger.Error("gRPC health server stopped", zap.Error(err))
		}
	}()
	defer health.Stop()
	health.SetServing(true)

	server := &http.Server{
		Addr:    cfg.Gateway.Listen,
		Handler: r,
	}

	logger.Info("search gateway listening",
		zap.String("addr", cfg.Gateway.Listen),
		zap.String("backend", cfg.Backend.URL),
	)
	err = serveHTTPServer(server, cfg.Gateway.ShutdownTimeout, logger)
	health.SetServing(false)
	return err
}

func initDatabase(ctx context.Context, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping: %w", err)
	}
	return db, nil
}

func initRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// newImageProxy forwards /images/<filename> to the backend's image mount.
func newImageProxy(backendURL string) (http.Handler, error) {
	target, err := url.Parse(backendURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		req.Host = target.Host
	}
	return proxy, nil
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
