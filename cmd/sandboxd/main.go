// Command sandboxd is the control-plane daemon: it assembles every
// service spec.md §6 names (execute-sql, execute-code,
// create-visualization, and the capability surface) and exposes them
// over both the HTTP and gRPC transports, following the same
// config-then-wire-then-serve shape as the teacher's cmd/nova daemon
// command.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/oriys/nova/internal/auth"
	"github.com/oriys/nova/internal/capability"
	"github.com/oriys/nova/internal/config"
	"github.com/oriys/nova/internal/connector"
	"github.com/oriys/nova/internal/connector/athenaconnector"
	"github.com/oriys/nova/internal/connector/pgconnector"
	"github.com/oriys/nova/internal/domain"
	"github.com/oriys/nova/internal/grpcapi"
	"github.com/oriys/nova/internal/httpapi"
	"github.com/oriys/nova/internal/logging"
	"github.com/oriys/nova/internal/logsink"
	"github.com/oriys/nova/internal/metrics"
	"github.com/oriys/nova/internal/observability"
	"github.com/oriys/nova/internal/pool"
	"github.com/oriys/nova/internal/ratelimit"
	"github.com/oriys/nova/internal/sandbox"
	"github.com/oriys/nova/internal/secrets"
	"github.com/oriys/nova/internal/secretstore"
	"github.com/oriys/nova/internal/sqlexec"
	"github.com/oriys/nova/internal/store"
	"github.com/oriys/nova/internal/viz"
)

// version is stamped at build time via -ldflags; left as a plain
// default here since this repo has no release pipeline of its own.
var version = "dev"

var (
	configFile string
	httpAddr   string
	grpcAddr   string
	workerPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sandboxd",
		Short: "nova-sandbox control plane daemon",
		Long:  "Runs the SQL/code execution sandbox's HTTP and gRPC APIs against a pooled set of data connections",
		RunE:  runDaemon,
	}

	rootCmd.Flags().StringVar(&configFile, "config", "", "path to a YAML config file (optional, env and flags still apply on top)")
	rootCmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address, overrides config")
	rootCmd.Flags().StringVar(&grpcAddr, "grpc", "", "gRPC listen address, overrides config (enables gRPC if set)")
	rootCmd.Flags().StringVar(&workerPath, "worker-path", "sandboxworker", "path to the sandboxworker binary spawned per code execution")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level, overrides config")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[sandboxd] %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	config.LoadFromEnv(cfg)

	if cmd.Flags().Changed("http") {
		cfg.Daemon.HTTPAddr = httpAddr
	}
	if cmd.Flags().Changed("grpc") {
		cfg.GRPC.Addr = grpcAddr
		cfg.GRPC.Enabled = true
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Daemon.LogLevel = logLevel
	}
	if cfg.Daemon.HTTPAddr == "" {
		cfg.Daemon.HTTPAddr = fmt.Sprintf(":%d", cfg.Server.RESTPort)
	}

	logging.SetLevelFromString(cfg.Daemon.LogLevel)
	logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

	if err := observability.Init(context.Background(), observability.Config{
		Enabled:     cfg.Observability.Tracing.Enabled,
		Exporter:    cfg.Observability.Tracing.Exporter,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		ServiceName: cfg.Observability.Tracing.ServiceName,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.Shutdown(context.Background())

	if cfg.Observability.Metrics.Enabled {
		metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
	}

	if cfg.Observability.OutputCapture.Enabled {
		if err := logging.InitOutputStore(
			cfg.Observability.OutputCapture.StorageDir,
			cfg.Observability.OutputCapture.MaxSize,
			cfg.Observability.OutputCapture.RetentionS,
		); err != nil {
			logging.Op().Warn("failed to init output capture", "error", err)
		}
	}

	cipher, err := loadCipher(cfg.Secrets)
	if err != nil {
		return fmt.Errorf("init secrets cipher: %w", err)
	}

	pgStore, err := store.NewPostgresStore(context.Background(), cfg.Postgres.DSN, cipher)
	if err != nil {
		return fmt.Errorf("connect metadata store: %w", err)
	}
	defer pgStore.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logging.Op().Warn("redis unreachable at startup, dynamic API keys and distributed rate limiting degrade to local fallback", "error", err)
	}

	reg := connector.NewDefaultRegistry(pgconnector.New(), athenaconnector.New())

	p := pool.NewPool(reg, pool.Config{
		CleanupInterval:     cfg.Pool.CleanupInterval,
		HealthCheckInterval: cfg.Pool.HealthCheckInterval,
		AcquireTimeout:      cfg.Pool.AcquireTimeout,
	})
	defer p.Shutdown()

	sqlExecutor := sqlexec.New(p, cfg.Security, cfg.ResourceLimits)
	sandboxRunner := sandbox.NewRunner(workerPath, cfg.Security)
	vizAdapter := viz.NewAdapter(cfg.DataSharing, cfg.ResourceLimits)
	capSvc := capability.New(pgStore, p, reg, cfg.Security, cfg.ResourceLimits)
	logSink := logsink.NewPostgresSink(store.NewStore(pgStore))

	loadStaticConnections(context.Background(), capSvc, cfg, redisClient, cipher)

	dispatcher := buildDispatcher(cfg.Auth, redisClient)
	limiter := buildRateLimiter(cfg.RateLimit, redisClient)

	startedAt := time.Now()

	httpServer := httpapi.StartHTTPServer(cfg.Daemon.HTTPAddr, httpapi.Deps{
		Store: pgStore, LogSink: logSink, SQL: sqlExecutor, Sandbox: sandboxRunner, Viz: vizAdapter,
		Capability: capSvc, Dispatcher: dispatcher, RateLimiter: limiter,
		AuthCfg: cfg.Auth, RateLimitCfg: cfg.RateLimit, ResourceLimits: cfg.ResourceLimits,
		StartedAt: startedAt, Version: version,
	})

	var grpcServer interface{ GracefulStop() }
	if cfg.GRPC.Enabled {
		srv, err := grpcapi.StartGRPCServer(cfg.GRPC.Addr, grpcapi.Deps{
			Store: pgStore, LogSink: logSink, SQL: sqlExecutor, Sandbox: sandboxRunner, Viz: vizAdapter,
			Capability: capSvc, Dispatcher: dispatcher, AuthEnabled: cfg.Auth.Enabled,
			ResourceLimits: cfg.ResourceLimits, StartedAt: startedAt, Version: version,
		})
		if err != nil {
			return fmt.Errorf("start gRPC server: %w", err)
		}
		grpcServer = srv
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			logging.Op().Info("shutdown signal received")
			if grpcServer != nil {
				grpcServer.GracefulStop()
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			httpServer.Shutdown(ctx)
			cancel()
			return nil
		case <-ticker.C:
			for _, st := range p.AllStats() {
				metrics.SetConnectionPoolStats(st.ConnectionID, st.Idle, st.Busy, st.Waiters)
			}
		}
	}
}

// loadCipher builds the AES-256-GCM cipher every connection descriptor's
// secret bag is encrypted with at rest. A configured master key always
// wins; with none configured this generates a process-lifetime key and
// warns, since a restart then can't decrypt previously stored secrets -
// acceptable for local/dev runs, not for a real deployment.
func loadCipher(cfg config.SecretsConfig) (*secrets.Cipher, error) {
	if cfg.MasterKeyFile != "" {
		return secrets.NewCipherFromFile(cfg.MasterKeyFile)
	}
	if cfg.MasterKey != "" {
		return secrets.NewCipher(cfg.MasterKey)
	}
	logging.Op().Warn("no secrets master key configured, generating an ephemeral one for this process")
	key, err := secrets.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral master key: %w", err)
	}
	return secrets.NewCipher(key)
}

// buildDispatcher wires every configured auth.Verifier: the static table
// always runs first (cheapest, no network round trip), then the
// Redis-backed table for keys created/rotated at runtime through
// internal/auth.APIKeyStore.
func buildDispatcher(cfg config.AuthConfig, redisClient *redis.Client) *auth.Dispatcher {
	var verifiers []auth.Verifier
	if len(cfg.APIKeys.StaticKeys) > 0 {
		entries := make([]auth.StaticKeyConfig, len(cfg.APIKeys.StaticKeys))
		for i, k := range cfg.APIKeys.StaticKeys {
			entries[i] = auth.StaticKeyConfig{Name: k.Name, Key: k.Key, Tier: k.Tier}
		}
		verifiers = append(verifiers, auth.NewStaticVerifier(entries))
	}
	if cfg.APIKeys.Enabled {
		verifiers = append(verifiers, auth.NewRedisVerifier(auth.NewAPIKeyStore(redisClient)))
	}
	return auth.NewDispatcher(verifiers...)
}

// buildRateLimiter wires a Redis-backed token bucket with a local
// fallback, the same FallbackBackend degradation path the teacher's own
// rate limiting takes when Redis is unreachable.
func buildRateLimiter(cfg config.RateLimitConfig, redisClient *redis.Client) *ratelimit.Limiter {
	backend := ratelimit.NewFallbackBackend(ratelimit.NewRedisBackend(redisClient))
	tiers := make(map[string]ratelimit.TierConfig, len(cfg.Tiers))
	for name, t := range cfg.Tiers {
		tiers[name] = ratelimit.TierConfig{RequestsPerSecond: t.RequestsPerSecond, BurstSize: t.BurstSize}
	}
	return ratelimit.New(backend, tiers, ratelimit.TierConfig{
		RequestsPerSecond: cfg.Default.RequestsPerSecond,
		BurstSize:         cfg.Default.BurstSize,
	})
}

// buildSecretResolver wires a Redis-backed resolver, plus an AWS Secrets
// Manager backend when cfg names a region - enabling $AWSSECRET:name
// indirection in static connection config alongside the default
// $SECRET:name one. A failure to reach AWS only warns and falls back to
// Redis-only resolution, for the same "don't block the daemon" reason
// loadStaticConnections tolerates a single bad entry.
func buildSecretResolver(ctx context.Context, cfg config.SecretsConfig, redisClient *redis.Client, cipher *secrets.Cipher) *secrets.Resolver {
	store := secrets.NewStore(redisClient, cipher)
	if cfg.AWSSecretsManagerRegion == "" {
		return secrets.NewResolver(store)
	}
	backend, err := secretstore.NewAWSBackend(ctx, cfg.AWSSecretsManagerRegion)
	if err != nil {
		logging.Op().Warn("failed to init aws secrets manager backend, $AWSSECRET: references will not resolve", "error", err)
		return secrets.NewResolver(store)
	}
	return secrets.NewResolverWithAWS(store, backend)
}

// loadStaticConnections registers every config-declared connection with
// capSvc at startup, resolving $SECRET:/$AWSSECRET: indirection in
// Password first. A single bad entry only warns - spec.md's
// capability surface lets an operator fix and retry through
// create-connection, so this never blocks the daemon from serving the
// rest.
func loadStaticConnections(ctx context.Context, capSvc *capability.Service, cfg *config.Config, redisClient *redis.Client, cipher *secrets.Cipher) {
	if len(cfg.DatabaseConnections.Connections) == 0 {
		return
	}
	resolver := buildSecretResolver(ctx, cfg.Secrets, redisClient, cipher)
	for _, sc := range cfg.DatabaseConnections.Connections {
		password, err := resolver.ResolveValue(ctx, sc.Password)
		if err != nil {
			logging.Op().Warn("failed to resolve static connection secret", "connection", sc.Name, "error", err)
			continue
		}
		desc := &domain.ConnectionDescriptor{
			Name: sc.Name, Vendor: sc.Vendor, Host: sc.Host, Port: sc.Port,
			Database: sc.Database, Schema: sc.Schema, Username: sc.Username,
			Secrets: domain.SecretBag{Password: password},
			SSL:     domain.SSLDiscipline{Mode: domain.SSLMode(sc.SSLMode)},
			Pool:    domain.PoolBounds{Min: sc.PoolMin, Max: sc.PoolMax},
		}
		if _, err := capSvc.CreateConnection(ctx, desc); err != nil {
			logging.Op().Warn("failed to register static connection", "connection", sc.Name, "error", err)
		}
	}
}
