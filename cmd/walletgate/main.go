package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"walletgate/pkg/audit"
	"walletgate/pkg/custody"
	"walletgate/pkg/gateway"
	"walletgate/pkg/httpx"
	"walletgate/pkg/identity"
	"walletgate/pkg/metrics"
	"walletgate/pkg/proof"
	"walletgate/pkg/ratelimit"
	"walletgate/pkg/relay"
	"walletgate/pkg/resolver"
	"walletgate/pkg/session"
	"walletgate/pkg/store"
	"walletgate/pkg/telemetry"
	"walletgate/pkg/walletbus"
)

type config struct {
	ListenAddr         string
	AuthMode           string
	VerifierURL        string
	VerifierAuthHeader string
	VerifierAuthToken  string
	HS256Secret        string
	HS256Issuer        string
	HS256Audience      string
	CustodyURL         string
	CustodyAppID       string
	CustodyAppSecret   string
	ChainType          string
	SignerMode         string
	StaticKeyB64       string
	UpstreamTimeout    time.Duration
	UpstreamRetries    int
	UpstreamRetryDelay time.Duration
	WSOrigins          []string
	CORSOrigins        string
	RateLimitEnabled   bool
	RateLimitPerWindow int
	RateLimitWindow    time.Duration
	ResolveCacheTTL    time.Duration
	KafkaBrokers       []string
	KafkaTopic         string
}

func loadConfig() config {
	return config{
		ListenAddr:         env("LISTEN_ADDR", ":8090"),
		AuthMode:           strings.ToLower(env("AUTH_MODE", "remote")),
		VerifierURL:        env("VERIFIER_URL", "http://localhost:8081"),
		VerifierAuthHeader: env("VERIFIER_AUTH_HEADER", ""),
		VerifierAuthToken:  env("VERIFIER_AUTH_TOKEN", ""),
		HS256Secret:        env("OIDC_HS256_SECRET", ""),
		HS256Issuer:        env("OIDC_ISSUER", ""),
		HS256Audience:      env("OIDC_AUDIENCE", ""),
		CustodyURL:         env("CUSTODY_URL", "http://localhost:8082"),
		CustodyAppID:       env("CUSTODY_APP_ID", ""),
		CustodyAppSecret:   env("CUSTODY_APP_SECRET", ""),
		ChainType:          env("CHAIN_TYPE", "ethereum"),
		SignerMode:         strings.ToLower(env("SIGNER_MODE", "session")),
		StaticKeyB64:       strings.TrimSpace(os.Getenv("SIGNER_PRIVATE_KEY_B64")),
		UpstreamTimeout:    time.Millisecond * time.Duration(envInt("UPSTREAM_TIMEOUT_MS", 5000)),
		UpstreamRetries:    envInt("UPSTREAM_RETRIES", 1),
		UpstreamRetryDelay: time.Millisecond * time.Duration(envInt("UPSTREAM_RETRY_DELAY_MS", 50)),
		WSOrigins:          csvList(env("WS_ALLOWED_ORIGINS", "")),
		CORSOrigins:        env("CORS_ALLOWED_ORIGINS", ""),
		RateLimitEnabled:   env("RATE_LIMIT_ENABLED", "true") == "true",
		RateLimitPerWindow: envInt("RATE_LIMIT_PER_MINUTE", 120),
		RateLimitWindow:    time.Second * time.Duration(envInt("RATE_LIMIT_WINDOW_SEC", 60)),
		ResolveCacheTTL:    time.Second * time.Duration(envInt("RESOLVE_CACHE_TTL_SEC", 300)),
		KafkaBrokers:       csvList(env("WALLET_EVENTS_BROKERS", "")),
		KafkaTopic:         env("WALLET_EVENTS_TOPIC", "wallet-events"),
	}
}

type initTelemetryFunc func(ctx context.Context, service string) (func(context.Context) error, error)
type openRedisFunc func(ctx context.Context) (*redis.Client, error)
type openAuditFunc func(ctx context.Context) (*audit.Writer, error)
type listenFunc func(server *http.Server) error

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryG  = telemetry.Init
	openRedisFnG    = store.NewRedis
	openAuditFnG    = openAuditWriter
	listenFnG       = func(server *http.Server) error { return server.ListenAndServe() }
)

func main() {
	if err := run(initTelemetryG, openRedisFnG, openAuditFnG, listenFnG); err != nil {
		logFatalf("walletgate: %v", err)
	}
}

func run(initTelemetry initTelemetryFunc, openRedis openRedisFunc, openAudit openAuditFunc, listen listenFunc) error {
	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "walletgate")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	cfg := loadConfig()
	if cfg.CustodyAppID == "" || cfg.CustodyAppSecret == "" {
		return fmt.Errorf("CUSTODY_APP_ID and CUSTODY_APP_SECRET are required")
	}

	redisClient, err := openRedis(ctx)
	if err != nil {
		log.Printf("redis unavailable, falling back to in-memory cache/limits: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	cache := store.NewCache(ctx, redisClient)

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		if redisClient != nil {
			limiter = ratelimit.NewRedis(redisClient, cfg.RateLimitWindow)
		} else {
			limiter = ratelimit.NewInMemory(cfg.RateLimitWindow)
		}
	}

	auditWriter, err := openAudit(ctx)
	if err != nil {
		log.Printf("audit disabled: %v", err)
		auditWriter = nil
	}

	var bus *walletbus.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		bus, err = walletbus.NewPublisher(walletbus.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			log.Printf("wallet event bus disabled: %v", err)
			bus = nil
		} else {
			defer bus.Close()
		}
	}

	httpClient := telemetry.InstrumentClient(&http.Client{Timeout: cfg.UpstreamTimeout})
	custodyClient := custody.NewHTTPClient(cfg.CustodyURL, cfg.CustodyAppID, cfg.CustodyAppSecret, httpClient)
	custodyClient.Retries = cfg.UpstreamRetries
	custodyClient.RetryDelay = cfg.UpstreamRetryDelay

	verifier, err := buildVerifier(cfg, httpClient)
	if err != nil {
		return err
	}
	newSigner, ownerFromSigner, err := buildSignerFactory(cfg)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	registry := session.NewRegistry()
	res := &resolver.Resolver{
		Custody:         custodyClient,
		ChainType:       cfg.ChainType,
		OwnerFromSigner: ownerFromSigner,
		Cache:           cache,
		CacheTTL:        cfg.ResolveCacheTTL,
		Audit:           auditWriter,
		Bus:             bus,
		Metrics:         reg,
	}
	rel := &relay.Relay{
		Custody:        custodyClient,
		AppID:          cfg.CustodyAppID,
		Limiter:        limiter,
		LimitPerWindow: cfg.RateLimitPerWindow,
		Metrics:        reg,
	}
	gw := &gateway.Gateway{
		Registry:       registry,
		Verifier:       verifier,
		Resolver:       res,
		Relay:          rel,
		NewSigner:      newSigner,
		OriginPatterns: cfg.WSOrigins,
		Metrics:        reg,
		Audit:          auditWriter,
	}

	r := chi.NewRouter()
	r.Use(telemetry.HTTPMiddleware("walletgate"))
	r.Use(httpx.CORSMiddleware(cfg.CORSOrigins))
	r.Get("/ws", gw.HandleWS)
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/metrics", reg.Handler())

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("walletgate: listening on %s", cfg.ListenAddr)
	return listen(server)
}

func buildVerifier(cfg config, client *http.Client) (identity.Verifier, error) {
	switch cfg.AuthMode {
	case "remote":
		return &identity.HTTPVerifier{
			URL:        cfg.VerifierURL,
			HTTPClient: client,
			AuthHeader: cfg.VerifierAuthHeader,
			AuthToken:  cfg.VerifierAuthToken,
		}, nil
	case "hs256":
		if cfg.HS256Secret == "" {
			return nil, fmt.Errorf("AUTH_MODE=hs256 requires OIDC_HS256_SECRET")
		}
		return &identity.HS256Verifier{
			Secret:   cfg.HS256Secret,
			Issuer:   cfg.HS256Issuer,
			Audience: cfg.HS256Audience,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported AUTH_MODE %q", cfg.AuthMode)
	}
}

// buildSignerFactory selects the credential mode once at startup: fresh
// keypair per session, or one static deployment key shared by all
// sessions.
func buildSignerFactory(cfg config) (func() (proof.Signer, error), bool, error) {
	switch cfg.SignerMode {
	case "session":
		return func() (proof.Signer, error) { return proof.NewSessionSigner() }, true, nil
	case "static":
		static, err := proof.NewStaticSigner(cfg.StaticKeyB64)
		if err != nil {
			return nil, false, fmt.Errorf("SIGNER_MODE=static: %w", err)
		}
		return func() (proof.Signer, error) { return static, nil }, false, nil
	default:
		return nil, false, fmt.Errorf("unsupported SIGNER_MODE %q", cfg.SignerMode)
	}
}

func openAuditWriter(ctx context.Context) (*audit.Writer, error) {
	if strings.TrimSpace(os.Getenv("DATABASE_URL")) == "" {
		return nil, nil
	}
	pool, err := store.NewPostgresPool(ctx)
	if err != nil {
		return nil, err
	}
	return &audit.Writer{DB: pool}, nil
}

func env(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func csvList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
