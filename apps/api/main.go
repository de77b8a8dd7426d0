package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"civicdesk/libs/mailer"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	adminCookieName            = "civicdesk_admin_session"
	adminSessionDuration       = 8 * time.Hour
	loginRateLimitRequests     = 10
	loginRateLimitWindow       = 5 * time.Minute
	rateLimiterCleanupInterval = time.Minute
	defaultReportAPITimeout    = 15 * time.Second
	geocoderUserAgent          = "CivicDesk-Dashboard/1.0"
	reloadReasonFilters        = "filters_changed"
	devCORSOriginLocalhost     = "http://localhost:5173"
	devCORSOriginLoopback      = "http://127.0.0.1:5173"
	trustedProxyLoopbackIPv4   = "127.0.0.1"
	trustedProxyLoopbackIPv6   = "::1"
)

type Config struct {
	Addr                   string
	Env                    string
	DatabaseURL            string
	PublicBaseURL          string
	AppSigningSecret       string
	ReportAPIURL           string
	ReportAPIToken         string
	ReportAPITimeout       time.Duration
	AuthAPIURL             string
	RabbitMQURL            string
	GeocoderURL            string
	ResendAPIKey           string
	MailerFromAddresses    map[string]string
	EscalationEmailTo      string
	BootstrapAdminEmail    string
	BootstrapAdminPassword string
	DemoCityCode           string
}

type App struct {
	cfg *Config
	db  *sql.DB
	log *slog.Logger

	reports  reportAPI
	demo     *demoReportAPI
	auth     adminAuthenticator
	accounts *memoryAccounts
	presets  presetStore
	mailer   *mailer.Mailer

	events   eventPublisher
	hub      *eventHub
	executor *transitionExecutor
	bulk     *bulkEngine
	filters  *filterRegistry

	rateLimiterMu sync.Mutex
	rateBuckets   map[string]rateBucket
}

type rateBucket struct {
	start time.Time
	count int
}

type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string { return e.Message }

func main() {
	if err := loadDotEnvFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ctx := context.Background()

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			panic(err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			panic(err)
		}
	} else {
		logger.Warn("no database configured, presets and admin accounts are kept in memory")
	}

	var extra []eventPublisher
	if cfg.RabbitMQURL != "" {
		rabbit, err := newRabbitPublisher(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Error("rabbitmq unavailable, events stay in process", "err", err)
		} else {
			defer rabbit.Close()
			extra = append(extra, rabbit)
		}
	}

	app := newApp(cfg, db, logger, extra...)
	defer app.filters.stopAll()

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	app.startRateLimiterCleanup(cleanupCtx, rateLimiterCleanupInterval)

	logger.Info(
		"runtime configuration",
		"env", cfg.Env,
		"addr", cfg.Addr,
		"report_api", valueOrDefaultString(cfg.ReportAPIURL, "demo"),
		"auth_api", valueOrDefaultString(cfg.AuthAPIURL, "local"),
		"database", db != nil,
	)

	if db != nil {
		if err := app.runMigrations(ctx); err != nil {
			panic(err)
		}
	}

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if db == nil {
			fmt.Fprintln(os.Stderr, "migrate requires DATABASE_URL")
			os.Exit(1)
		}
		if err := app.bootstrapAdmin(ctx); err != nil {
			panic(err)
		}
		logger.Info("migrate completed")
		return
	}

	if err := app.bootstrapAdmin(ctx); err != nil {
		panic(err)
	}

	r := app.router()
	app.log.Info("starting gin API", "addr", cfg.Addr)
	if err := r.Run(cfg.Addr); err != nil {
		panic(err)
	}
}

// newApp wires the report service, authentication and the workflow engines from cfg.
// Without REPORT_API_URL the in-memory demo service is used; without a database, presets
// and accounts live in memory.
func newApp(cfg *Config, db *sql.DB, logger *slog.Logger, extra ...eventPublisher) *App {
	httpClient := &http.Client{Timeout: cfg.ReportAPITimeout}
	if cfg.ReportAPITimeout <= 0 {
		httpClient.Timeout = defaultReportAPITimeout
	}

	app := &App{
		cfg:         cfg,
		db:          db,
		log:         logger,
		hub:         newEventHub(),
		rateBuckets: make(map[string]rateBucket),
	}
	publishers := []eventPublisher{&logEventPublisher{log: logger}, app.hub}
	app.events = multiPublisher(append(publishers, extra...))

	if cfg.ReportAPIURL != "" {
		app.reports = &reportAPIClient{BaseURL: cfg.ReportAPIURL, Token: cfg.ReportAPIToken, Client: httpClient}
	} else {
		demo := newDemoReportAPI(cfg.DemoCityCode, time.Now)
		if cfg.GeocoderURL != "" {
			demo.geocoder = &nominatimLookup{BaseURL: cfg.GeocoderURL, UserAgent: geocoderUserAgent, Client: httpClient}
		}
		app.demo = demo
		app.reports = demo
	}

	if cfg.AuthAPIURL != "" {
		app.auth = &remoteAuthClient{BaseURL: cfg.AuthAPIURL, Client: httpClient}
	} else if db != nil {
		app.auth = &localAuthenticator{lookup: app.storeGetAdminAccount}
	} else {
		app.accounts = newMemoryAccounts()
		app.auth = &localAuthenticator{lookup: app.accounts.lookup}
	}

	if db != nil {
		app.presets = &sqlPresetStore{db: db}
	} else {
		app.presets = newMemoryPresetStore()
	}

	var mailProvider mailer.Provider
	if cfg.ResendAPIKey != "" {
		mailProvider = mailer.NewResendProvider(cfg.ResendAPIKey)
	} else {
		mailProvider = mailer.NewLogProvider(logger)
	}
	logger.Info("mailer initialized", "provider", mailProvider.Name())
	app.mailer = mailer.New(mailProvider, cfg.MailerFromAddresses[mailProvider.Name()])

	app.executor = newTransitionExecutor(app.reports, app.events, logger)
	app.bulk = newBulkEngine(app.reports, app.auth, app.events, logger)
	app.bulk.onCriticalEscalation = func(ctx context.Context, actor string, reports []Report, result *BulkOperationResult) {
		// The mailer retries with backoff; the response does not wait for it.
		go app.notifyCriticalEscalation(context.WithoutCancel(ctx), actor, reports, result)
	}
	if db != nil {
		app.bulk.onCompleted = app.recordBulkOperation
	}
	app.filters = newFilterRegistry(searchDebounceWindow, app.publishFilterChange)
	return app
}

func (a *App) router() *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies([]string{trustedProxyLoopbackIPv4, trustedProxyLoopbackIPv6}); err != nil {
		panic(err)
	}
	r.Use(gin.Recovery())
	r.Use(a.loggingMiddleware())
	r.Use(a.corsMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	a.registerAdminRoutes(r.Group("/api/v1"))
	return r
}

// publishFilterChange asks the administrator's open dashboards to reload with the committed filters.
func (a *App) publishFilterChange(actor string, state FilterState) {
	event := newDomainEvent(eventReportsReload, actor, map[string]any{
		"reason": reloadReasonFilters,
		"query":  state.query().Encode(),
	})
	if err := a.events.Publish(context.Background(), event); err != nil {
		a.log.Warn("publish filter change failed", "actor", actor, "err", err)
	}
}

func (a *App) recordBulkOperation(ctx context.Context, result *BulkOperationResult) {
	if err := a.storeRecordBulkOperation(ctx, result); err != nil {
		a.log.Error("bulk audit log failed", "operation_id", result.OperationID, "err", err)
	}
}

func loadConfig() (*Config, error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		host := valueFromEnvKeys("PGHOST", "POSTGRES_HOST")
		if host == "" {
			host = "127.0.0.1"
		}
		port := valueFromEnvKeys("PGPORT", "POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		dbname := valueFromEnvKeys("PGDATABASE", "POSTGRES_DB")
		user := valueFromEnvKeys("PGUSER", "POSTGRES_USER")
		password := valueFromEnvKeys("PGPASSWORD", "POSTGRES_PASSWORD")
		sslmode := valueFromEnvKeys("PGSSLMODE", "POSTGRES_SSLMODE")
		if sslmode == "" {
			sslmode = "disable"
		}
		if dbname != "" && user != "" {
			databaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, dbname, sslmode)
		}
	}

	secret := strings.TrimSpace(os.Getenv("APP_SIGNING_SECRET"))
	if len(secret) < 16 {
		return nil, fmt.Errorf("APP_SIGNING_SECRET must be at least 16 characters")
	}

	publicBase := strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL"))
	if publicBase == "" {
		publicBase = "http://localhost:5173"
	}
	publicBase = strings.TrimRight(publicBase, "/")

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "development"
	}

	cfg := &Config{
		Addr:                   valueOrDefault("GIN_ADDR", ":8080"),
		Env:                    env,
		DatabaseURL:            databaseURL,
		PublicBaseURL:          publicBase,
		AppSigningSecret:       secret,
		ReportAPIURL:           strings.TrimRight(strings.TrimSpace(os.Getenv("REPORT_API_URL")), "/"),
		ReportAPIToken:         strings.TrimSpace(os.Getenv("REPORT_API_TOKEN")),
		ReportAPITimeout:       defaultReportAPITimeout,
		AuthAPIURL:             strings.TrimRight(strings.TrimSpace(os.Getenv("AUTH_API_URL")), "/"),
		RabbitMQURL:            strings.TrimSpace(os.Getenv("RABBITMQ_URL")),
		GeocoderURL:            strings.TrimRight(strings.TrimSpace(os.Getenv("GEOCODER_URL")), "/"),
		ResendAPIKey:           strings.TrimSpace(os.Getenv("RESEND_API_KEY")),
		EscalationEmailTo:      valueOrDefault("ESCALATION_EMAIL_TO", "ops@civicdesk.local"),
		BootstrapAdminEmail:    strings.TrimSpace(os.Getenv("BOOTSTRAP_ADMIN_EMAIL")),
		BootstrapAdminPassword: strings.TrimSpace(os.Getenv("BOOTSTRAP_ADMIN_PASSWORD")),
		DemoCityCode:           valueOrDefault("DEMO_CITY_CODE", defaultDemoCityCode),
		MailerFromAddresses: map[string]string{
			"resend": valueOrDefault("MAILER_FROM_ADDRESS_RESEND", "noreply@mail.civicdesk.in"),
			"log":    valueOrDefault("MAILER_FROM_ADDRESS_LOG", "noreply@civicdesk.local"),
		},
	}

	if rawTimeout := strings.TrimSpace(os.Getenv("REPORT_API_TIMEOUT")); rawTimeout != "" {
		parsed, err := time.ParseDuration(rawTimeout)
		if err != nil {
			return nil, fmt.Errorf("REPORT_API_TIMEOUT must be a duration like 15s")
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("REPORT_API_TIMEOUT must be > 0")
		}
		cfg.ReportAPITimeout = parsed
	}

	if len(cfg.DemoCityCode) != 3 {
		return nil, fmt.Errorf("DEMO_CITY_CODE must be three letters")
	}

	return cfg, nil
}

func loadDotEnvFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, raw := range strings.Split(string(content), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.Trim(strings.TrimSpace(line[idx+1:]), "\"")
		if os.Getenv(key) == "" {
			_ = os.Setenv(key, value)
		}
	}
	return nil
}

func valueOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func valueFromEnvKeys(keys ...string) string {
	for _, key := range keys {
		value := strings.TrimSpace(os.Getenv(key))
		if value != "" {
			return value
		}
	}
	return ""
}

func valueOrDefaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func (a *App) runMigrations(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return err
	}

	if _, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return err
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		var exists bool
		if err := a.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, file).Scan(&exists); err != nil {
			return err
		}
		if exists {
			continue
		}

		content, err := migrationFiles.ReadFile(filepath.Join("migrations", file))
		if err != nil {
			return err
		}

		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, file); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		a.log.Info("applied migration", "file", file)
	}

	return nil
}

func (a *App) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.log.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.ClientIP(),
		)
	}
}

func (a *App) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := strings.TrimSpace(c.GetHeader("Origin"))
		originAllowed := a.isAllowedCORSOrigin(origin)
		if originAllowed {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
			c.Header("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (a *App) isAllowedCORSOrigin(origin string) bool {
	if origin == "" || a.cfg == nil {
		return false
	}
	if a.cfg.PublicBaseURL != "" && origin == a.cfg.PublicBaseURL {
		return true
	}
	if !strings.EqualFold(a.cfg.Env, "development") {
		return false
	}
	return origin == devCORSOriginLocalhost || origin == devCORSOriginLoopback
}

// describeAPIError maps any handler error onto a response status, code and message.
func describeAPIError(err error) (int, string, string) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.Status, apiErr.Code, apiErr.Message
	}
	var wfErr *workflowError
	if errors.As(err, &wfErr) {
		return workflowHTTPStatus(wfErr.Kind), string(wfErr.Kind), wfErr.Message
	}
	var remoteErr *remoteAPIError
	if errors.As(err, &remoteErr) {
		if remoteErr.StatusCode == http.StatusNotFound {
			return http.StatusNotFound, "not_found", remoteErr.Error()
		}
		return http.StatusBadGateway, "remote_error", remoteErr.Error()
	}
	return http.StatusInternalServerError, "internal_error", err.Error()
}

func writeAPIError(c *gin.Context, err error) {
	status, code, message := describeAPIError(err)
	c.JSON(status, gin.H{"error": code, "message": message})
}
