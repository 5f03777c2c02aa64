package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"

	"github.com/bankfeeds/backend/internal/audit"
	"github.com/bankfeeds/backend/internal/bucket"
	"github.com/bankfeeds/backend/internal/config"
	"github.com/bankfeeds/backend/internal/cursor"
	"github.com/bankfeeds/backend/internal/database"
	"github.com/bankfeeds/backend/internal/formats"
	"github.com/bankfeeds/backend/internal/formats/camt"
	"github.com/bankfeeds/backend/internal/formats/mt940"
	"github.com/bankfeeds/backend/internal/formats/sheet"
	"github.com/bankfeeds/backend/internal/merge"
	mW "github.com/bankfeeds/backend/internal/middleware"
	"github.com/bankfeeds/backend/internal/providers"
	"github.com/bankfeeds/backend/internal/services"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.BindEnv("import.granularity", "IMPORT_GRANULARITY")
	viper.BindEnv("import.reporting_timezone", "IMPORT_REPORTING_TIMEZONE")
	viper.BindEnv("import.allow_empty_statements", "IMPORT_ALLOW_EMPTY_STATEMENTS")
	viper.BindEnv("import.lookback_days", "IMPORT_LOOKBACK_DAYS")
	viper.BindEnv("import.poll_interval", "IMPORT_POLL_INTERVAL")
	viper.BindEnv("import.sheet_mapping", "IMPORT_SHEET_MAPPING")
	viper.BindEnv("import.journal_currency", "IMPORT_JOURNAL_CURRENCY")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	importCfg, err := config.LoadImportConfig()
	if err != nil {
		log.Fatalf("Invalid import configuration: %v", err)
	}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	parserRegistry := formats.NewRegistry(camt.New(), mt940.New())
	if mapping, ok := loadSheetMapping(); ok {
		parserRegistry.Register(sheet.New(mapping, viper.GetString("import.journal_currency")))
	}

	engine := merge.NewEngine(db)
	auditLog := audit.NewAuditLogger()
	providerRegistry := providers.NewRegistry(nil)
	cursorStore := cursor.NewStore(redisClient)

	scheduler := bucket.NewScheduler(providerRegistry, cursorStore, engine, auditLog, importCfg.ReportingTimezone)
	scheduler.Granularity = importCfg.Granularity
	scheduler.AllowEmpty = importCfg.AllowEmpty
	scheduler.LookbackDays = importCfg.LookbackDays
	scheduler.PollInterval = importCfg.PollInterval

	connStore := providers.NewConnectionStore(db)
	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	go scheduler.Run(schedulerCtx, connStore.ListActive, time.Minute)

	importService := services.NewImportService(parserRegistry, engine, auditLog, importCfg.AllowEmpty)
	pullService := services.NewPullService(scheduler, providerRegistry)
	authService := services.NewAuthService(db)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/token", authService.Token)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/imports", importService.ImportFile)
			r.Get("/statements", importService.ListStatements)
			r.Get("/statements/{id}", importService.GetStatement)

			r.Get("/providers", pullService.Services)
			r.Post("/providers/{service}/pull", pullService.Pull)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}

// loadSheetMapping reads the optional CSV/XLSX column mapping. Without
// one the sheet parser stays out of the chain, because sheet parsing is
// meaningless without a user-declared mapping.
func loadSheetMapping() (sheet.Mapping, bool) {
	var mapping sheet.Mapping
	path := viper.GetString("import.sheet_mapping")
	if path == "" {
		return mapping, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("Sheet mapping %s not readable, sheet parser disabled: %v", path, err)
		return mapping, false
	}
	if err := json.Unmarshal(data, &mapping); err != nil {
		log.Printf("Sheet mapping %s invalid, sheet parser disabled: %v", path, err)
		return mapping, false
	}
	return mapping, true
}
