// kapchan/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"kapchan/attachments"
	"kapchan/chat"
	"kapchan/config"
	"kapchan/database"
	"kapchan/handlers"
	"kapchan/models"
	"kapchan/utils"
)

// Application carries every shared service and satisfies handlers.App.
type Application struct {
	db          *database.Service
	storage     models.StorageService
	pipeline    *attachments.Pipeline
	hub         *chat.Hub
	sessions    *utils.SessionCodec
	rateLimiter *models.RateLimiter
	logger      *slog.Logger
}

func (a *Application) DB() *database.Service { return a.db }

func (a *Application) Storage() models.StorageService { return a.storage }

func (a *Application) Pipeline() *attachments.Pipeline { return a.pipeline }

func (a *Application) Hub() *chat.Hub { return a.hub }

func (a *Application) Sessions() *utils.SessionCodec { return a.sessions }

func (a *Application) RateLimiter() *models.RateLimiter { return a.rateLimiter }

func (a *Application) Logger() *slog.Logger { return a.logger }

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using environment")
	}

	app, err := buildApplication(logger)
	if err != nil {
		logger.Error("Startup failed", "error", err)
		os.Exit(1)
	}

	go app.hub.Run()
	go pruneCaptchas(app)

	if err := handlers.LoadTemplates(utils.GetEnv("KAPCHAN_TEMPLATE_DIR", "templates")); err != nil {
		logger.Error("Failed to load templates", "error", err)
		os.Exit(1)
	}

	addr := ":" + utils.GetEnv("KAPCHAN_PORT", "8080")
	server := &http.Server{
		Addr:         addr,
		Handler:      handlers.NewRouter(app),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Server listening", "addr", addr, "version", config.AppVersion)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
	}
	app.hub.Stop()
	if err := app.db.DB.Close(); err != nil {
		logger.Error("Failed to close database", "error", err)
	}
	logger.Info("Shutdown complete")
}

// buildApplication wires the database, storage, session codec, rate
// limiter, attachment pipeline, and chat hub from the environment.
func buildApplication(logger *slog.Logger) (*Application, error) {
	dsn := utils.GetEnv("DATABASE_URL", "kapchan.db?_journal_mode=WAL&_foreign_keys=on")
	db, err := database.InitDB(dsn, logger)
	if err != nil {
		return nil, err
	}
	if err := db.SeedRootUser(os.Getenv("ROOT_PASSWORD")); err != nil {
		return nil, err
	}

	sessions, err := utils.NewSessionCodec(os.Getenv("COOKIE_SECRET"))
	if err != nil {
		return nil, err
	}

	storage, err := buildStorage(logger)
	if err != nil {
		return nil, err
	}

	rooms, err := db.ListChatRooms()
	if err != nil {
		return nil, err
	}
	roomNames := make([]string, len(rooms))
	for i, room := range rooms {
		roomNames[i] = room.Name
	}

	every, err := time.ParseDuration(utils.GetEnv("KAPCHAN_RATE_EVERY", config.DefaultRateLimitEvery))
	if err != nil {
		return nil, err
	}
	burst, err := strconv.Atoi(utils.GetEnv("KAPCHAN_RATE_BURST", strconv.Itoa(config.DefaultRateLimitBurst)))
	if err != nil {
		return nil, err
	}
	prune, err := time.ParseDuration(config.DefaultRateLimitPrune)
	if err != nil {
		return nil, err
	}
	expire, err := time.ParseDuration(config.DefaultRateLimitExpire)
	if err != nil {
		return nil, err
	}

	return &Application{
		db:          db,
		storage:     storage,
		pipeline:    &attachments.Pipeline{DB: db, Store: storage, Logger: logger},
		hub:         chat.NewHub(roomNames, logger),
		sessions:    sessions,
		rateLimiter: models.NewRateLimiter(every, burst, prune, expire),
		logger:      logger,
	}, nil
}

// buildStorage picks S3 when an endpoint is configured, local disk
// otherwise.
func buildStorage(logger *slog.Logger) (models.StorageService, error) {
	endpoint := os.Getenv("S3_ENDPOINT")
	if endpoint == "" {
		root := utils.GetEnv("KAPCHAN_DATA_DIR", "data")
		logger.Info("Using local storage", "root", root)
		return &utils.LocalStorage{Root: root}, nil
	}
	useSSL := utils.GetEnv("S3_USE_SSL", "true") == "true"
	s3, err := utils.NewS3Storage(
		endpoint,
		os.Getenv("S3_ACCESS_KEY"),
		os.Getenv("S3_SECRET_KEY"),
		utils.GetEnv("S3_BUCKET", "kapchan"),
		utils.GetEnv("S3_REGION", "us-east-1"),
		useSSL,
	)
	if err != nil {
		return nil, err
	}
	logger.Info("Using S3 storage", "endpoint", endpoint, "bucket", s3.BucketName)
	return s3, nil
}

// pruneCaptchas clears expired captchas once a minute.
func pruneCaptchas(app *Application) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		if err := app.db.PruneCaptchas(); err != nil {
			app.logger.Error("Captcha prune failed", "error", err)
		}
	}
}
