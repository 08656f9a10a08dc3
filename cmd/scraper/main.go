package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"sge_scraper/internal/auth"
	"sge_scraper/internal/browser"
	"sge_scraper/internal/config"
	"sge_scraper/internal/domain"
	"sge_scraper/internal/extract"
	"sge_scraper/internal/publisher"
	"sge_scraper/internal/scheduler"
	"sge_scraper/internal/service"
	"sge_scraper/internal/sitemap"
	"sge_scraper/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	date := flag.String("date", "", "scrape this date (YYYY-MM-DD) once and exit")
	limit := flag.Int("limit", 0, "max articles per run, 0 means unlimited")
	force := flag.Bool("force", false, "re-scrape even when the date already has a completed session")
	url := flag.String("url", "", "scrape a single article URL and exit")
	requestCode := flag.String("request-code", "", "request a login code for this email and exit")
	verifyCode := flag.String("verify-code", "", "verify a pending login with this one-time code and exit")
	checkSession := flag.Bool("check-session", false, "print login session status and exit")
	clearSession := flag.Bool("clear-session", false, "delete the stored login session and exit")
	flag.Parse()

	// Setup logger
	logger := setupLogger("info")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	authManager := auth.NewManager(cfg.Auth, cfg.Site, cfg.Browser, logger)

	// Auth commands work on session files alone, no database or broker.
	if handled := runAuthCommand(ctx, authManager, *requestCode, *verifyCode, *checkSession, *clearSession, logger); handled {
		return
	}

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Initialize RabbitMQ publisher
	rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
		URL:        cfg.RabbitMQ.URL,
		Exchange:   cfg.RabbitMQ.Exchange,
		RoutingKey: cfg.RabbitMQ.RoutingKey,
		QueueName:  cfg.RabbitMQ.QueueName,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer rabbitMQ.Close()

	// Initialize stores
	articleStore := postgres.NewArticleStore(db)
	sessionStore := postgres.NewSessionStore(db)
	txManager := postgres.NewTransactionManager(db)

	discovery := sitemap.New(sitemap.Config{
		BaseURL:     cfg.Site.BaseURL,
		SitemapURLs: cfg.Site.SitemapURLs,
		UserAgent:   cfg.Browser.UserAgent,
	}, logger)

	worker := browser.NewWorker(cfg.Browser, logger)
	go func() {
		if err := worker.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("browser worker exited", "error", err)
			cancel()
		}
	}()

	extractor := extract.New(logger)

	scrapeService := service.NewScrapeService(
		discovery,
		worker,
		extractor,
		authManager,
		articleStore,
		sessionStore,
		txManager,
		rabbitMQ,
		logger,
		cfg.Scrape,
	)

	switch {
	case *url != "":
		article, err := scrapeService.ScrapeSingle(ctx, *url, *date, true)
		if err != nil {
			logger.Error("scrape failed", "url", *url, "error", err)
			os.Exit(1)
		}
		logger.Info("article scraped",
			"slug", article.Slug,
			"title", article.Title,
			"social_items", len(article.SocialContents),
		)

	case *date != "":
		result, err := scrapeService.Run(ctx, domain.RunOptions{
			TargetDate: *date,
			Limit:      *limit,
			Force:      *force,
		})
		if err != nil {
			logger.Error("scrape failed", "target_date", *date, "error", err)
			os.Exit(1)
		}
		logger.Info("scrape result",
			"target_date", result.TargetDate,
			"status", result.Status,
			"message", result.Message,
		)
		if result.Status == domain.RunAuthRequired {
			os.Exit(2)
		}

	default:
		logger.Info("starting article scraper",
			"base_url", cfg.Site.BaseURL,
			"interval", cfg.Scrape.Interval,
		)

		sched := scheduler.NewScheduler(scrapeService, cfg.Scrape.Interval, cfg.Scrape.RunTimeout, logger)
		if err := sched.Start(ctx); err != nil && err != context.Canceled {
			logger.Error("scheduler error", "error", err)
			os.Exit(1)
		}
	}
}

func runAuthCommand(ctx context.Context, manager *auth.Manager, requestCode, verifyCode string, checkSession, clearSession bool, logger *slog.Logger) bool {
	switch {
	case requestCode != "":
		if err := manager.RequestCode(ctx, requestCode); err != nil {
			logger.Error("code request failed", "email", requestCode, "error", err)
			os.Exit(1)
		}
		fmt.Printf("login code requested for %s, verify with -verify-code\n", requestCode)

	case verifyCode != "":
		if err := manager.VerifyCode(ctx, verifyCode); err != nil {
			logger.Error("code verification failed", "error", err)
			os.Exit(1)
		}
		status := manager.Status()
		fmt.Printf("logged in as %s\n", status.Email)

	case checkSession:
		status := manager.Status()
		switch status.State {
		case auth.StateEstablished:
			fmt.Printf("session established for %s, expires %s\n", status.Email, status.ExpiresAt.Format("2006-01-02 15:04"))
		case auth.StatePending:
			fmt.Printf("code requested for %s, waiting for -verify-code\n", status.Email)
		default:
			fmt.Println("no login session")
		}

	case clearSession:
		if err := manager.ClearSession(); err != nil {
			logger.Error("clear session failed", "error", err)
			os.Exit(1)
		}
		fmt.Println("login session cleared")

	default:
		return false
	}
	return true
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
