package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/znz-systems/mailpilot/internal/account"
	"github.com/znz-systems/mailpilot/internal/ai"
	"github.com/znz-systems/mailpilot/internal/auth"
	"github.com/znz-systems/mailpilot/internal/automation"
	"github.com/znz-systems/mailpilot/internal/config"
	"github.com/znz-systems/mailpilot/internal/database"
	"github.com/znz-systems/mailpilot/internal/gmail"
	"github.com/znz-systems/mailpilot/internal/imapmail"
	"github.com/znz-systems/mailpilot/internal/logging"
	"github.com/znz-systems/mailpilot/internal/mail"
	"github.com/znz-systems/mailpilot/internal/models"
	"github.com/znz-systems/mailpilot/internal/policy"
	"github.com/znz-systems/mailpilot/internal/quota"
	"github.com/znz-systems/mailpilot/internal/ratelimit"
	"github.com/znz-systems/mailpilot/internal/reply"
	"github.com/znz-systems/mailpilot/internal/store"
	"github.com/znz-systems/mailpilot/internal/store/postgres"
	"github.com/znz-systems/mailpilot/internal/store/sqlite"
	"github.com/znz-systems/mailpilot/internal/web"
	"github.com/znz-systems/mailpilot/internal/web/handlers"
	"github.com/znz-systems/mailpilot/migrations"
)

// stores bundles the persistence backends selected by DATABASE_URL.
type stores struct {
	accounts    store.AccountStore
	credentials store.CredentialStore
	close       func() error
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		if err := hashPassword(os.Args[2:], os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, "hash-password:", err)
			os.Exit(1)
		}
		return
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if _, err := logging.Setup(os.Stderr, cfg.LogFormat, cfg.LogLevel); err != nil {
		slog.Error("failed to configure logging", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("mailpilot stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	// Services
	accounts := account.NewService(st.accounts, cfg.DefaultMaxPerDay, cfg.QuotaTimezone)
	quotas := quota.NewManager(st.accounts, cfg.QuotaTimezone)

	generator, classifier, err := buildAI(cfg)
	if err != nil {
		return err
	}

	approval, err := buildPolicy(cfg, accounts, classifier)
	if err != nil {
		return err
	}

	var (
		mailClient   mail.Client
		oauthHandler *handlers.OAuthHandler
	)
	switch cfg.MailProvider {
	case "imap":
		sender := mail.NewSMTPClient(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
		mailClient = imapmail.NewClient(imapmail.Config{
			Host:     cfg.IMAPHost,
			Port:     cfg.IMAPPort,
			Username: cfg.IMAPUser,
			Password: cfg.IMAPPass,
			TLS:      cfg.IMAPTLS,
		}, sender)
		// The mailbox credentials live in config, so the account is linked at startup.
		if _, err := accounts.Connect(ctx, cfg.IMAPUser, models.ProviderIMAP, "imap:"+cfg.IMAPUser); err != nil {
			return fmt.Errorf("connect imap account: %w", err)
		}
	default:
		authenticator := gmail.NewAuthenticator(
			gmail.OAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL),
			st.credentials,
			accounts,
		)
		if !authenticator.Enabled() {
			slog.Warn("google oauth is not configured, accounts cannot be connected")
		}
		mailClient = gmail.NewClient(accounts, authenticator)
		oauthHandler = handlers.NewOAuthHandler(authenticator, auth.NewStateStore(auth.DefaultStateTTL), cfg.BaseURL)
	}

	orchestrator := automation.NewOrchestrator(accounts, quotas, mailClient, approval, generator)
	replies := reply.NewService(accounts, mailClient, generator)

	// Background sweeper
	if cfg.AutoSweepInterval > 0 {
		sweeper := automation.NewSweeper(orchestrator, mailClient, automation.SweeperOptions{
			Interval: cfg.AutoSweepInterval,
		})
		go sweeper.Run(ctx)
	}

	// Router
	router := web.NewRouter(web.RouterDeps{
		AccountHandler:   handlers.NewAccountHandler(accounts),
		EmailHandler:     handlers.NewEmailHandler(replies),
		AutoReplyHandler: handlers.NewAutoReplyHandler(orchestrator),
		OAuthHandler:     oauthHandler,
		Admin:            auth.NewAdmin(cfg.AdminUser, cfg.AdminPasswordHash),
		Limiter:          ratelimit.NewLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst),
	})

	// Server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("MailPilot starting", "addr", addr, "mail_provider", cfg.MailProvider, "ai_provider", cfg.AIProvider, "policy", cfg.PolicyMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	return nil
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.UsesSQLite() {
		s, err := sqlite.Open(ctx, cfg.SQLitePath())
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		if err := database.RunSQLiteMigrations(migrations.FS, s.DB()); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return &stores{accounts: s, credentials: s, close: s.Close}, nil
	}

	db, err := postgres.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.RunMigrations(migrations.FS, cfg.DatabaseURL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &stores{
		accounts:    postgres.NewAccountStore(db),
		credentials: postgres.NewCredentialStore(db),
		close:       db.Close,
	}, nil
}

// buildAI returns the reply generator and, for model-backed providers, the
// classifier used by the approval policy.
func buildAI(cfg *config.Config) (ai.Generator, ai.Classifier, error) {
	httpClient := &http.Client{Timeout: 60 * time.Second}
	switch cfg.AIProvider {
	case "anthropic":
		m := ai.NewAnthropic(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AIModel, cfg.AIMaxTokens, httpClient)
		return m, m, nil
	case "openai":
		m := ai.NewOpenAICompat(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AIModel, cfg.AIMaxTokens, httpClient)
		return m, m, nil
	default:
		t, err := ai.NewTemplate("")
		if err != nil {
			return nil, nil, err
		}
		return t, nil, nil
	}
}

func buildPolicy(cfg *config.Config, accounts *account.Service, classifier ai.Classifier) (policy.Policy, error) {
	rules := policy.DefaultRules()
	if cfg.PolicyRulesFile != "" {
		r, err := policy.LoadRules(cfg.PolicyRulesFile)
		if err != nil {
			return nil, err
		}
		rules = r
	}
	heuristic := policy.NewHeuristic(rules, accounts)

	if cfg.PolicyMode != "heuristic" && classifier == nil {
		slog.Warn("classifier policy needs a model-backed AI_PROVIDER, using heuristic only", "policy", cfg.PolicyMode)
		return heuristic, nil
	}
	switch cfg.PolicyMode {
	case "classifier":
		return policy.NewClassifier(classifier), nil
	case "both":
		return policy.All(heuristic, policy.NewClassifier(classifier)), nil
	default:
		return heuristic, nil
	}
}
