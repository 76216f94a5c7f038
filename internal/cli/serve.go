package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/luthierworks/luthier/internal/api"
	"github.com/luthierworks/luthier/internal/config"
	"github.com/luthierworks/luthier/internal/importer"
	"github.com/luthierworks/luthier/internal/logging"
	"github.com/luthierworks/luthier/internal/models"
	"github.com/luthierworks/luthier/internal/telegram"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s", "server", "run"},
	Short:   "Start the Luthier server",
	Long: `Start the HTTP server that serves testimonials, the admin API and the
Google OAuth callback. When sync.interval is set, reviews are imported on
that schedule; when telegram is enabled, sync results are posted to the chat.

Example:
  luthier serve --config config.yaml --db ./data/luthier.db`,
	RunE: runServe,
}

var serveFlags struct {
	Host    string
	Port    int
	Timeout time.Duration
	NoWatch bool
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.Host, "host", "", "Server host (overrides config)")
	serveCmd.Flags().IntVar(&serveFlags.Port, "port", 0, "Server port (overrides config)")
	serveCmd.Flags().DurationVar(&serveFlags.Timeout, "timeout", 0, "Shutdown timeout (overrides config)")
	serveCmd.Flags().BoolVar(&serveFlags.NoWatch, "no-watch", false, "Do not reload the config file on change")

	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader, cfg, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}
	applyServeFlags(cfg)

	a, err := newApp(loader, cfg, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	logger := a.logger

	bot, err := setupTelegramBot(cfg.Telegram, logger)
	if err != nil {
		logger.Warn("telegram setup failed", "error", err.Error())
	}

	var importerOpts []importer.Option
	if bot != nil {
		importerOpts = append(importerOpts, importer.WithNotifier(bot))
	}
	imp := a.buildImporter(importerOpts...)
	if bot != nil {
		wireBotCallbacks(bot, a, imp)
		if err := bot.Start(); err != nil {
			logger.Warn("telegram bot did not start", "error", err.Error())
		}
	}

	server := api.NewServer(cfg.Server, cfg.API, a.apiDeps())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var scheduler *importer.Scheduler
	if imp != nil && cfg.Sync.Interval > 0 {
		scheduler = importer.NewScheduler(imp, cfg.Sync.Interval)
		if err := scheduler.Start(ctx); err != nil {
			logger.Warn("sync scheduler did not start", "error", err.Error())
			scheduler = nil
		}
	}

	if !serveFlags.NoWatch {
		watchConfig(ctx, loader, logger)
	}

	logger.Info("luthier starting",
		"version", Version,
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		"db", dbPath(cfg),
		"google", imp != nil,
		"telegram", bot != nil,
		"sync_interval", cfg.Sync.Interval.String(),
	)
	if cfg.API.Auth.Enabled {
		logger.Info("admin api key auth enabled", "keys", api.MaskAPIKeys(cfg.API.Auth.APIKeys))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()

	sigCh := api.SetupSignalHandler()
	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	case runErr = <-errCh:
	}
	cancel()

	if scheduler != nil {
		scheduler.Stop()
	}
	if bot != nil {
		if err := bot.Stop(); err != nil {
			logger.Warn("error stopping telegram bot", "error", err.Error())
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err.Error())
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

func applyServeFlags(cfg *config.Config) {
	if serveFlags.Host != "" {
		cfg.Server.Host = serveFlags.Host
	}
	if serveFlags.Port != 0 {
		cfg.Server.HTTPPort = serveFlags.Port
	}
	if serveFlags.Timeout > 0 {
		cfg.Server.ShutdownTimeout = serveFlags.Timeout
	}
}

// watchConfig logs config edits. Listener, credentials and schedule are
// fixed at startup, so a changed file only takes effect after a restart.
func watchConfig(ctx context.Context, loader *config.Loader, logger *logging.Logger) {
	if loader == nil {
		return
	}
	if _, err := os.Stat(loader.Path()); err != nil {
		return
	}
	loader.SetOnChange(func(cfg *config.Config) {
		logger.Warn("config file changed; restart to apply",
			"path", loader.Path(),
			"google", cfg.Google.Enabled,
			"sync_interval", cfg.Sync.Interval.String(),
		)
	})
	if err := loader.Watch(ctx); err != nil {
		logger.Warn("config watcher disabled", "error", err.Error())
	}
}

func setupTelegramBot(cfg config.TelegramConfig, logger *logging.Logger) (*telegram.Bot, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client, err := telegram.NewTGBotAPIClient(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	return telegram.NewBot(cfg.ChatID, true, &telegram.BotOptions{
		BotAPI: client,
		Logger: logger,
	}), nil
}

func wireBotCallbacks(bot *telegram.Bot, a *app, imp *importer.Importer) {
	if imp == nil {
		return
	}
	bot.SetStatusCallback(func(ctx context.Context, withAccount bool) (*telegram.StatusView, error) {
		st := imp.Status()
		view := &telegram.StatusView{
			Connected:        st.Connected,
			SelectedLocation: st.SelectedLocation,
			LastSync:         st.LastSync,
			CooldownUntil:    st.CooldownUntil,
			Running:          st.Running,
		}
		if withAccount && st.Connected {
			if info, err := imp.Account(ctx); err == nil && info != nil {
				view.Account = info.Email
			}
		}
		return view, nil
	})
	bot.SetSyncCallback(func(ctx context.Context) (*models.SyncRun, error) {
		return imp.Run(ctx, importer.RunOptions{})
	})
	if a.oauth != nil {
		bot.SetConnectURLCallback(a.oauth.AuthorizationURL)
	}
}
