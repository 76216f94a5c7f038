package cli

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/luthierworks/luthier/internal/api"
	"github.com/luthierworks/luthier/internal/config"
	"github.com/luthierworks/luthier/internal/errors"
	"github.com/luthierworks/luthier/internal/httpclient"
	"github.com/luthierworks/luthier/internal/importer"
	"github.com/luthierworks/luthier/internal/listing"
	"github.com/luthierworks/luthier/internal/logging"
	"github.com/luthierworks/luthier/internal/metrics"
	"github.com/luthierworks/luthier/internal/oauth"
	"github.com/luthierworks/luthier/internal/store"
	"github.com/luthierworks/luthier/internal/tokenstore"
)

var errGoogleDisabled = stderrors.New("google integration is disabled (set google.enabled in the config)")

// app holds the collaborators shared by serve and the one-shot commands.
type app struct {
	loader  *config.Loader
	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.Metrics
	store   *store.SQLiteStore
	tokens  *tokenstore.Store
	stats   *tokenstore.StatsCache

	// nil when the Google integration is disabled
	oauth    *oauth.Client
	listing  *listing.Client
	importer *importer.Importer
}

// loadConfig reads --config. A missing file falls back to defaults so the
// read-only commands work on a fresh checkout.
func loadConfig(logOut io.Writer) (*config.Loader, *config.Config, error) {
	var (
		loader *config.Loader
		cfg    *config.Config
		err    error
	)
	if globalFlags.Config == "" {
		loader, cfg, err = config.LoadFromEnv()
	} else {
		loader = config.NewLoader(globalFlags.Config)
		cfg, err = loader.Load()
	}
	if err == nil {
		return loader, cfg, nil
	}
	var notFound *errors.ErrConfigNotFound
	if !stderrors.As(err, &notFound) {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if globalFlags.Verbose {
		fmt.Fprintf(logOut, "config %s not found, using defaults\n", loader.Path())
	}
	return loader, config.Default(), nil
}

func newLogger(cfg *config.Config, out io.Writer) *logging.Logger {
	level := logging.ParseLevel(cfg.Server.LogLevel)
	if globalFlags.Verbose {
		level = logging.LevelDebug
	}
	return logging.NewLogger(logging.WithOutput(out), logging.WithLevel(level))
}

func dbPath(cfg *config.Config) string {
	if globalFlags.DBPath != "" {
		return globalFlags.DBPath
	}
	return cfg.Server.DBPath
}

// newApp opens the store and, when Google is enabled, the API clients.
// The importer is built separately so serve can attach a notifier.
func newApp(loader *config.Loader, cfg *config.Config, logOut io.Writer) (*app, error) {
	logger := newLogger(cfg, logOut)
	if loader != nil {
		loader.SetLogger(logger)
	}

	st, err := store.NewSQLiteStore(dbPath(cfg))
	if err != nil {
		return nil, err
	}
	st.SetLogger(logger)

	a := &app{
		loader:  loader,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewMetrics("luthier"),
		store:   st,
		tokens:  tokenstore.New(st.Settings(), tokenstore.WithValidity(cfg.Sync.TokenValidity)),
		stats:   tokenstore.NewStatsCache(st.Settings()),
	}
	if !cfg.Google.Enabled {
		return a, nil
	}

	hc := httpclient.New(httpclient.Options{Timeout: cfg.Google.Timeout, UseUTLS: cfg.Google.UseUTLS})
	a.oauth, err = oauth.New(cfg.Google, a.tokens,
		oauth.WithHTTPClient(hc),
		oauth.WithLogger(logger),
		oauth.WithMetrics(a.metrics),
	)
	if err != nil {
		st.Close()
		return nil, err
	}
	a.listing = listing.New(cfg.Google,
		listing.WithHTTPClient(hc),
		listing.WithLogger(logger),
		listing.WithMetrics(a.metrics),
	)
	return a, nil
}

// buildImporter wires the importer. It is a no-op when Google is disabled.
func (a *app) buildImporter(opts ...importer.Option) *importer.Importer {
	if a.oauth == nil {
		return nil
	}
	opts = append([]importer.Option{
		importer.WithLogger(a.logger),
		importer.WithMetrics(a.metrics),
	}, opts...)
	a.importer = importer.New(a.cfg.Sync, a.tokens, a.stats, a.oauth, a.listing, a.store, opts...)
	return a.importer
}

// requireImporter is used by the google subcommands.
func (a *app) requireImporter() (*importer.Importer, error) {
	if a.importer == nil {
		a.buildImporter()
	}
	if a.importer == nil {
		return nil, errGoogleDisabled
	}
	return a.importer, nil
}

// apiDeps keeps disabled collaborators as untyped nils.
func (a *app) apiDeps() api.Deps {
	deps := api.Deps{
		Store:   a.store,
		Metrics: a.metrics,
		Logger:  a.logger,
	}
	if a.importer != nil {
		deps.Sync = a.importer
	}
	if a.oauth != nil {
		deps.Authorizer = a.oauth
	}
	return deps
}

func (a *app) Close() error {
	return a.store.Close()
}

// openApp is the common prologue of the one-shot commands. Logs go to
// stderr so --json output stays parseable.
func openApp() (*app, error) {
	loader, cfg, err := loadConfig(os.Stderr)
	if err != nil {
		return nil, err
	}
	return newApp(loader, cfg, os.Stderr)
}
