package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/luthierworks/luthier/internal/api"
	"github.com/luthierworks/luthier/internal/config"
	"github.com/luthierworks/luthier/internal/store"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:     "check",
	Aliases: []string{"c", "health"},
	Short:   "Check database, configuration and integration state",
	Long: `Check that the configuration parses, the database opens and the
Google and Telegram integrations are ready.

Example:
  luthier check --json`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	RootCmd.AddCommand(checkCmd)
}

// Check statuses.
const (
	CheckOK      = "OK"
	CheckWarning = "WARNING"
	CheckFail    = "FAIL"
)

// CheckResult represents the result of a health check
type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, cfgResult := checkConfig()
	results := []CheckResult{cfgResult}
	if cfg == nil {
		cfg = config.Default()
	}

	dbResult, st := checkDatabase(cfg)
	results = append(results, dbResult)
	if st != nil {
		defer st.Close()
	}
	results = append(results, checkGoogle(cfg, st), checkTelegram(cfg))

	return outputCheckResults(cmd.OutOrStdout(), results)
}

func checkConfig() (*config.Config, CheckResult) {
	result := CheckResult{Name: "Configuration", Status: CheckOK}

	loader, cfg, err := loadConfig(io.Discard)
	if err != nil {
		result.Status = CheckFail
		result.Message = err.Error()
		return nil, result
	}
	if _, statErr := os.Stat(loader.Path()); statErr != nil {
		result.Status = CheckWarning
		result.Message = fmt.Sprintf("%s not found, using defaults", loader.Path())
	} else {
		result.Message = fmt.Sprintf("Configuration valid (version: %s)", cfg.Version)
	}
	result.Details = fmt.Sprintf("Server: %s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	if cfg.API.Auth.Enabled {
		result.Details += fmt.Sprintf("; admin keys: %s", strings.Join(api.MaskAPIKeys(cfg.API.Auth.APIKeys), ", "))
	}
	return cfg, result
}

func checkDatabase(cfg *config.Config) (CheckResult, *store.SQLiteStore) {
	result := CheckResult{Name: "Database", Status: CheckOK}
	path := dbPath(cfg)

	st, err := store.NewSQLiteStore(path)
	if err != nil {
		result.Status = CheckFail
		result.Message = fmt.Sprintf("Failed to open database: %v", err)
		return result, nil
	}

	stats := st.Stats()
	result.Message = fmt.Sprintf("Database ready at %s", path)
	result.Details = fmt.Sprintf("Testimonials: %d (imported %d, featured %d)",
		stats.TestimonialCount, stats.ImportedCount, stats.FeaturedCount)
	return result, st
}

func checkGoogle(cfg *config.Config, st *store.SQLiteStore) CheckResult {
	result := CheckResult{Name: "Google", Status: CheckOK}
	if !cfg.Google.Enabled {
		result.Status = CheckWarning
		result.Message = "Integration disabled"
		return result
	}
	result.Details = "Redirect: " + cfg.Google.RedirectURL()
	if st == nil {
		result.Status = CheckFail
		result.Message = "Database unavailable"
		return result
	}

	settings := st.Settings()
	_, hasAccess := settings.Get(store.SettingGoogleAccessToken)
	_, hasRefresh := settings.Get(store.SettingGoogleRefreshToken)
	if !hasAccess && !hasRefresh {
		result.Status = CheckWarning
		result.Message = "Not connected; run: luthier google connect"
		return result
	}

	location, _ := settings.Get(store.SettingGoogleLocationID)
	if location == "" {
		location = cfg.Google.LocationID
	}
	if location == "" {
		result.Status = CheckWarning
		result.Message = "Connected; no location selected"
		return result
	}
	result.Message = fmt.Sprintf("Connected; location %s", location)
	return result
}

func checkTelegram(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "Telegram", Status: CheckOK}
	if !cfg.Telegram.Enabled {
		result.Status = CheckWarning
		result.Message = "Notifications disabled"
		return result
	}
	result.Message = fmt.Sprintf("Notifications to chat %d", cfg.Telegram.ChatID)
	return result
}

func outputCheckResults(w io.Writer, results []CheckResult) error {
	failed := false
	for _, r := range results {
		if r.Status == CheckFail {
			failed = true
		}
	}

	if globalFlags.JSON {
		if err := writeJSON(w, results); err != nil {
			return err
		}
	} else {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CHECK\tSTATUS\tMESSAGE\tDETAILS")
		for _, r := range results {
			icon := "✓"
			switch r.Status {
			case CheckFail:
				icon = "✗"
			case CheckWarning:
				icon = "!"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, icon+" "+r.Status, r.Message, orDash(r.Details))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(w)
		if failed {
			fmt.Fprintln(w, "✗ Some checks failed. Please review the output above.")
		} else {
			fmt.Fprintln(w, "✓ All checks passed!")
		}
	}

	if failed {
		return fmt.Errorf("health check failed")
	}
	return nil
}
