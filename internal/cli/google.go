package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/luthierworks/luthier/internal/errors"
	"github.com/luthierworks/luthier/internal/importer"
	"github.com/luthierworks/luthier/internal/logging"
	"github.com/luthierworks/luthier/internal/models"
	"github.com/spf13/cobra"
)

var googleCmd = &cobra.Command{
	Use:   "google",
	Short: "Manage the Google review integration",
	Long: `Connect a Google Business Profile account, import its reviews as
testimonials and inspect the integration state.

Examples:
  luthier google connect
  luthier google callback 'https://example.com/oauth/callback/google?code=...'
  luthier google locations --select 1234567890
  luthier google sync`,
}

var googleFlags struct {
	Location string
	Select   string
	Account  bool
}

var googleConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Print the Google consent URL",
	Args:  cobra.NoArgs,
	RunE:  runGoogleConnect,
}

var googleCallbackCmd = &cobra.Command{
	Use:   "callback <code|redirect-url>",
	Short: "Exchange an authorization code for tokens",
	Args:  cobra.ExactArgs(1),
	RunE:  runGoogleCallback,
}

var googleSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Import new reviews as testimonials",
	Args:  cobra.NoArgs,
	RunE:  runGoogleSync,
}

var googleDisconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Forget the stored credentials and sync state",
	Args:  cobra.NoArgs,
	RunE:  runGoogleDisconnect,
}

var googleStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connection, last sync and cooldown",
	Args:  cobra.NoArgs,
	RunE:  runGoogleStatus,
}

var googleLocationsCmd = &cobra.Command{
	Use:   "locations",
	Short: "List business locations, optionally selecting one",
	Args:  cobra.NoArgs,
	RunE:  runGoogleLocations,
}

func init() {
	googleSyncCmd.Flags().StringVar(&googleFlags.Location, "location", "", "Location to sync (id or resource name)")
	googleLocationsCmd.Flags().StringVar(&googleFlags.Select, "select", "", "Remember this location for later syncs")
	googleStatusCmd.Flags().BoolVar(&googleFlags.Account, "account", false, "Also fetch the connected account profile")

	googleCmd.AddCommand(googleConnectCmd, googleCallbackCmd, googleSyncCmd,
		googleDisconnectCmd, googleStatusCmd, googleLocationsCmd)
	RootCmd.AddCommand(googleCmd)
}

// withGoogle opens the app, runs fn against the importer and closes the app.
func withGoogle(cmd *cobra.Command, fn func(ctx context.Context, a *app, imp *importer.Importer) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	imp, err := a.requireImporter()
	if err != nil {
		return err
	}
	ctx := logging.WithCorrelationID(cmd.Context(), logging.GenerateCorrelationID())
	return fn(ctx, a, imp)
}

func runGoogleConnect(cmd *cobra.Command, args []string) error {
	return withGoogle(cmd, func(ctx context.Context, a *app, imp *importer.Importer) error {
		out := cmd.OutOrStdout()
		authURL := a.oauth.AuthorizationURL()
		if globalFlags.JSON {
			return writeJSON(out, map[string]string{
				"url":          authURL,
				"redirect_url": a.oauth.RedirectURL(),
			})
		}
		fmt.Fprintln(out, "Open this URL and grant access:")
		fmt.Fprintln(out, authURL)
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Google redirects to %s; if that URL is not served,\n", a.oauth.RedirectURL())
		fmt.Fprintln(out, "pass it to: luthier google callback '<redirect-url>'")
		return nil
	})
}

// authorizationCode accepts either the bare code or the full redirect URL.
func authorizationCode(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if !strings.Contains(arg, "code=") && !strings.Contains(arg, "error=") {
		if arg == "" {
			return "", fmt.Errorf("authorization code is empty")
		}
		return arg, nil
	}

	raw := arg
	if i := strings.Index(raw, "?"); i >= 0 {
		raw = raw[i+1:]
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URL: %w", err)
	}
	if e := q.Get("error"); e != "" {
		return "", fmt.Errorf("google did not grant access: %s", e)
	}
	code := q.Get("code")
	if code == "" {
		return "", fmt.Errorf("redirect URL carries no code")
	}
	return code, nil
}

func runGoogleCallback(cmd *cobra.Command, args []string) error {
	code, err := authorizationCode(args[0])
	if err != nil {
		return err
	}
	return withGoogle(cmd, func(ctx context.Context, a *app, imp *importer.Importer) error {
		event := logging.NewAuditEvent(logging.IntegrationConnect, "connect_google", logging.StatusSuccess).
			WithDetail("source", "cli")
		_, err := a.oauth.Exchange(ctx, code)
		a.logger.Audit(ctx, event.WithError(err))
		if err != nil {
			return userError(err)
		}
		if globalFlags.JSON {
			return writeJSON(cmd.OutOrStdout(), map[string]string{"status": "connected", "provider": "google"})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Google account connected")
		return nil
	})
}

func runGoogleSync(cmd *cobra.Command, args []string) error {
	return withGoogle(cmd, func(ctx context.Context, a *app, imp *importer.Importer) error {
		run, err := imp.Run(ctx, importer.RunOptions{LocationID: googleFlags.Location})
		if err != nil {
			return userError(err)
		}
		out := cmd.OutOrStdout()
		if globalFlags.JSON {
			return writeJSON(out, run)
		}
		fmt.Fprintf(out, "✓ Sync complete for location %s\n", orDash(run.LocationID))
		fmt.Fprintf(out, "  imported: %d\n  skipped:  %d\n  errors:   %d\n", run.Imported, run.Skipped, run.Errors)
		return nil
	})
}

func runGoogleDisconnect(cmd *cobra.Command, args []string) error {
	return withGoogle(cmd, func(ctx context.Context, a *app, imp *importer.Importer) error {
		if err := imp.Disconnect(ctx); err != nil {
			return err
		}
		if globalFlags.JSON {
			return writeJSON(cmd.OutOrStdout(), map[string]string{"status": "disconnected"})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Google account disconnected")
		return nil
	})
}

// statusOutput is the --json shape of google status.
type statusOutput struct {
	Connected        bool             `json:"connected"`
	SelectedLocation string           `json:"selected_location,omitempty"`
	DefaultLocation  string           `json:"default_location,omitempty"`
	LastSync         *models.SyncRun  `json:"last_sync,omitempty"`
	CooldownUntil    *time.Time       `json:"cooldown_until,omitempty"`
	Account          *models.UserInfo `json:"account,omitempty"`
}

func runGoogleStatus(cmd *cobra.Command, args []string) error {
	return withGoogle(cmd, func(ctx context.Context, a *app, imp *importer.Importer) error {
		st := imp.Status()
		out := statusOutput{
			Connected:        st.Connected,
			SelectedLocation: st.SelectedLocation,
			DefaultLocation:  a.listing.DefaultLocation(),
			LastSync:         st.LastSync,
		}
		if !st.CooldownUntil.IsZero() {
			until := st.CooldownUntil
			out.CooldownUntil = &until
		}
		if googleFlags.Account && st.Connected {
			info, err := imp.Account(ctx)
			if err != nil {
				return userError(err)
			}
			out.Account = info
		}

		if globalFlags.JSON {
			return writeJSON(cmd.OutOrStdout(), out)
		}
		return printStatus(cmd.OutOrStdout(), out)
	})
}

func printStatus(w io.Writer, st statusOutput) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	connected := "no"
	if st.Connected {
		connected = "yes"
	}
	fmt.Fprintf(tw, "Connected:\t%s\n", connected)
	if st.Account != nil {
		fmt.Fprintf(tw, "Account:\t%s\n", orDash(st.Account.Email))
	}
	fmt.Fprintf(tw, "Selected location:\t%s\n", orDash(st.SelectedLocation))
	fmt.Fprintf(tw, "Default location:\t%s\n", orDash(st.DefaultLocation))
	if st.LastSync != nil {
		fmt.Fprintf(tw, "Last sync:\t%s (imported %d, skipped %d, errors %d)\n",
			formatTime(st.LastSync.CompletedAt), st.LastSync.Imported, st.LastSync.Skipped, st.LastSync.Errors)
	} else {
		fmt.Fprintf(tw, "Last sync:\t-\n")
	}
	if st.CooldownUntil != nil {
		fmt.Fprintf(tw, "Rate limited until:\t%s\n", formatTime(*st.CooldownUntil))
	}
	return tw.Flush()
}

func runGoogleLocations(cmd *cobra.Command, args []string) error {
	return withGoogle(cmd, func(ctx context.Context, a *app, imp *importer.Importer) error {
		out := cmd.OutOrStdout()
		if googleFlags.Select != "" {
			id := models.NormalizeLocationID(googleFlags.Select)
			if err := imp.SelectLocation(id); err != nil {
				return err
			}
			if globalFlags.JSON {
				return writeJSON(out, map[string]string{"selected_location": id})
			}
			fmt.Fprintf(out, "✓ Location %s selected\n", id)
			return nil
		}

		locations, err := imp.Locations(ctx)
		if err != nil {
			return userError(err)
		}
		if globalFlags.JSON {
			return writeJSON(out, locations)
		}
		if len(locations) == 0 {
			fmt.Fprintln(out, "No locations found for this account.")
			return nil
		}
		selected := imp.Status().SelectedLocation
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTITLE\tLOCALITY\tSELECTED")
		for _, loc := range locations {
			locality := ""
			if loc.Address != nil {
				locality = loc.Address.Locality
			}
			mark := ""
			if loc.ID() == selected {
				mark = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", loc.ID(), orDash(loc.Title), orDash(locality), mark)
		}
		return tw.Flush()
	})
}

// userError swaps a sync error for its operator-safe message, keeping the
// original in the chain.
func userError(err error) error {
	var um errors.UserMessager
	if stderrors.As(err, &um) {
		var rl *errors.RateLimitError
		if stderrors.As(err, &rl) && rl.RetryAfter > 0 {
			return fmt.Errorf("%s (retry in %s): %w", um.UserMessage(), rl.RetryAfter.Round(time.Second), err)
		}
		return fmt.Errorf("%s: %w", um.UserMessage(), err)
	}
	return err
}
