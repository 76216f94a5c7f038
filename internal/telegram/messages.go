package telegram

import (
	stderrors "errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/luthierworks/luthier/internal/errors"
	"github.com/luthierworks/luthier/internal/models"
)

func formatSyncResult(run *models.SyncRun, err error) string {
	if err != nil {
		return fmt.Sprintf("⚠️ <b>Review sync failed</b>\n\n%s", html.EscapeString(userMessage(err)))
	}
	if run == nil {
		return "⚠️ <b>Review sync finished without a result</b>"
	}

	var sb strings.Builder
	sb.WriteString("✅ <b>Review sync finished</b>\n\n")
	if run.LocationID != "" {
		fmt.Fprintf(&sb, "📍 <b>Location:</b> %s\n", html.EscapeString(run.LocationID))
	}
	fmt.Fprintf(&sb, "📥 <b>Imported:</b> %d\n", run.Imported)
	fmt.Fprintf(&sb, "⏭ <b>Skipped:</b> %d\n", run.Skipped)
	if run.Errors > 0 {
		fmt.Fprintf(&sb, "❗ <b>Errors:</b> %d\n", run.Errors)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatStatus(status *StatusView) string {
	var sb strings.Builder
	if status.Connected {
		sb.WriteString("🟢 <b>Google connected</b>")
		if status.Account != "" {
			fmt.Fprintf(&sb, " as %s", html.EscapeString(maskEmail(status.Account)))
		}
	} else {
		sb.WriteString("🔴 <b>Google not connected</b>")
	}
	sb.WriteString("\n\n")

	if status.SelectedLocation != "" {
		fmt.Fprintf(&sb, "📍 <b>Location:</b> %s\n", html.EscapeString(status.SelectedLocation))
	}
	if status.Running {
		sb.WriteString("🔄 Sync in progress\n")
	}
	if !status.CooldownUntil.IsZero() {
		fmt.Fprintf(&sb, "⏳ <b>Rate limited for</b> %s\n", formatDuration(time.Until(status.CooldownUntil)))
	}
	if run := status.LastSync; run != nil {
		fmt.Fprintf(&sb, "🕒 <b>Last sync:</b> %s (%d imported, %d skipped, %d errors)\n",
			formatTimeAgo(run.CompletedAt), run.Imported, run.Skipped, run.Errors)
	} else {
		sb.WriteString("🕒 <b>Last sync:</b> never\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatConnect(url string) string {
	if url == "" {
		return formatError("Google connection is not configured.")
	}
	return fmt.Sprintf("🔗 <a href=\"%s\">Connect your Google Business account</a>", html.EscapeString(url))
}

func formatError(text string) string {
	return fmt.Sprintf("❌ <b>Error</b>\n\n%s", html.EscapeString(text))
}

// userMessage keeps provider payloads and internals out of the chat.
func userMessage(err error) string {
	var um errors.UserMessager
	if stderrors.As(err, &um) {
		return um.UserMessage()
	}
	return "Unexpected error. See server logs."
}

func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return email
	}
	local := email[:at]
	if len(local) <= 2 {
		return local[:1] + "***" + email[at:]
	}
	return local[:2] + "***" + email[at:]
}

func formatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func formatHelpMessage() string {
	return `📖 <b>Available Commands</b>

/status - Google connection and last sync
/status account - Same, plus the connected Google account
/sync - Import new Google reviews now
/connect - Link to connect a Google account
/help - Show this help message`
}
