package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	servercommon "github.com/hylla/nudge/internal/adapters/server/common"
	"github.com/hylla/nudge/internal/app"
	"github.com/hylla/nudge/internal/domain"
)

// textDataKeys are the result fields that carry generated copy.
var textDataKeys = []string{"motivation", "coaching", "message"}

var (
	okBadge   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")).Padding(0, 1)
	failBadge = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")).Padding(0, 1)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	keyStyle  = lipgloss.NewStyle().Bold(true)
)

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	encoded = append(encoded, '\n')
	_, err = w.Write(encoded)
	return err
}

// renderMarkdown renders coaching copy for the terminal, falling back to the raw text.
func renderMarkdown(markdown string, width int) string {
	if width < 24 {
		width = 24
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return markdown
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return strings.TrimRight(rendered, "\n")
}

// renderEventResponse prints one processed event for humans.
func renderEventResponse(w io.Writer, resp servercommon.EventResponse) {
	if resp.Success {
		_, _ = fmt.Fprintf(w, "%s %s  phase=%s v%d\n", okBadge.Render("OK"), resp.EventType, resp.Phase, resp.Version)
	} else {
		_, _ = fmt.Fprintf(w, "%s %s\n", failBadge.Render("FAILED"), resp.EventType)
		if resp.Error != nil {
			line := fmt.Sprintf("%s: %s", resp.Error.Code, resp.Error.Message)
			if resp.Error.Field != "" {
				line += " (field " + resp.Error.Field + ")"
			}
			if resp.Error.Retryable {
				line += " [retryable]"
			}
			_, _ = fmt.Fprintln(w, line)
		}
	}

	if selected, ok := resp.Data["selected"].(map[string]any); ok {
		_, _ = fmt.Fprintf(w, "%s %v (%v)\n", keyStyle.Render("next:"), selected["title"], selected["id"])
		if reason, ok := resp.Data["reason"].(string); ok && reason != "" {
			_, _ = fmt.Fprintln(w, dimStyle.Render(reason))
		}
	}
	if gained, ok := resp.Data["xp_gained"].(int); ok && gained > 0 {
		_, _ = fmt.Fprintf(w, "%s +%d\n", keyStyle.Render("xp:"), gained)
	}
	for _, key := range textDataKeys {
		text, ok := resp.Data[key].(string)
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		_, _ = fmt.Fprintln(w, renderMarkdown(text, 80))
	}
}

// renderUserView prints the persisted state summary.
func renderUserView(w io.Writer, view app.UserView) {
	st := view.State
	_, _ = fmt.Fprintf(w, "%s %s  phase=%s v%d\n", keyStyle.Render("user:"), st.UserID, st.Phase, st.Version)
	if st.EnergyLevel != nil {
		mood := ""
		if st.Mood != nil {
			mood = *st.Mood
		}
		_, _ = fmt.Fprintf(w, "%s energy=%d mood=%s\n", keyStyle.Render("check-in:"), *st.EnergyLevel, mood)
	}
	if st.ActiveTask != nil {
		_, _ = fmt.Fprintf(w, "%s %s since %s\n", keyStyle.Render("active:"), st.ActiveTask.TaskID, st.ActiveTask.StartedAt.Format("15:04"))
	} else if st.SelectedTaskID != "" {
		_, _ = fmt.Fprintf(w, "%s %s\n", keyStyle.Render("selected:"), st.SelectedTaskID)
	}
	_, _ = fmt.Fprintf(w, "%s %d today\n", keyStyle.Render("completed:"), len(st.CompletedToday))
	renderGamification(w, view.Gamification)
}

// renderGamification prints the XP summary line.
func renderGamification(w io.Writer, g domain.GamificationState) {
	_, _ = fmt.Fprintf(w, "%s %d xp  level %d  streak %d (best %d)\n", keyStyle.Render("progress:"), g.TotalXP, g.Level, g.CurrentStreak, g.LongestStreak)
}

// renderLedger prints the ledger entries oldest first.
func renderLedger(w io.Writer, report app.LedgerReport) {
	for _, entry := range report.Entries {
		task := ""
		if entry.SourceTaskID != "" {
			task = " " + entry.SourceTaskID
		}
		_, _ = fmt.Fprintf(w, "%s %+4d  %-15s%s  total=%d\n", entry.Timestamp.Format("2006-01-02 15:04"), entry.XPGained, entry.Action, task, entry.TotalXPAfter)
	}
	renderGamification(w, report.Gamification)
	if report.Verified {
		_, _ = fmt.Fprintln(w, okBadge.Render("ledger verified"))
		return
	}
	_, _ = fmt.Fprintf(w, "%s %s\n", failBadge.Render("ledger mismatch"), report.Problem)
}

// renderHistory prints the event log newest first.
func renderHistory(w io.Writer, history servercommon.HistoryResponse) {
	if len(history.Entries) == 0 {
		_, _ = fmt.Fprintln(w, dimStyle.Render("no events recorded"))
		return
	}
	for _, entry := range history.Entries {
		detail := string(entry.Event.Action)
		if entry.Event.TaskID != "" {
			detail = strings.TrimSpace(detail + " " + entry.Event.TaskID)
		}
		_, _ = fmt.Fprintf(w, "%s %-18s %-16s phase=%s v%d\n", entry.Event.Timestamp.Format("2006-01-02 15:04:05"), entry.Event.Kind, detail, entry.Phase, entry.Version)
	}
}
