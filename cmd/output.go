package cmd

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"ankiforge/internal/agent"
	"ankiforge/internal/card"
	"ankiforge/internal/config"
	"ankiforge/internal/media"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("78"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

func printError(err error) {
	msg := err.Error()
	if errors.Is(err, config.ErrMissingCredential) {
		msg = "configuration: " + msg
	}
	fmt.Fprintln(os.Stderr, errorStyle.Render("✗ "+msg))
}

// renderMarkdown renders md for the terminal, falling back to plain text.
func renderMarkdown(md string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

// cardsMarkdown lays records out as a markdown table in field order.
func cardsMarkdown(fields card.FieldTypeMap, recs []card.Record) string {
	var sb strings.Builder
	sb.WriteString("| # |")
	for _, f := range fields {
		fmt.Fprintf(&sb, " %s (%s) |", f.Name, strings.ToLower(f.Type.String()))
	}
	sb.WriteString("\n|---|")
	for range fields {
		sb.WriteString("---|")
	}
	sb.WriteString("\n")
	for i, r := range recs {
		fmt.Fprintf(&sb, "| %d |", i+1)
		for _, f := range fields {
			fmt.Fprintf(&sb, " %s |", tableCell(r.Fields[f.Name]))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func tableCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) > 60 {
		s = string([]rune(s)[:57]) + "..."
	}
	return s
}

// outcomeSummary counts enrichment outcomes so soft failures are visible and
// distinguishable from fields that needed nothing.
func outcomeSummary(all [][]agent.FieldOutcome) string {
	counts := map[media.Outcome]int{}
	for _, rec := range all {
		for _, o := range rec {
			if o.Outcome != media.Unchanged {
				counts[o.Outcome]++
			}
		}
	}
	if len(counts) == 0 {
		return dimStyle.Render("No media fields to resolve.")
	}
	keys := make([]media.Outcome, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		text := fmt.Sprintf("%d %s", counts[k], k)
		switch {
		case k == media.Resolved:
			parts = append(parts, successStyle.Render(text))
		case k.Failed():
			parts = append(parts, warnStyle.Render(text))
		default:
			parts = append(parts, dimStyle.Render(text))
		}
	}
	return "Media: " + strings.Join(parts, ", ")
}

func printPushReport(r agent.PushReport) {
	fmt.Println(successStyle.Render(fmt.Sprintf("✓ Added %d note(s)", r.Added)))
	if r.Duplicates > 0 {
		fmt.Println(dimStyle.Render(fmt.Sprintf("  %d duplicate(s) skipped", r.Duplicates)))
	}
	if r.Excluded > 0 {
		fmt.Println(dimStyle.Render(fmt.Sprintf("  %d excluded by review", r.Excluded)))
	}
	for _, f := range r.Failed {
		fmt.Println(warnStyle.Render(fmt.Sprintf("  card %d failed: %v", f.Index+1, f.Err)))
	}
}
