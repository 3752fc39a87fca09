package main

import (
	"fmt"
	"strings"
	"time"

	"recnet/pkg/validator"
)

// scoreBarWidth is the character width of the score bar column.
const scoreBarWidth = 20

// renderHeader renders the title line with loop state and cadence info.
func renderHeader(online bool, st *validator.Status, styles Styles) string {
	title := styles.Title.Render("recnet validator")
	if !online || st == nil {
		return title + "  " + styles.Bad.Render("● gateway offline")
	}

	state := styles.Good.Render(fmt.Sprintf("● %s", st.State))
	if st.State != validator.StateRunning {
		state = styles.Warn.Render(fmt.Sprintf("● %s", st.State))
	}

	parts := []string{title, state, fmt.Sprintf("step %d", st.Step)}
	if !st.LastEmission.IsZero() {
		parts = append(parts, "emitted "+humanizeSince(st.LastEmission))
	}
	return strings.Join(parts, "  ")
}

// renderScoresTable renders the membership table with reputation score bars.
func renderScoresTable(st *validator.Status, styles Styles) string {
	if st == nil || len(st.Members) == 0 {
		return styles.Muted.Render("no membership data") + "\n"
	}

	var sb strings.Builder
	sb.WriteString(styles.Header.Render(fmt.Sprintf("%4s  %-24s %-10s %-8s %s", "UID", "KEY", "STAKE", "SCORE", "")))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("─", 4+2+24+1+10+1+8+1+scoreBarWidth))
	sb.WriteString("\n")

	for _, m := range st.Members {
		role := ""
		if m.ValidatorPermit {
			role = " (validator)"
		}
		sb.WriteString(fmt.Sprintf("%4d  %-24s %-10.1f %-8.4f %s\n",
			m.UID,
			truncate(m.Key+role, 24),
			m.Stake,
			m.Score,
			styles.ScoreBar.Render(scoreBar(m.Score)),
		))
	}
	return sb.String()
}

// scoreBar renders a score in [0,1] as a fixed-width bar.
func scoreBar(score float64) string {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	filled := int(score*scoreBarWidth + 0.5)
	return strings.Repeat("█", filled) + strings.Repeat("░", scoreBarWidth-filled)
}

// truncate shortens s to max runes with an ellipsis.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}

// humanizeSince renders how long ago t was, coarsely.
func humanizeSince(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}
