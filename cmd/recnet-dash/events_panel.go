package main

import (
	"fmt"
	"strings"

	"recnet/pkg/eventlog"
)

// renderEventsPanel renders the recent audit rows, newest first.
func renderEventsPanel(events []eventlog.Event, styles Styles) string {
	var sb strings.Builder
	sb.WriteString(styles.Header.Render("Recent events"))
	sb.WriteString("\n")

	if len(events) == 0 {
		sb.WriteString(styles.Muted.Render("no events yet"))
		sb.WriteString("\n")
		return sb.String()
	}

	for _, e := range events {
		sb.WriteString(renderEventRow(e, styles))
		sb.WriteString("\n")
	}
	return sb.String()
}

// renderEventRow renders one audit row with a severity-colored type tag.
func renderEventRow(e eventlog.Event, styles Styles) string {
	tag := styles.Muted
	switch e.Type {
	case "emission_submitted", "request_completed":
		tag = styles.Good
	case "emission_failed", "iteration_error":
		tag = styles.Bad
	case "emission_skipped", "arbitration_miss":
		tag = styles.Warn
	}

	detail := e.Payload
	if e.RequestID != "" {
		detail = fmt.Sprintf("%s  %s", truncate(e.RequestID, 12), e.Payload)
	}
	return fmt.Sprintf("%s  %s %s",
		styles.Muted.Render(e.CreatedAt.Format("15:04:05")),
		tag.Render(fmt.Sprintf("%-20s", e.Type)),
		detail,
	)
}
