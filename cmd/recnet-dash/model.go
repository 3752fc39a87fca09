package main

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"recnet/pkg/eventlog"
	"recnet/pkg/validator"
)

// tickMsg is sent by Bubble Tea on every tick interval. Used to trigger
// periodic refresh from the gateway and the audit log.
type tickMsg time.Time

// statusMsg carries a fetched loop snapshot. nil means the gateway is
// offline.
type statusMsg *validator.Status

// eventsMsg carries fetched audit rows. nil means the audit database is not
// readable (yet).
type eventsMsg []eventlog.Event

// tickCmd returns a command that sends a tickMsg after 2 seconds.
func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchStatusCmd returns a tea.Cmd that fetches the gateway status snapshot.
func fetchStatusCmd(addr string) tea.Cmd {
	return func() tea.Msg {
		st, _ := fetchStatus(context.Background(), addr)
		return statusMsg(st)
	}
}

// fetchEventsCmd returns a tea.Cmd that fetches recent audit rows.
func fetchEventsCmd(dbPath string) tea.Cmd {
	return func() tea.Msg {
		events, _ := fetchEvents(context.Background(), dbPath)
		return eventsMsg(events)
	}
}

// Model is the Bubble Tea model for the recnet dashboard.
type Model struct {
	gatewayAddr string
	dbPath      string

	online bool
	status *validator.Status
	events []eventlog.Event

	width  int
	height int

	theme  Theme
	styles Styles
}

// newModel creates a Model wired to the configured gateway and audit log.
func newModel() Model {
	cfg := dashConfig()
	theme := DefaultTheme()
	return Model{
		gatewayAddr: cfg.Gateway.Addr,
		dbPath:      cfg.Validator.DBPath,
		theme:       theme,
		styles:      NewStyles(theme),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(fetchStatusCmd(m.gatewayAddr), fetchEventsCmd(m.dbPath), tickCmd())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case statusMsg:
		m.online = msg != nil
		if msg != nil {
			m.status = (*validator.Status)(msg)
		}

	case eventsMsg:
		if msg != nil {
			m.events = []eventlog.Event(msg)
		}

	case tickMsg:
		return m, tea.Batch(fetchStatusCmd(m.gatewayAddr), fetchEventsCmd(m.dbPath), tickCmd())
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	header := renderHeader(m.online, m.status, m.styles)
	scores := renderScoresTable(m.status, m.styles)
	events := renderEventsPanel(m.events, m.styles)
	footer := m.styles.Muted.Render("q: quit")

	return header + "\n\n" + scores + "\n" + events + "\n" + footer + "\n"
}
