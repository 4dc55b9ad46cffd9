package cmd

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/grovetools/tabsd/cli"
	"github.com/grovetools/tabsd/internal/daemon/store"
	"github.com/grovetools/tabsd/pkg/daemon"
	"github.com/grovetools/tabsd/pkg/models"
	"github.com/spf13/cobra"
)

const maxTopEvents = 200

type topKeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Refresh key.Binding
	Clear   key.Binding
	Help    key.Binding
	Quit    key.Binding
}

var topKeys = topKeyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Clear: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "clear events"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "toggle help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

func (k topKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.Quit, k.Refresh}
}

func (k topKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down},
		{k.Refresh, k.Clear, k.Help, k.Quit},
	}
}

// Messages
type topUpdateMsg daemon.StateUpdate

type topStateMsg struct{ state *store.State }

type topErrMsg struct{ err error }

type topClosedMsg struct{}

// topModel shows the sessions, the speculation slot and warmup of a running
// daemon, refreshed whenever the daemon pushes an update.
type topModel struct {
	ctx      context.Context
	client   daemon.Client
	updates  <-chan daemon.StateUpdate
	state    *store.State
	sessions table.Model
	events   viewport.Model
	lines    []string
	spinner  spinner.Model
	help     help.Model
	keys     topKeyMap
	loading  bool
	closed   bool
	err      error
	width    int
	height   int
}

func newTopModel(ctx context.Context, client daemon.Client, updates <-chan daemon.StateUpdate) *topModel {
	t := cli.DefaultTheme

	tbl := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 20},
			{Title: "OWNER", Width: 8},
			{Title: "PACKAGE", Width: 24},
			{Title: "KEEP-ALIVE", Width: 10},
			{Title: "PREDICTED", Width: 40},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(t.Colors.Muted).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.Foreground(t.Colors.Cyan).Bold(true)
	tbl.SetStyles(styles)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(t.Colors.Cyan)

	return &topModel{
		ctx:      ctx,
		client:   client,
		updates:  updates,
		sessions: tbl,
		events:   viewport.New(80, 8),
		spinner:  s,
		help:     help.New(),
		keys:     topKeys,
		loading:  true,
	}
}

func (m *topModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.waitForUpdate(),
		m.fetchState(),
	)
}

func (m *topModel) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		u, ok := <-m.updates
		if !ok {
			return topClosedMsg{}
		}
		return topUpdateMsg(u)
	}
}

func (m *topModel) fetchState() tea.Cmd {
	return func() tea.Msg {
		st, err := m.client.GetState(m.ctx)
		if err != nil {
			return topErrMsg{err}
		}
		return topStateMsg{st}
	}
}

func (m *topModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		case key.Matches(msg, m.keys.Refresh):
			return m, m.fetchState()
		case key.Matches(msg, m.keys.Clear):
			m.lines = nil
			m.events.SetContent("")
			return m, nil
		}
		var cmd tea.Cmd
		m.sessions, cmd = m.sessions.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil

	case topUpdateMsg:
		if msg.Event != nil {
			m.appendEvent(msg.Event)
			return m, m.waitForUpdate()
		}
		// Non-event updates carry untyped payloads once decoded from JSON,
		// so the whole state is fetched again.
		return m, tea.Batch(m.waitForUpdate(), m.fetchState())

	case topStateMsg:
		m.loading = false
		m.err = nil
		m.state = msg.state
		m.sessions.SetRows(sessionRows(msg.state))
		return m, nil

	case topErrMsg:
		m.loading = false
		m.err = msg.err
		return m, nil

	case topClosedMsg:
		m.closed = true
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *topModel) appendEvent(ev *models.Event) {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	line := cli.DefaultTheme.Muted.Render(ts.Format("15:04:05")) + " " + formatEvent(ev)
	m.lines = append(m.lines, line)
	if len(m.lines) > maxTopEvents {
		m.lines = m.lines[len(m.lines)-maxTopEvents:]
	}
	m.events.SetContent(strings.Join(m.lines, "\n"))
	m.events.GotoBottom()
}

// resize splits the height between the sessions table and the event log.
func (m *topModel) resize() {
	// Header, status lines, section titles and help.
	avail := m.height - 9
	if avail < 4 {
		avail = 4
	}
	tableHeight := avail / 2
	m.sessions.SetHeight(tableHeight)
	m.sessions.SetWidth(m.width)
	m.events.Width = m.width
	m.events.Height = avail - tableHeight
	m.help.Width = m.width
}

func (m *topModel) View() string {
	t := cli.DefaultTheme
	var b strings.Builder

	title := t.Bold.Render("tabsd top")
	if m.loading {
		title += " " + m.spinner.View()
	}
	if m.closed {
		title += " " + lipgloss.NewStyle().Foreground(t.Colors.Red).Render("connection to daemon closed")
	}
	b.WriteString(title + "\n")
	if m.err != nil {
		b.WriteString(lipgloss.NewStyle().Foreground(t.Colors.Red).Render("Error: "+m.err.Error()) + "\n")
	}

	b.WriteString(speculationLine(m.state) + "\n")
	b.WriteString(warmupLine(m.state) + "\n\n")

	b.WriteString(t.Bold.Render("Sessions") + "\n")
	b.WriteString(m.sessions.View() + "\n\n")

	b.WriteString(t.Bold.Render("Events") + "\n")
	if len(m.lines) == 0 {
		b.WriteString(t.Muted.Render("waiting for events") + "\n")
	} else {
		b.WriteString(m.events.View() + "\n")
	}

	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func speculationLine(st *store.State) string {
	t := cli.DefaultTheme
	label := t.Muted.Render("Speculation: ")
	if st == nil || st.Speculation.State == models.SpeculationIdle || st.Speculation.State == "" {
		return label + "idle"
	}
	spec := st.Speculation
	line := fmt.Sprintf("%s %s for %s (%s", spec.State, spec.URL, spec.SessionID, spec.Engine)
	if spec.HiddenTab {
		line += ", hidden tab"
	}
	if !spec.StartedAt.IsZero() {
		line += ", " + time.Since(spec.StartedAt).Round(time.Millisecond).String()
	}
	return label + lipgloss.NewStyle().Foreground(t.Colors.Green).Render(line+")")
}

func warmupLine(st *store.State) string {
	label := cli.DefaultTheme.Muted.Render("Warmup:      ")
	if st == nil {
		return label + "unknown"
	}
	w := st.Warmup
	return label + fmt.Sprintf("called=%t finished=%t calls=%d", w.Called, w.Finished, w.Calls)
}

// sessionRows returns one row per session ordered by id.
func sessionRows(st *store.State) []table.Row {
	if st == nil {
		return nil
	}
	ids := make([]string, 0, len(st.Sessions))
	for id := range st.Sessions {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	rows := make([]table.Row, 0, len(ids))
	for _, id := range ids {
		s := st.Sessions[models.SessionID(id)]
		rows = append(rows, table.Row{
			id,
			strconv.FormatUint(uint64(s.Owner), 10),
			s.PackageName,
			strconv.FormatBool(s.KeepAlive),
			s.Prediction.LastPredictedURL,
		})
	}
	return rows
}

// NewTopCmd returns the top command.
func NewTopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "top",
		Short: "Live view of sessions, the speculation slot and warmup",
		Long: `Open a terminal UI that follows the daemon over a websocket. The sessions
table and status lines refresh on every state change; events scroll below.`,
		Args: cobra.NoArgs,
		RunE: withClient(func(cmd *cobra.Command, args []string, client daemon.Client) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			updates, err := client.Watch(ctx)
			if err != nil {
				return err
			}
			p := tea.NewProgram(newTopModel(ctx, client, updates), tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("error running TUI: %w", err)
			}
			return nil
		}),
	}
}
