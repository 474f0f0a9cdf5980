package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			MarginLeft(2).
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	statusMessageStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{
			Light: "#04B575",
			Dark:  "#04B575",
		})

	errorMessageStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{
			Light: "#FF0000",
			Dark:  "#FF0000",
		})
)

// ViewType represents the current view being displayed
type ViewType int

const (
	ClusterView ViewType = iota
	MatrixView
)

// KeyMap defines the keybindings for the application
type KeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Enter   key.Binding
	Back    key.Binding
	Quit    key.Binding
	Refresh key.Binding
	Help    key.Binding
}

var keys = KeyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "move up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "move down"),
	),
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "status matrix"),
	),
	Back: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "back"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
}

// ShortHelp returns keybindings to be shown in the mini help view.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.Up, k.Down, k.Enter, k.Refresh, k.Quit}
}

// FullHelp returns keybindings for the expanded help view.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Enter, k.Back},
		{k.Refresh, k.Help, k.Quit},
	}
}

type clusterRow struct {
	Alias    string `json:"alias"`
	AuthMode string `json:"authMode"`
}

type snapshot struct {
	ServiceAlias    string   `json:"serviceAlias"`
	ClusterAlias    string   `json:"clusterAlias"`
	Namespace       string   `json:"namespace"`
	ReadyReplicas   int32    `json:"readyReplicas"`
	DesiredReplicas int32    `json:"desiredReplicas"`
	ImageTags       []string `json:"imageTags"`
	Failure         string   `json:"failure"`
}

type matrixPayload struct {
	Services    map[string]snapshot `json:"services"`
	LastUpdated time.Time           `json:"lastUpdated"`
}

type clustersLoadedMsg []clusterRow
type matrixLoadedMsg matrixPayload
type errMsg struct{ err error }

type Model struct {
	api          string
	view         ViewType
	clusterTable table.Model
	matrixTable  table.Model
	help         help.Model
	lastUpdated  time.Time
	status       string
	err          error
}

func initialModel(api string) Model {
	clusterTable := table.New(
		table.WithColumns([]table.Column{
			{Title: "Cluster", Width: 30},
			{Title: "Auth", Width: 12},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	matrixTable := table.New(
		table.WithColumns([]table.Column{
			{Title: "Service", Width: 24},
			{Title: "Cluster", Width: 18},
			{Title: "Namespace", Width: 16},
			{Title: "Ready", Width: 8},
			{Title: "Image", Width: 20},
			{Title: "State", Width: 20},
		}),
		table.WithFocused(true),
		table.WithHeight(16),
	)

	return Model{
		api:          api,
		view:         ClusterView,
		clusterTable: clusterTable,
		matrixTable:  matrixTable,
		help:         help.New(),
	}
}

func (m Model) Init() tea.Cmd {
	return loadClusters(m.api)
}

func fetchJSON(url string, out interface{}) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", url, resp.Status)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func loadClusters(api string) tea.Cmd {
	return func() tea.Msg {
		var clusters []clusterRow
		if err := fetchJSON(api+"/api/v1/clusters", &clusters); err != nil {
			return errMsg{err}
		}
		return clustersLoadedMsg(clusters)
	}
}

func loadMatrix(api string, refresh bool) tea.Cmd {
	return func() tea.Msg {
		url := api + "/api/v1/status"
		if refresh {
			url += "?refresh=true"
		}

		var payload matrixPayload
		if err := fetchJSON(url, &payload); err != nil {
			return errMsg{err}
		}
		return matrixLoadedMsg(payload)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		case key.Matches(msg, keys.Refresh):
			m.status = "refreshing..."
			if m.view == MatrixView {
				return m, loadMatrix(m.api, true)
			}
			return m, loadClusters(m.api)
		case key.Matches(msg, keys.Enter):
			if m.view == ClusterView {
				m.view = MatrixView
				m.status = "loading status matrix..."
				return m, loadMatrix(m.api, false)
			}
		case key.Matches(msg, keys.Back):
			if m.view == MatrixView {
				m.view = ClusterView
				return m, nil
			}
		}

	case clustersLoadedMsg:
		rows := make([]table.Row, 0, len(msg))
		for _, c := range msg {
			rows = append(rows, table.Row{c.Alias, c.AuthMode})
		}
		m.clusterTable.SetRows(rows)
		m.status = fmt.Sprintf("%d clusters", len(msg))
		m.err = nil

	case matrixLoadedMsg:
		aliases := make([]string, 0, len(msg.Services))
		for alias := range msg.Services {
			aliases = append(aliases, alias)
		}
		sort.Strings(aliases)

		rows := make([]table.Row, 0, len(aliases))
		for _, alias := range aliases {
			snap := msg.Services[alias]
			state := "Ready"
			if snap.Failure != "" {
				state = snap.Failure
			}
			rows = append(rows, table.Row{
				alias,
				snap.ClusterAlias,
				snap.Namespace,
				fmt.Sprintf("%d/%d", snap.ReadyReplicas, snap.DesiredReplicas),
				strings.Join(snap.ImageTags, ","),
				state,
			})
		}
		m.matrixTable.SetRows(rows)
		m.lastUpdated = msg.LastUpdated
		m.status = fmt.Sprintf("%d services", len(rows))
		m.err = nil

	case errMsg:
		m.err = msg.err
	}

	var cmd tea.Cmd
	if m.view == ClusterView {
		m.clusterTable, cmd = m.clusterTable.Update(msg)
	} else {
		m.matrixTable, cmd = m.matrixTable.Update(msg)
	}

	return m, cmd
}

func (m Model) View() string {
	var b strings.Builder

	switch m.view {
	case ClusterView:
		b.WriteString(titleStyle.Render("Fleetview / Clusters"))
		b.WriteString("\n\n")
		b.WriteString(m.clusterTable.View())
	case MatrixView:
		title := "Fleetview / Status Matrix"
		if !m.lastUpdated.IsZero() {
			title += " (updated " + m.lastUpdated.Format("15:04:05") + ")"
		}
		b.WriteString(titleStyle.Render(title))
		b.WriteString("\n\n")
		b.WriteString(m.matrixTable.View())
	}

	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorMessageStyle.Render("error: " + m.err.Error()))
	} else if m.status != "" {
		b.WriteString(statusMessageStyle.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(m.help.View(keys))

	return b.String()
}

func main() {
	api := os.Getenv("FLEETVIEW_API")
	if api == "" {
		api = "http://127.0.0.1:8081"
	}

	p := tea.NewProgram(initialModel(api), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error running program: %v\n", err)
		os.Exit(1)
	}
}
