package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"

	"github.com/mpataki/collab/internal/models"
	"github.com/mpataki/collab/internal/state"
	"github.com/mpataki/collab/internal/storage"
)

type View int

const (
	ViewRunList View = iota
	ViewRunDetail
)

const listLimit = 50

// Ledger is the read side of the run ledger the monitor needs.
type Ledger interface {
	ListRuns(limit int) ([]*models.RunSummary, error)
	GetRun(runID string) (*models.RunSummary, error)
	InvocationsForRun(runID string) ([]*models.Invocation, error)
	DeleteRun(runID string) error
}

// StateLoader reads a run's state file for the detail view.
type StateLoader interface {
	Load(path string) (models.RunState, error)
}

type App struct {
	ledger  Ledger
	states  StateLoader
	watcher *fsnotify.Watcher

	view        View
	runs        []*models.RunSummary
	table       table.Model
	selectedRun *models.RunSummary
	runState    *models.RunState
	invocations []*models.Invocation

	width  int
	height int
	err    error
}

// NewApp builds the monitor. watcher may be nil, in which case the list is
// only refreshed on the periodic tick.
func NewApp(ledger Ledger, states StateLoader, watcher *fsnotify.Watcher) *App {
	t := table.New(
		table.WithColumns(runColumns(80)),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = selectedStyle
	t.SetStyles(styles)

	return &App{
		ledger:  ledger,
		states:  states,
		watcher: watcher,
		view:    ViewRunList,
		table:   t,
	}
}

func runColumns(width int) []table.Column {
	task := width - 12 - 10 - 28 - 8 - 10
	if task < 20 {
		task = 20
	}
	return []table.Column{
		{Title: "Run", Width: 12},
		{Title: "Phase", Width: 10},
		{Title: "Channel", Width: 28},
		{Title: "Age", Width: 8},
		{Title: "Task", Width: task},
	}
}

func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.loadRuns, a.tickCmd()}
	if a.watcher != nil {
		cmds = append(cmds, a.waitForChange())
	}
	return tea.Batch(cmds...)
}

type tickMsg time.Time

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.table.SetColumns(runColumns(msg.Width))
		if msg.Height > 8 {
			a.table.SetHeight(msg.Height - 6)
		}
		return a, nil

	case runsLoadedMsg:
		a.err = msg.err
		if msg.err == nil {
			a.runs = msg.runs
			a.table.SetRows(runRows(msg.runs))
		}
		return a, nil

	case tickMsg:
		if a.view == ViewRunList {
			return a, tea.Batch(a.loadRuns, a.tickCmd())
		}
		if a.selectedRun != nil {
			return a, tea.Batch(a.loadRunDetail(a.selectedRun.RunID), a.tickCmd())
		}
		return a, a.tickCmd()

	case stateChangedMsg:
		cmds := []tea.Cmd{a.waitForChange()}
		if a.view == ViewRunList {
			cmds = append(cmds, a.loadRuns)
		} else if a.selectedRun != nil && state.RunIDFromPath(msg.path) == a.selectedRun.RunID {
			cmds = append(cmds, a.loadRunDetail(a.selectedRun.RunID))
		}
		return a, tea.Batch(cmds...)

	case watchErrMsg:
		a.err = msg.err
		return a, a.waitForChange()

	case runDetailMsg:
		a.err = msg.err
		if msg.err == nil {
			a.selectedRun = msg.run
			a.runState = msg.state
			a.invocations = msg.invocations
			a.view = ViewRunDetail
		}
		return a, nil

	case runDeletedMsg:
		a.err = msg.err
		return a, a.loadRuns
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.view {
	case ViewRunList:
		return a.handleRunListKey(msg)
	case ViewRunDetail:
		return a.handleRunDetailKey(msg)
	}
	return a, nil
}

func (a *App) handleRunListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "enter":
		if run := a.selected(); run != nil {
			return a, a.loadRunDetail(run.RunID)
		}
		return a, nil

	case "r":
		return a, a.loadRuns

	case "d":
		if run := a.selected(); run != nil {
			return a, a.deleteRun(run.RunID)
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.table, cmd = a.table.Update(msg)
	return a, cmd
}

func (a *App) handleRunDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunList
		a.selectedRun = nil
		a.runState = nil
		a.invocations = nil
		return a, a.loadRuns

	case "ctrl+c":
		return a, tea.Quit
	}
	return a, nil
}

func (a *App) selected() *models.RunSummary {
	idx := a.table.Cursor()
	if idx < 0 || idx >= len(a.runs) {
		return nil
	}
	return a.runs[idx]
}

func (a *App) View() string {
	switch a.view {
	case ViewRunList:
		return a.viewRunList()
	case ViewRunDetail:
		return a.viewRunDetail()
	}
	return ""
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	errStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	outcomeOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	outcomeFailed = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	outcomeSlow   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
)

func (a *App) viewRunList() string {
	s := titleStyle.Render("collab") + "\n\n"

	if a.err != nil {
		s += errStyle.Render(fmt.Sprintf("Error: %v", a.err)) + "\n"
	}

	if len(a.runs) == 0 {
		s += "No runs yet. Start one with: collab start \"<task>\"\n"
	} else {
		s += a.table.View() + "\n"
	}

	s += "\n" + helpStyle.Render("[↑/↓] select  [enter] view  [d] forget  [r] refresh  [q] quit")
	return s
}

func (a *App) viewRunDetail() string {
	run := a.selectedRun
	if run == nil {
		return "No run selected"
	}

	s := titleStyle.Render("Run "+run.RunID) + "  " + PhaseLabel(run.Phase) + "\n\n"
	if a.err != nil {
		s += errStyle.Render(fmt.Sprintf("Error: %v", a.err)) + "\n\n"
	}

	s += run.Task + "\n\n"
	s += field("State", run.StatePath)
	if st := a.runState; st != nil {
		s += field("Channel", st.Channel.Name)
		s += field("Owner", st.OwnerHandle)
		s += field("Stakeholders", models.Handles(st.Stakeholders))
		s += field("Manifest", st.ManifestPath)
		s += field("PR", st.PRURL)
		if st.ReviewRevisions > 0 {
			s += field("Revisions", fmt.Sprintf("%d", st.ReviewRevisions))
		}
	}
	if run.CompletedAt != nil {
		s += field("Completed", run.CompletedAt.Local().Format(time.DateTime))
	}

	s += "\nWorker calls\n"
	s += "────────────\n"
	if len(a.invocations) == 0 {
		s += "(no worker calls yet)\n"
	}
	for i, inv := range a.invocations {
		line := fmt.Sprintf("%3d. %-20s %s  %8s  %s",
			i+1, inv.Label, formatOutcome(inv.Outcome),
			formatDuration(inv.Duration), dimStyle.Render(inv.StartedAt.Local().Format(time.TimeOnly)))
		if inv.Error != "" {
			line += "  " + dimStyle.Render(truncate(firstLine(inv.Error), 60))
		}
		s += line + "\n"
	}

	s += "\n" + helpStyle.Render("[esc] back  [ctrl+c] quit")
	return s
}

func field(label, value string) string {
	if value == "" {
		return ""
	}
	return labelStyle.Render(fmt.Sprintf("%-13s", label+":")) + value + "\n"
}

var phaseColors = map[models.Phase]lipgloss.Color{
	models.PhaseSetup:     lipgloss.Color("243"),
	models.PhaseDefine:    lipgloss.Color("39"),
	models.PhaseReview:    lipgloss.Color("220"),
	models.PhaseExecute:   lipgloss.Color("208"),
	models.PhaseIntegrate: lipgloss.Color("141"),
	models.PhaseQA:        lipgloss.Color("213"),
	models.PhaseDone:      lipgloss.Color("46"),
}

// PhaseLabel renders a phase in its color.
func PhaseLabel(p models.Phase) string {
	c, ok := phaseColors[p]
	if !ok {
		return string(p)
	}
	return lipgloss.NewStyle().Foreground(c).Render(string(p))
}

func formatOutcome(o models.InvocationOutcome) string {
	switch o {
	case models.InvocationOK:
		return outcomeOK.Render("✓")
	case models.InvocationTimeout:
		return outcomeSlow.Render("⏱")
	default:
		return outcomeFailed.Render("✗ " + string(o))
	}
}

func runRows(runs []*models.RunSummary) []table.Row {
	rows := make([]table.Row, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, table.Row{
			run.RunID,
			string(run.Phase),
			run.ChannelName,
			storage.FormatTimeAgo(run.UpdatedAt),
			truncate(firstLine(run.Task), 60),
		})
	}
	return rows
}

// Messages

type runsLoadedMsg struct {
	runs []*models.RunSummary
	err  error
}

type runDetailMsg struct {
	run         *models.RunSummary
	state       *models.RunState
	invocations []*models.Invocation
	err         error
}

type runDeletedMsg struct {
	runID string
	err   error
}

type stateChangedMsg struct {
	path string
}

type watchErrMsg struct {
	err error
}

// Commands

func (a *App) loadRuns() tea.Msg {
	runs, err := a.ledger.ListRuns(listLimit)
	return runsLoadedMsg{runs: runs, err: err}
}

func (a *App) loadRunDetail(runID string) tea.Cmd {
	return func() tea.Msg {
		run, err := a.ledger.GetRun(runID)
		if err != nil {
			return runDetailMsg{err: err}
		}

		invs, err := a.ledger.InvocationsForRun(runID)
		if err != nil {
			return runDetailMsg{err: err}
		}

		msg := runDetailMsg{run: run, invocations: invs}
		// The state file may have been moved or cleaned up; the ledger row
		// is still worth showing.
		if a.states != nil {
			if st, err := a.states.Load(run.StatePath); err == nil {
				msg.state = &st
			}
		}
		return msg
	}
}

func (a *App) deleteRun(runID string) tea.Cmd {
	return func() tea.Msg {
		return runDeletedMsg{runID: runID, err: a.ledger.DeleteRun(runID)}
	}
}

// waitForChange blocks until a state file in the watched directory is
// written, created or removed.
func (a *App) waitForChange() tea.Cmd {
	if a.watcher == nil {
		return nil
	}
	w := a.watcher
	return func() tea.Msg {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return nil
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if state.IsStateFile(ev.Name) {
					return stateChangedMsg{path: ev.Name}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return nil
				}
				return watchErrMsg{err: err}
			}
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
