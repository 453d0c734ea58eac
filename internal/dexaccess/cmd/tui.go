package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/log"

	"dexaccess/internal/dexaccess/styles"
	"dexaccess/internal/engine"
	"dexaccess/internal/policy"
)

type viewMode int

const (
	viewSummary viewMode = iota
	viewClasses
	viewMembers
)

type classItem struct {
	entry ClassEntry
}

func (i classItem) Title() string       { return i.entry.Name }
func (i classItem) Description() string { return "" }
func (i classItem) FilterValue() string { return i.entry.Name }

type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(classItem)
	if !ok {
		return
	}

	indicator, nameStyle := " ", styles.Muted
	if index == m.Index() {
		indicator, nameStyle = ">", styles.Selected
	}
	if i.entry.Filtered {
		nameStyle = styles.Filtered
	}

	changed := ""
	if i.entry.Changed > 0 {
		changed = styles.Muted.Render(fmt.Sprintf("  +%d", i.entry.Changed))
	}
	fmt.Fprintf(w, " %s  %s  %s%s",
		indicator,
		nameStyle.Render(i.entry.Name),
		flagChange(i.entry.Before, i.entry.After),
		changed)
}

// flagChange renders before → after, or the flags once when unchanged.
func flagChange(before, after Flags) string {
	if before.Raw == after.Raw {
		return styles.Same.Render(before.Names)
	}
	return styles.Removed.Render(before.Names) + " → " + styles.Added.Render(after.Names)
}

type model struct {
	summary  viewport.Model
	classes  list.Model
	members  viewport.Model
	spinner  spinner.Model
	mode     viewMode
	path     string
	policy   policy.Policy
	report   *Report
	selected *ClassEntry
	err      error
	loading  bool
	width    int
	height   int
}

type reportMsg struct {
	report *Report
	err    error
}

// loadReportCmd builds the report off the UI goroutine. Engine logging is
// discarded so it cannot scribble over the alt screen.
func loadReportCmd(path string, p policy.Policy) tea.Cmd {
	return func() tea.Msg {
		r, err := buildReport(path, p, true, engine.WithLogger(log.New(io.Discard)))
		return reportMsg{report: r, err: err}
	}
}

func newModel(path string, p policy.Policy) model {
	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(24)

	mvp := viewport.New()
	mvp.SetWidth(80)
	mvp.SetHeight(24)

	classes := list.New([]list.Item{}, itemDelegate{}, 80, 24)
	classes.SetShowStatusBar(false)
	classes.SetFilteringEnabled(true)
	classes.Title = "Classes"
	classes.Styles.Title = styles.Title
	classes.SetShowHelp(true)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Spinner

	m := model{
		summary: vp,
		classes: classes,
		members: mvp,
		spinner: s,
		mode:    viewSummary,
		path:    path,
		policy:  p,
		loading: true,
		width:   80,
		height:  24,
	}
	m.updateSummary()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		loadReportCmd(m.path, m.policy),
		m.spinner.Tick,
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case reportMsg:
		m.loading = false
		m.report, m.err = msg.report, msg.err
		if m.report != nil {
			items := make([]list.Item, 0, len(m.report.Classes))
			for _, c := range m.report.Classes {
				items = append(items, classItem{entry: c})
			}
			m.classes.SetItems(items)
			m.classes.Title = fmt.Sprintf("Classes (%d total, %d filtered)", m.report.Stats.Classes, m.report.Stats.Filtered)
		}
		m.updateSummary()
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		m.updateSummary()
		return m, cmd

	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			m.summary.SetWidth(msg.Width)
			m.summary.SetHeight(msg.Height - 2)
			m.classes.SetWidth(msg.Width)
			m.classes.SetHeight(msg.Height - 2)
			m.members.SetWidth(msg.Width)
			m.members.SetHeight(msg.Height - 2)
			m.updateSummary()
			m.updateMembers()
		}

	case tea.KeyMsg:
		// While the class list is filtering it owns every key but quit.
		if m.mode == viewClasses && m.classes.FilterState() == list.Filtering {
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "s":
			m.mode = viewSummary
			return m, nil
		case "c":
			if m.report != nil {
				m.mode = viewClasses
			}
			return m, nil
		case "esc":
			if m.mode == viewMembers {
				m.mode = viewClasses
				return m, nil
			}
		case "enter":
			if m.mode == viewClasses {
				if item, ok := m.classes.SelectedItem().(classItem); ok {
					entry := item.entry
					m.selected = &entry
					m.updateMembers()
					m.members.GotoTop()
					m.mode = viewMembers
				}
			}
			return m, nil
		case "tab":
			m.mode = m.nextMode(1)
			return m, nil
		case "shift+tab":
			m.mode = m.nextMode(-1)
			return m, nil
		}
	}

	switch m.mode {
	case viewClasses:
		m.classes, cmd = m.classes.Update(msg)
	case viewMembers:
		m.members, cmd = m.members.Update(msg)
	default:
		m.summary, cmd = m.summary.Update(msg)
	}
	return m, cmd
}

// nextMode cycles through the views that currently have content.
func (m model) nextMode(step int) viewMode {
	if m.report == nil {
		return viewSummary
	}
	n := 2
	if m.selected != nil {
		n = 3
	}
	return viewMode((int(m.mode) + step + n) % n)
}

func (m model) View() string {
	var content, menu string
	switch m.mode {
	case viewClasses:
		content = m.classes.View()
		menu = " Enter: members • /: filter • S: summary • Tab: cycle • Q: quit "
	case viewMembers:
		content = m.members.View()
		menu = " Esc: classes • S: summary • Tab: cycle • Q: quit "
	default:
		content = m.summary.View()
		if m.report != nil {
			menu = " C: classes • Tab: cycle • Q: quit "
		} else {
			menu = " Q: quit "
		}
	}
	return content + "\n" + styles.MenuBar.Width(m.width).Render(menu)
}

func (m *model) renderWidth() int {
	if m.width <= 2 {
		return 78
	}
	return m.width - 2
}

func (m *model) updateSummary() {
	var md string
	switch {
	case m.err != nil:
		md = fmt.Sprintf("# dexaccess\n\n```\n; %s\n```\n\n**error:** %v\n", m.path, m.err)
	case m.report == nil:
		md = fmt.Sprintf("# dexaccess\n\n```\n; %s\n```\n\n%s Parsing...", m.path, m.spinner.View())
	default:
		md = m.report.summaryMarkdown()
	}
	rendered := styles.RenderMarkdown(md, m.renderWidth(), true)
	m.summary.SetContent(strings.TrimSuffix(rendered, "\n"))
}

func (m *model) updateMembers() {
	if m.selected == nil {
		return
	}
	md := m.selected.markdown()
	if len(m.selected.Members) == 0 {
		md += "No fields or methods.\n"
	}
	rendered := styles.RenderMarkdown(md, m.renderWidth(), true)
	m.members.SetContent(strings.TrimSuffix(rendered, "\n"))
}
