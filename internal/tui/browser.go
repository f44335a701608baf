// Package tui provides an interactive terminal browser over the memory log,
// for developers inspecting what the review system has learned.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/basket/revclaw/internal/review"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	categoryStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

const pageSize = 15

type browserModel struct {
	records  []review.Record // newest first
	filtered []int           // indexes into records
	cursor   int
	offset   int

	filtering bool
	filter    string

	detail bool
}

func newBrowser(records []review.Record) browserModel {
	// Newest first reads better for a log browser.
	reversed := make([]review.Record, len(records))
	for i, r := range records {
		reversed[len(records)-1-i] = r
	}
	m := browserModel{records: reversed}
	m.applyFilter()
	return m
}

func (m *browserModel) applyFilter() {
	m.filtered = m.filtered[:0]
	needle := strings.ToLower(m.filter)
	for i, r := range m.records {
		if needle == "" ||
			strings.Contains(strings.ToLower(r.Payload.Text), needle) ||
			strings.Contains(strings.ToLower(string(r.Category)), needle) ||
			strings.Contains(strings.ToLower(r.AgentName), needle) {
			m.filtered = append(m.filtered, i)
		}
	}
	if m.cursor >= len(m.filtered) {
		m.cursor = 0
		m.offset = 0
	}
}

func (m browserModel) Init() tea.Cmd {
	return nil
}

func (m browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	if m.filtering {
		switch key.String() {
		case "enter", "esc":
			m.filtering = false
		case "backspace":
			if len(m.filter) > 0 {
				m.filter = m.filter[:len(m.filter)-1]
				m.applyFilter()
			}
		default:
			if len(key.String()) == 1 {
				m.filter += key.String()
				m.applyFilter()
			}
		}
		return m, nil
	}

	switch key.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "esc":
		if m.detail {
			m.detail = false
			return m, nil
		}
		if m.filter != "" {
			m.filter = ""
			m.applyFilter()
			return m, nil
		}
		return m, tea.Quit
	case "enter":
		if len(m.filtered) > 0 {
			m.detail = !m.detail
		}
	case "/":
		m.filtering = true
		m.detail = false
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
			if m.cursor < m.offset {
				m.offset = m.cursor
			}
		}
	case "down", "j":
		if m.cursor < len(m.filtered)-1 {
			m.cursor++
			if m.cursor >= m.offset+pageSize {
				m.offset = m.cursor - pageSize + 1
			}
		}
	}
	return m, nil
}

func (m browserModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Review Memory"))
	fmt.Fprintf(&b, " %s\n\n", dimStyle.Render(fmt.Sprintf("(%d records)", len(m.filtered))))

	if m.filtering || m.filter != "" {
		fmt.Fprintf(&b, "  filter: %s\n\n", m.filter)
	}

	if len(m.filtered) == 0 {
		b.WriteString("  no records\n")
	} else if m.detail {
		m.renderDetail(&b)
	} else {
		m.renderList(&b)
	}

	b.WriteString("\n" + dimStyle.Render("  [up/down] navigate  [enter] detail  [/] filter  [q] quit") + "\n")
	return b.String()
}

func (m browserModel) renderList(b *strings.Builder) {
	end := m.offset + pageSize
	if end > len(m.filtered) {
		end = len(m.filtered)
	}
	for pos := m.offset; pos < end; pos++ {
		r := m.records[m.filtered[pos]]
		cursor := "  "
		if pos == m.cursor {
			cursor = cursorStyle.Render("> ")
		}
		text := r.Payload.Text
		if len(text) > 60 {
			text = text[:57] + "..."
		}
		fmt.Fprintf(b, "  %s%s %-16s %s\n",
			cursor,
			dimStyle.Render(r.Timestamp.Format("2006-01-02")),
			categoryStyle.Render(string(r.Category)),
			text)
	}
}

func (m browserModel) renderDetail(b *strings.Builder) {
	r := m.records[m.filtered[m.cursor]]
	fmt.Fprintf(b, "  id:        %s\n", r.ID)
	fmt.Fprintf(b, "  time:      %s\n", r.Timestamp.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(b, "  run:       %s\n", r.SourceRunID)
	fmt.Fprintf(b, "  agent:     %s\n", r.AgentName)
	fmt.Fprintf(b, "  category:  %s\n", categoryStyle.Render(string(r.Category)))
	if r.Payload.FilePath != "" {
		fmt.Fprintf(b, "  file:      %s:%d\n", r.Payload.FilePath, r.Payload.Line)
	}
	if r.Payload.Severity != "" {
		fmt.Fprintf(b, "  severity:  %s\n", r.Payload.Severity)
	}
	if r.RefID != "" {
		fmt.Fprintf(b, "  corrects:  %s\n", r.RefID)
	}
	fmt.Fprintf(b, "  embedded:  %t\n\n", len(r.Embedding) > 0)
	fmt.Fprintf(b, "  %s\n", r.Payload.Text)
}

// Run starts the browser over the given records and blocks until the user
// quits or ctx is cancelled.
func Run(ctx context.Context, records []review.Record) error {
	p := tea.NewProgram(newBrowser(records))

	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		done <- err
	}()

	select {
	case <-ctx.Done():
		p.Quit()
		return ctx.Err()
	case err := <-done:
		return err
	}
}
