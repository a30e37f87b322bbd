package cli

import (
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"

	"github.com/741311791/roadmap-agent-sub009/internal/channel"
	"github.com/741311791/roadmap-agent-sub009/internal/roadmap"
)

const refreshInterval = 250 * time.Millisecond

// watchReconciler is the read-only slice of the reconciler the displays need.
type watchReconciler interface {
	Phase() (roadmap.GenerationPhase, string)
	Stats() roadmap.GenerationStats
	Polling() bool
	Live() bool
	ReviewRequired() (bool, *channel.ReviewSummary)
	TaskID() string
}

// tickMsg triggers re-reading the reconciler state
type tickMsg time.Time

// conceptMsg carries one store change notification
type conceptMsg roadmap.Update

// watchModel is the bubbletea model for live generation progress.
type watchModel struct {
	rec      watchReconciler
	updates  <-chan roadmap.Update
	progress progress.Model
	theme    Theme

	lastChange string
	done       bool
	quitting   bool
	err        error
}

func newWatchModel(rec watchReconciler, updates <-chan roadmap.Update) watchModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return watchModel{
		rec:      rec,
		updates:  updates,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial commands (start ticking and listening).
func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		waitForConcept(m.updates),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		phase, _ := m.rec.Phase()
		required, _ := m.rec.ReviewRequired()

		switch {
		case phase == roadmap.PhaseCompleted:
			m.done = true
			return m, tea.Quit
		case !required && !m.rec.Live() && !m.rec.Polling():
			m.done = true
			m.err = fmt.Errorf("generation stopped without completing")
			return m, tea.Quit
		}
		return m, tickCmd()

	case conceptMsg:
		if msg.ConceptID != "" {
			m.lastChange = fmt.Sprintf("%s %s %s", msg.ConceptID, msg.ContentType, msg.Status)
		}
		return m, waitForConcept(m.updates)

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m watchModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m watchModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}

	phase, sub := m.rec.Phase()
	stats := m.rec.Stats()

	label := string(phase)
	if label == "" {
		label = "starting"
	}
	if sub != "" {
		label += ":" + sub
	}
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", label))

	if required, review := m.rec.ReviewRequired(); required {
		summary := "curriculum ready for review"
		if review != nil {
			summary = fmt.Sprintf("%s (%d stages)", review.Title, review.StageCount)
		}
		hint := m.theme.hintStyle().Render(fmt.Sprintf("Resolve with: roadmapctl approve %s", m.rec.TaskID()))
		return fmt.Sprintf("%s ⏸ %s\n%s\n", status, summary, hint)
	}

	var pct float64
	if stats.Total > 0 {
		pct = float64(stats.Completed) / float64(stats.Total)
	}
	bar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d/%d tutorials", stats.Completed, stats.Total)
	if stats.Failed > 0 {
		counts += " " + m.theme.errorStyle().Render(fmt.Sprintf("(%d failed)", stats.Failed))
	}

	out := fmt.Sprintf("%s %s %s\n", status, bar, counts)
	if m.lastChange != "" {
		out += m.theme.hintStyle().Render(m.lastChange) + "\n"
	}
	out += m.theme.hintStyle().Render("Press q to stop watching; generation continues server-side") + "\n"
	return out
}

// finalView renders the completion message.
func (m watchModel) finalView() string {
	if m.quitting {
		return m.theme.hintStyle().Render("\nStopped watching. Generation continues server-side.\n")
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ %s\n", m.err))
	}

	stats := m.rec.Stats()
	out := m.theme.completedStyle().Render("✓ Generation complete") + "\n\n"
	out += fmt.Sprintf("  Tutorials: %d/%d\n", stats.Completed, stats.Total)
	if stats.Failed > 0 {
		out += m.theme.errorStyle().Render(fmt.Sprintf("  Failed:    %d\n", stats.Failed))
		out += m.theme.hintStyle().Render("  Use 'roadmapctl retry' to regenerate failed content.") + "\n"
	}
	return out
}

// waitForConcept blocks on the next store change.
// Runs as a command to avoid blocking Update().
func waitForConcept(updates <-chan roadmap.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return nil
		}
		return conceptMsg(u)
	}
}

// tickCmd returns a command that sends a tick after the refresh interval.
func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runWatchUI runs the interactive progress display until generation finishes
// or the user quits. Quitting is not an error; the backend keeps going.
func runWatchUI(rec watchReconciler, store *roadmap.Store) error {
	updates, cancel := store.Subscribe()
	defer cancel()

	model := newWatchModel(rec, updates)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(watchModel); ok {
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}
	return nil
}
