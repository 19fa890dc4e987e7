package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Progress reports how far a batched operation has come.
type Progress interface {
	Start(ctx context.Context) error
	Update(done, total int)
	Stop() error
}

// NewProgress returns an animated bar on an interactive color terminal and a
// line per update everywhere else (pipes, CI, NO_COLOR).
func NewProgress(w io.Writer, label string, noColor bool) Progress {
	if noColor || NoColorRequested() || DetectCI() || !IsTTY(w) {
		return &plainProgress{w: w, label: label}
	}
	return &barProgress{out: w.(*os.File), label: label}
}

var ciVars = []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}

// DetectCI reports whether a CI environment variable is set.
func DetectCI() bool {
	for _, v := range ciVars {
		if _, ok := os.LookupEnv(v); ok {
			return true
		}
	}
	return false
}

type plainProgress struct {
	w     io.Writer
	label string

	mu   sync.Mutex
	last int
}

func (p *plainProgress) Start(context.Context) error { return nil }

func (p *plainProgress) Update(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if done == p.last {
		return
	}
	p.last = done
	_, _ = fmt.Fprintf(p.w, "  %s %d/%d\n", p.label, done, total)
}

func (p *plainProgress) Stop() error { return nil }

// barProgress runs a bubbletea program that redraws a single status line.
type barProgress struct {
	out   *os.File
	label string

	mu      sync.Mutex
	program *tea.Program
	done    chan struct{}
}

func (b *barProgress) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.program != nil {
		return nil
	}
	b.program = tea.NewProgram(newBarModel(b.label),
		tea.WithOutput(b.out),
		tea.WithInput(nil),
		tea.WithContext(ctx))
	b.done = make(chan struct{})
	go func() {
		defer close(b.done)
		_, _ = b.program.Run()
	}()
	return nil
}

func (b *barProgress) Update(done, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.program != nil {
		b.program.Send(progressMsg{done: done, total: total})
	}
}

func (b *barProgress) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.program == nil {
		return nil
	}
	b.program.Send(finishMsg{})
	select {
	case <-b.done:
	case <-time.After(2 * time.Second):
		b.program.Kill()
	}
	b.program = nil
	return nil
}

type progressMsg struct{ done, total int }

type finishMsg struct{}

type barModel struct {
	label    string
	spinner  spinner.Model
	bar      progress.Model
	done     int
	total    int
	finished bool
}

func newBarModel(label string) barModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent))
	return barModel{
		label:   label,
		spinner: s,
		bar: progress.New(
			progress.WithSolidFill(colorAccent),
			progress.WithWidth(40),
			progress.WithoutPercentage(),
		),
	}
}

func (m barModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m barModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressMsg:
		m.done, m.total = msg.done, msg.total
		return m, nil
	case finishMsg:
		m.finished = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m barModel) View() string {
	if m.finished {
		return ""
	}
	var pct float64
	if m.total > 0 {
		pct = float64(m.done) / float64(m.total)
	}
	return fmt.Sprintf("%s %s %s %d/%d\n", m.spinner.View(), m.label, m.bar.ViewAs(pct), m.done, m.total)
}
