package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/rangefetch/internal/progress"
)

type JobOutput struct {
	ID          int
	Label       string
	Status      string
	Message     string
	Progress    string
	Complete    bool
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
	lastBucket  int
}

type ErrorReport struct {
	Label string
	Error error
	Time  time.Time
}

// Manager tracks every job of a run and renders them. On a terminal the
// whole block is redrawn every tick; otherwise each state change is
// printed once as a plain line.
type Manager struct {
	out         io.Writer
	interactive bool
	mutex       sync.RWMutex
	jobs        []*JobOutput
	errors      []ErrorReport
	numLines    int
	displayTick time.Duration
	doneCh      chan struct{}
	displayWg   sync.WaitGroup
	stopOnce    sync.Once
}

func NewManager() *Manager {
	return NewManagerWithWriter(os.Stdout, isTerminal(os.Stdout))
}

func NewManagerWithWriter(out io.Writer, interactive bool) *Manager {
	return &Manager{
		out:         out,
		interactive: interactive,
		displayTick: 300 * time.Millisecond,
		doneCh:      make(chan struct{}),
	}
}

func (m *Manager) Register(label string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	now := time.Now()
	m.jobs = append(m.jobs, &JobOutput{
		ID:          len(m.jobs) + 1,
		Label:       label,
		Status:      statusPending,
		StartTime:   now,
		LastUpdated: now,
		lastBucket:  -1,
	})
	return len(m.jobs)
}

func (m *Manager) get(id int) *JobOutput {
	if id < 1 || id > len(m.jobs) {
		return nil
	}
	return m.jobs[id-1]
}

func (m *Manager) SetMessage(id int, message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info := m.get(id); info != nil {
		info.Message = message
		info.LastUpdated = time.Now()
		m.printLine(info)
	}
}

func (m *Manager) Status(id int) string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if info := m.get(id); info != nil {
		return info.Status
	}
	return "unknown"
}

// UpdateProgress replaces the progress line of a job. Without a terminal
// only every tenth of the way is printed.
func (m *Manager) UpdateProgress(id int, u progress.Update) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	info := m.get(id)
	if info == nil {
		return
	}
	info.Status = statusActive
	info.Progress = progressLine(u)
	info.LastUpdated = time.Now()
	if m.interactive {
		return
	}
	if bucket := int(u.Fraction * 10); bucket > info.lastBucket {
		info.lastBucket = bucket
		fmt.Fprintf(m.out, "  %s %s\n", info.Label, info.Progress)
	}
}

func (m *Manager) Complete(id int, message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info := m.get(id); info != nil {
		info.Progress = ""
		if message == "" {
			message = fmt.Sprintf("Completed %s", info.Label)
		}
		info.Message = message
		info.Complete = true
		info.Status = statusSuccess
		info.LastUpdated = time.Now()
		m.printLine(info)
	}
}

func (m *Manager) ReportError(id int, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info := m.get(id); info != nil {
		info.Complete = true
		info.Status = statusError
		info.Error = err
		info.LastUpdated = time.Now()
		m.errors = append(m.errors, ErrorReport{Label: info.Label, Error: err, Time: time.Now()})
		m.printLine(info)
	}
}

func (m *Manager) Errors() []ErrorReport {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return append([]ErrorReport(nil), m.errors...)
}

func (m *Manager) printLine(info *JobOutput) {
	if m.interactive {
		return
	}
	fmt.Fprintf(m.out, "  %s %s\n", statusIndicator(info.Status), styleMessage(info.Status, info.Message))
}

func statusIndicator(status string) string {
	switch status {
	case statusSuccess:
		return successStyle.Render(StyleSymbols["pass"])
	case statusError:
		return errorStyle.Render(StyleSymbols["fail"])
	case statusPending:
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func styleMessage(status, message string) string {
	switch status {
	case statusSuccess:
		return successStyle.Render(message)
	case statusError:
		return errorStyle.Render(message)
	default:
		return pendingStyle.Render(message)
	}
}

func (m *Manager) render() []string {
	var active, completed []string
	for _, info := range m.jobs {
		elapsed := time.Since(info.StartTime).Round(time.Second)
		if info.Complete {
			elapsed = info.LastUpdated.Sub(info.StartTime).Round(time.Second)
		}
		message := info.Message
		if info.Status == statusPending && message == "" {
			message = "Waiting..."
		}
		line := fmt.Sprintf("  %s %s %s", statusIndicator(info.Status), debugStyle.Render(elapsed.String()), styleMessage(info.Status, message))
		if info.Complete {
			completed = append(completed, line)
			continue
		}
		active = append(active, line)
		if info.Progress != "" {
			active = append(active, "      "+streamStyle.Render(info.Progress))
		}
	}
	return append(active, completed...)
}

func (m *Manager) updateDisplay() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	lines := m.render()
	if available := getTerminalHeight() - 3; available > 0 && len(lines) > available {
		lines = lines[:available]
	}
	for _, line := range lines {
		fmt.Fprintln(m.out, line)
	}
	m.numLines = len(lines)
}

func (m *Manager) StartDisplay() {
	if !m.interactive {
		return
	}
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				return
			}
		}
	}()
}

// StopDisplay draws the final state and prints the summary. Calling it
// more than once is harmless.
func (m *Manager) StopDisplay() {
	m.stopOnce.Do(func() {
		close(m.doneCh)
		m.displayWg.Wait()
		m.ShowSummary()
	})
}

func (m *Manager) ShowSummary() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var success, failures int
	for _, info := range m.jobs {
		switch info.Status {
		case statusSuccess:
			success++
		case statusError:
			failures++
		}
	}
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, "  "+success2Style.Render(fmt.Sprintf("Completed %d of %d", success, len(m.jobs))))
	if failures > 0 {
		fmt.Fprintln(m.out, "  "+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, len(m.jobs))))
	}
	if len(m.errors) > 0 {
		fmt.Fprintln(m.out)
		fmt.Fprintln(m.out, "  "+errorStyle.Bold(true).Render("Errors:"))
		for i, report := range m.errors {
			fmt.Fprintf(m.out, "    %s %s %s\n",
				errorStyle.Render(fmt.Sprintf("%d.", i+1)),
				debugStyle.Render(fmt.Sprintf("[%s]", report.Time.Format("15:04:05"))),
				errorStyle.Render(report.Label))
			for _, line := range strings.Split(report.Error.Error(), "; ") {
				fmt.Fprintf(m.out, "      %s\n", errorStyle.Render(line))
			}
		}
	}
	fmt.Fprintln(m.out)
}
