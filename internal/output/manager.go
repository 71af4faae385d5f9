package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/extdl/internal/progress"
)

// TaskOutput is the display state of one task. ProgressLine is replaced on
// every sample; StreamLines holds the warnings shown under it.
type TaskOutput struct {
	ID           string
	Name         string
	Status       string
	Message      string
	ProgressLine string
	StreamLines  []string
	Complete     bool
	StartTime    time.Time
	LastUpdated  time.Time
	Error        error
	Index        int
}

type ErrorReport struct {
	Name  string
	Error error
	Time  time.Time
}

// Manager renders every task of a run on the terminal. It is a progress.Sink:
// each sample replaces the task's progress line.
type Manager struct {
	out         io.Writer
	outputs     map[string]*TaskOutput
	mutex       sync.RWMutex
	numLines    int
	maxStreams  int
	errors      []ErrorReport
	doneCh      chan struct{}
	displayTick time.Duration
	taskCount   int
	displayWg   sync.WaitGroup
}

func NewManager(out io.Writer) *Manager {
	return &Manager{
		out:         out,
		outputs:     make(map[string]*TaskOutput),
		maxStreams:  6,
		doneCh:      make(chan struct{}),
		displayTick: 300 * time.Millisecond,
	}
}

func (m *Manager) Register(taskID, name string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.taskCount++
	m.outputs[taskID] = &TaskOutput{
		ID:          taskID,
		Name:        name,
		Status:      "pending",
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
		Index:       m.taskCount,
	}
}

func (m *Manager) update(taskID string, fn func(info *TaskOutput)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[taskID]; exists {
		fn(info)
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) SetMessage(taskID, message string) {
	m.update(taskID, func(info *TaskOutput) {
		info.Message = message
	})
}

func (m *Manager) Progress(taskID string, s progress.Status) {
	if s.State != progress.StateDownloading {
		return
	}
	line := progressLine(s)
	m.update(taskID, func(info *TaskOutput) {
		info.Status = "active"
		info.ProgressLine = line
	})
}

// Warn appends a warning under the task.
func (m *Manager) Warn(taskID, msg string) {
	m.update(taskID, func(info *TaskOutput) {
		lines := wrapText(StyleSymbols["warning"]+" "+msg, 6)
		for i := range lines {
			lines[i] = warningStyle.Render(lines[i])
		}
		info.StreamLines = append(info.StreamLines, lines...)
		if len(info.StreamLines) > m.maxStreams {
			info.StreamLines = info.StreamLines[len(info.StreamLines)-m.maxStreams:]
		}
	})
}

func (m *Manager) Complete(taskID, message string) {
	m.update(taskID, func(info *TaskOutput) {
		info.ProgressLine = ""
		info.StreamLines = nil
		info.Message = message
		if message == "" {
			info.Message = fmt.Sprintf("Completed %s", info.Name)
		}
		info.Complete = true
		info.Status = "success"
	})
}

func (m *Manager) ReportError(taskID string, err error) {
	m.update(taskID, func(info *TaskOutput) {
		info.Complete = true
		info.Status = "error"
		info.Error = err
		info.Message = fmt.Sprintf("Failed %s", info.Name)
		m.errors = append(m.errors, ErrorReport{Name: info.Name, Error: err, Time: time.Now()})
	})
}

// Counts returns the number of succeeded and failed tasks.
func (m *Manager) Counts() (success, failed int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, info := range m.outputs {
		switch info.Status {
		case "success":
			success++
		case "error":
			failed++
		}
	}
	return success, failed
}

func statusIndicator(status string) string {
	switch status {
	case "success":
		return successStyle.Render(StyleSymbols["pass"])
	case "error":
		return errorStyle.Render(StyleSymbols["fail"])
	case "pending":
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func styleMessage(status, message string) string {
	switch status {
	case "success":
		return successStyle.Render(message)
	case "error":
		return errorStyle.Render(message)
	default:
		return pendingStyle.Render(message)
	}
}

// sorted returns running tasks first, then finished ones, each in registration order.
func (m *Manager) sorted() (running, completed []*TaskOutput) {
	all := make([]*TaskOutput, 0, len(m.outputs))
	for _, info := range m.outputs {
		all = append(all, info)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Index < all[j].Index })
	for _, info := range all {
		if info.Complete {
			completed = append(completed, info)
		} else {
			running = append(running, info)
		}
	}
	return running, completed
}

func (m *Manager) render() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	running, completed := m.sorted()
	var lines []string
	indent := strings.Repeat(" ", 2)
	for _, info := range append(running, completed...) {
		elapsed := time.Since(info.StartTime)
		if info.Complete {
			elapsed = info.LastUpdated.Sub(info.StartTime)
		}
		message := info.Message
		if message == "" {
			message = "Waiting..."
		}
		lines = append(lines, fmt.Sprintf("%s%s %s %s", indent, statusIndicator(info.Status),
			debugStyle.Render(elapsed.Round(time.Second).String()), styleMessage(info.Status, message)))
		if info.ProgressLine != "" {
			lines = append(lines, indent+"    "+streamStyle.Render(info.ProgressLine))
		}
		for _, line := range info.StreamLines {
			lines = append(lines, indent+"    "+streamStyle.Render(line))
		}
	}
	return lines
}

func (m *Manager) updateDisplay() {
	_, termHeight := getTerminalSize()
	available := termHeight - 3
	lines := m.render()
	if len(lines) > available {
		lines = lines[:max(0, available)]
	}
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	for _, line := range lines {
		fmt.Fprintln(m.out, line)
	}
	m.numLines = len(lines)
}

func (m *Manager) StartDisplay() {
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
				m.ShowSummary()
				return
			}
		}
	}()
}

func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
}

func (m *Manager) ShowSummary() {
	success, failures := m.Counts()
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	total := len(m.outputs)
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, "  "+success2Style.Render(fmt.Sprintf("Completed %d of %d", success, total)))
	if failures == 0 {
		fmt.Fprintln(m.out)
		return
	}
	fmt.Fprintln(m.out, "  "+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, total)))
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, "  "+errorStyle.Bold(true).Render("Errors:"))
	for i, e := range m.errors {
		fmt.Fprintf(m.out, "    %s %s %s\n",
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", e.Time.Format("15:04:05"))),
			errorStyle.Render(e.Name))
		fmt.Fprintf(m.out, "      %s\n", errorStyle.Render(fmt.Sprintf("Error: %v", e.Error)))
	}
	fmt.Fprintln(m.out)
}
