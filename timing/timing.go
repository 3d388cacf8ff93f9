// Package timing records named wall-clock timers per rank and reduces them
// across the communicator for reporting.
package timing

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/notargets/FEMBench/comm"
)

// Entry is the accumulated time of one named timer
type Entry struct {
	Name  string
	Count int
	Total time.Duration
}

// Registry holds the timers of one rank in first-use order
type Registry struct {
	mu      sync.Mutex
	order   []string
	entries map[string]*Entry
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Start begins timing name and returns the function that stops it
func (r *Registry) Start(name string) (stop func()) {
	t0 := time.Now()
	return func() { r.Add(name, time.Since(t0)) }
}

// Time runs fn under the timer name
func (r *Registry) Time(name string, fn func() error) error {
	defer r.Start(name)()
	return fn()
}

// Add accumulates d into the timer name
func (r *Registry) Add(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		e = &Entry{Name: name}
		r.entries[name] = e
		r.order = append(r.order, name)
	}
	e.Count++
	e.Total += d
}

// Entries returns a snapshot of all timers in first-use order
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.order))
	for i, name := range r.order {
		out[i] = *r.entries[name]
	}
	return out
}

// Summary is one timer reduced over all ranks
type Summary struct {
	Name string
	Reps int
	Min  time.Duration
	Avg  time.Duration
	Max  time.Duration
}

// Reduce combines the registries of all ranks. Every rank must have started
// the same timers in the same order. Collective.
func Reduce(c *comm.Comm, r *Registry) ([]Summary, error) {
	entries := r.Entries()
	n := len(entries)
	sizes, err := c.AllreduceMax([]float64{float64(n), -float64(n)})
	if err != nil {
		return nil, err
	}
	if int(sizes[0]) != n || int(-sizes[1]) != n {
		return nil, fmt.Errorf("ranks recorded different timers")
	}

	// Max and -Min in one reduction, sums in another
	hi := make([]float64, 2*n)
	sum := make([]float64, n)
	for i, e := range entries {
		s := e.Total.Seconds()
		hi[i], hi[n+i] = s, -s
		sum[i] = s
	}
	if hi, err = c.AllreduceMax(hi); err != nil {
		return nil, err
	}
	if sum, err = c.AllreduceSum(sum); err != nil {
		return nil, err
	}

	out := make([]Summary, n)
	for i, e := range entries {
		out[i] = Summary{
			Name: e.Name,
			Reps: e.Count,
			Max:  seconds(hi[i]),
			Min:  seconds(-hi[n+i]),
			Avg:  seconds(sum[i] / float64(c.Size())),
		}
	}
	return out, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	sepStyle    = lipgloss.NewStyle().Faint(true)
)

// Table renders the summaries as a fixed-width text table
func Table(title string, summaries []Summary) string {
	headers := []string{"Timer", "reps", "wall min", "wall avg", "wall max"}
	rows := make([][]string, len(summaries))
	for i, s := range summaries {
		rows[i] = []string{
			s.Name,
			fmt.Sprint(s.Reps),
			fmt.Sprintf("%.6f", s.Min.Seconds()),
			fmt.Sprintf("%.6f", s.Avg.Seconds()),
			fmt.Sprintf("%.6f", s.Max.Seconds()),
		}
	}
	return RenderTable(title, headers, rows)
}

// RenderTable lays out rows under headers with padded, bar separated columns
func RenderTable(title string, headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	// Width includes padding
	for i := range widths {
		widths[i] += 2
	}

	var sb strings.Builder
	if title != "" {
		sb.WriteString(titleStyle.Render(title))
		sb.WriteString("\n")
	}
	writeRow := func(style lipgloss.Style, cells []string) {
		for i, c := range cells {
			sb.WriteString(style.Width(widths[i]).Render(c))
			if i < len(cells)-1 {
				sb.WriteString(sepStyle.Render("|"))
			}
		}
		sb.WriteString("\n")
	}
	writeRow(headerStyle, headers)
	total := len(widths) - 1
	for _, w := range widths {
		total += w
	}
	sb.WriteString(sepStyle.Render(strings.Repeat("-", total)))
	sb.WriteString("\n")
	for _, row := range rows {
		writeRow(cellStyle, row)
	}
	return sb.String()
}
