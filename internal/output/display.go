package output

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"romdl/internal/download"
	"romdl/internal/queue"
	"romdl/utils"
)

type row struct {
	name      string
	done      int64
	total     int64
	speed     float64
	eta       float64
	status    string
	startTime time.Time
}

// Display renders the queue to the terminal, redrawing every half second.
// It is the CLI-side consumer of the manager's progress callback: updates
// arrive from worker goroutines and are serialized behind the display's own
// mutex before touching any render state.
type Display struct {
	mu       sync.Mutex
	rows     map[uuid.UUID]*row
	order    []uuid.UUID
	doneCh   chan struct{}
	stopOnce sync.Once
	numLines int
}

func NewDisplay() *Display {
	return &Display{
		rows:   make(map[uuid.UUID]*row),
		doneCh: make(chan struct{}),
	}
}

// Callback returns the progress sink to hand to the queue manager.
func (d *Display) Callback() queue.Callback {
	return func(it *queue.Item, done, total int64, speed, eta float64, status string) {
		d.mu.Lock()
		defer d.mu.Unlock()
		r, ok := d.rows[it.ID]
		if !ok {
			r = &row{name: it.Name, startTime: time.Now()}
			d.rows[it.ID] = r
			d.order = append(d.order, it.ID)
		}
		if done > 0 || r.done == 0 {
			r.done = done
		}
		if total > 0 {
			r.total = total
		}
		r.speed = speed
		r.eta = eta
		r.status = status
	}
}

func (d *Display) StartDisplay() {
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.render()
			case <-d.doneCh:
				return
			}
		}
	}()
}

func (d *Display) Stop() {
	d.stopOnce.Do(func() { close(d.doneCh) })
	d.render()
}

func (d *Display) render() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.numLines != 0 {
		fmt.Printf("\033[%dA\033[J", d.numLines)
	}
	ids := make([]uuid.UUID, len(d.order))
	copy(ids, d.order)
	sort.SliceStable(ids, func(i, j int) bool {
		return statusRank(d.rows[ids[i]].status) < statusRank(d.rows[ids[j]].status)
	})
	for _, id := range ids {
		fmt.Println(d.renderRow(d.rows[id]))
	}
	d.numLines = len(ids)
}

func (d *Display) renderRow(r *row) string {
	name := r.name
	if len(name) > 32 {
		name = "..." + name[len(name)-29:]
	}
	switch {
	case r.status == "Completed" || r.status == "Integrity OK" || r.status == "Extraction complete":
		return successStyle.Render(fmt.Sprintf("%s %s  %s  %s", styleSymbols["pass"], name, utils.FormatBytes(uint64(r.done)), r.status))
	case r.status == "Integrity KO":
		return warningStyle.Render(fmt.Sprintf("%s %s  %s  %s", styleSymbols["warning"], name, utils.FormatBytes(uint64(r.done)), r.status))
	case strings.HasPrefix(r.status, "Error") || strings.HasPrefix(r.status, "Extraction failed"):
		return errorStyle.Render(fmt.Sprintf("%s %s  %s", styleSymbols["fail"], name, r.status))
	case r.status == "Cancelled":
		return detailStyle.Render(fmt.Sprintf("%s %s  Cancelled", styleSymbols["fail"], name))
	case r.status == "Queued":
		return pendingStyle.Render(fmt.Sprintf("%s %s  Queued", styleSymbols["pending"], name))
	default:
		return activeStyle.Render(fmt.Sprintf("%s %s: %s %s %s/s ETA: %s  [%s]",
			styleSymbols["arrow"], name, progressBar(r.done, r.total),
			utils.FormatBytes(uint64(r.done)), utils.FormatBytes(uint64(r.speed)),
			utils.FormatETA(r.eta), r.status))
	}
}

// ShowSummary prints totals after the queue drains.
func (d *Display) ShowSummary() {
	d.mu.Lock()
	defer d.mu.Unlock()
	var totalBytes int64
	var failures int
	elapsed := float64(0)
	for _, r := range d.rows {
		totalBytes += r.done
		if strings.HasPrefix(r.status, "Error") || strings.HasPrefix(r.status, "Extraction failed") {
			failures++
		}
		if e := time.Since(r.startTime).Seconds(); e > elapsed {
			elapsed = e
		}
	}
	fmt.Println()
	line := fmt.Sprintf("Total Data: %s, Time Elapsed: %.2fs", utils.FormatBytes(uint64(totalBytes)), elapsed)
	if failures > 0 {
		line += errorStyle.Render(fmt.Sprintf(", %d failed", failures))
	}
	fmt.Println(line)
}

func progressBar(done, total int64) string {
	const width = 30
	if total <= 0 {
		return "[" + strings.Repeat(" ", 10) + strings.Repeat("*", 10) + strings.Repeat(" ", 10) + "]"
	}
	percent := float64(done) / float64(total)
	filled := int(percent * float64(width))
	if filled > width {
		filled = width
	}
	bar := "[" + strings.Repeat("=", filled)
	if filled < width {
		bar += ">" + strings.Repeat(" ", width-filled-1)
	}
	return bar + fmt.Sprintf("] %.1f%%", percent*100)
}

func statusRank(status string) int {
	switch {
	case status == "Queued":
		return 2
	case download.Status(status).Terminal() || status == "Extraction complete" ||
		strings.HasPrefix(status, "Extraction failed"):
		return 1
	default:
		return 0
	}
}
