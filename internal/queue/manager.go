package queue

import (
	"context"
	"math"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"romdl/internal/download"
	"romdl/internal/extract"
	"romdl/utils"
)

// MaxConcurrencyLimit caps how many downloads may be active at once.
const MaxConcurrencyLimit = 5

// Callback receives every progress and status update for an item. It is
// invoked from worker goroutines; the consumer marshals onto its own
// execution context.
type Callback func(item *Item, done, total int64, speed, eta float64, status string)

// Manager is the single authority over how many transfers run concurrently
// and in what order. All mutation of the pending/active collections goes
// through one mutex; completion notifications from workers funnel through
// the same lock before the admission pump runs again.
type Manager struct {
	mu         sync.Mutex
	cond       *sync.Cond
	pending    []*Item
	active     map[uuid.UUID]*Item
	extracting int

	maxConcurrent int
	pool          *Pool
	cfg           download.Config
	callback      Callback
	log           zerolog.Logger
}

func NewManager(pool *Pool, cfg download.Config, maxConcurrent int, callback Callback) *Manager {
	m := &Manager{
		active:        make(map[uuid.UUID]*Item),
		maxConcurrent: clampConcurrency(maxConcurrent),
		pool:          pool,
		cfg:           cfg,
		callback:      callback,
		log:           utils.GetLogger("queue"),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func clampConcurrency(n int) int {
	return min(max(n, 1), MaxConcurrencyLimit)
}

// Enqueue appends the item to the queue tail and runs admission.
func (m *Manager) Enqueue(it *Item) {
	m.mu.Lock()
	m.pending = append(m.pending, it)
	toStart := m.pumpLocked()
	m.mu.Unlock()
	m.emit(it, 0, 0, 0, math.Inf(1), string(download.StatusQueued))
	m.startAll(toStart)
}

// SetConcurrency clamps n to [1,5] and re-runs admission, which may start
// more downloads if the ceiling was raised.
func (m *Manager) SetConcurrency(n int) {
	m.mu.Lock()
	m.maxConcurrent = clampConcurrency(n)
	toStart := m.pumpLocked()
	m.mu.Unlock()
	m.startAll(toStart)
}

func (m *Manager) Concurrency() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxConcurrent
}

// Remove cancels the item's task if it is active, or drops it from the
// queue without side effects if it is merely pending.
func (m *Manager) Remove(it *Item) {
	m.mu.Lock()
	if _, ok := m.active[it.ID]; ok {
		if it.task != nil {
			it.task.Cancel()
		}
		delete(m.active, it.ID)
	} else {
		m.dropPendingLocked(it)
	}
	toStart := m.pumpLocked()
	m.mu.Unlock()
	m.startAll(toStart)
}

// Pause is a no-op unless the item is actively downloading.
func (m *Manager) Pause(it *Item) {
	if task := m.activeTask(it); task != nil {
		task.Pause()
	}
}

func (m *Manager) Resume(it *Item) {
	if task := m.activeTask(it); task != nil {
		task.Resume()
	}
}

// Cancel delegates to the active task; a queued-but-not-started item is
// simply dropped.
func (m *Manager) Cancel(it *Item) {
	m.mu.Lock()
	if _, ok := m.active[it.ID]; ok {
		task := it.task
		m.mu.Unlock()
		if task != nil {
			task.Cancel()
		}
		return
	}
	m.dropPendingLocked(it)
	m.mu.Unlock()
}

// Counts returns the pending and active set sizes.
func (m *Manager) Counts() (pending, active int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending), len(m.active)
}

// WaitIdle blocks until no pending, active or extracting work remains, or
// the context expires. It reports whether the queue drained.
func (m *Manager) WaitIdle(ctx context.Context) bool {
	done := make(chan struct{})
	abandoned := false // guarded by m.mu
	go func() {
		m.mu.Lock()
		for !abandoned && (len(m.pending) > 0 || len(m.active) > 0 || m.extracting > 0) {
			m.cond.Wait()
		}
		m.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		m.mu.Lock()
		abandoned = true
		m.mu.Unlock()
		m.cond.Broadcast()
		<-done
		return false
	}
}

func (m *Manager) activeTask(it *Item) *download.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[it.ID]; !ok {
		return nil
	}
	return it.task
}

func (m *Manager) dropPendingLocked(it *Item) {
	for i, queued := range m.pending {
		if queued.ID == it.ID {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

// pumpLocked is the admission pump: it promotes queue heads into the active
// set while below the concurrency ceiling. Callers hold the mutex and start
// the returned items after unlocking.
func (m *Manager) pumpLocked() []*Item {
	var toStart []*Item
	for len(m.active) < m.maxConcurrent && len(m.pending) > 0 {
		it := m.pending[0]
		m.pending = m.pending[1:]
		m.active[it.ID] = it
		it.task = download.NewTask(m.cfg, it.URL, it.DestDir, it.Name, it.ExpectedHash,
			func(done, total int64, speed, eta float64, status download.Status) {
				m.emit(it, done, total, speed, eta, string(status))
			})
		toStart = append(toStart, it)
	}
	m.cond.Broadcast()
	return toStart
}

func (m *Manager) startAll(items []*Item) {
	for _, it := range items {
		task := it.task
		item := it
		m.pool.Submit(func() {
			finalPath, err := task.Run()
			m.onDownloadDone(item, finalPath, err)
		})
	}
}

// onDownloadDone funnels worker completions back through the manager lock
// before the pump runs, so racing completions cannot over-admit.
func (m *Manager) onDownloadDone(it *Item, finalPath string, err error) {
	m.mu.Lock()
	delete(m.active, it.ID)
	it.task = nil
	chain := err == nil && it.ExtractAfter
	if chain {
		m.extracting++
	}
	toStart := m.pumpLocked()
	m.mu.Unlock()

	if err != nil {
		m.log.Debug().Err(err).Str("name", it.Name).Msg("Download ended without a file")
	} else if chain {
		// The extraction runs against the path the download task actually
		// produced, not a recomputed one.
		m.startExtraction(it, finalPath)
	}
	m.startAll(toStart)
}

func (m *Manager) startExtraction(it *Item, archivePath string) {
	task := extract.NewTask(archivePath, it.DestDir, func(done, total int64, status string) {
		m.emit(it, done, total, 0, 0, status)
	})
	m.mu.Lock()
	it.extractTask = task
	m.mu.Unlock()
	m.pool.Submit(func() {
		err := task.Run()
		if err == nil && it.DeleteArchive {
			if rmErr := os.Remove(archivePath); rmErr != nil {
				m.log.Warn().Err(rmErr).Str("archive", archivePath).Msg("Could not delete archive after extraction")
			}
		}
		m.mu.Lock()
		it.extractTask = nil
		m.extracting--
		m.cond.Broadcast()
		m.mu.Unlock()
	})
}

func (m *Manager) emit(it *Item, done, total int64, speed, eta float64, status string) {
	if m.callback != nil {
		m.callback(it, done, total, speed, eta, status)
	}
}
