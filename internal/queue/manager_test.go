package queue

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"romdl/internal/download"
)

func testCfg() download.Config {
	cfg := download.DefaultConfig()
	cfg.ChunkSize = 4 * 1024
	cfg.BackoffStep = time.Millisecond
	cfg.BackoffCap = 5 * time.Millisecond
	return cfg
}

func testContent(size int) []byte {
	content := make([]byte, size)
	rand.New(rand.NewSource(7)).Read(content)
	return content
}

type statusLog struct {
	mu     sync.Mutex
	byName map[string][]string
}

func newStatusLog() *statusLog {
	return &statusLog{byName: make(map[string][]string)}
}

func (l *statusLog) callback(it *Item, done, total int64, speed, eta float64, status string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	history := l.byName[it.Name]
	if len(history) == 0 || history[len(history)-1] != status {
		l.byName[it.Name] = append(history, status)
	}
}

func (l *statusLog) last(name string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	history := l.byName[name]
	if len(history) == 0 {
		return ""
	}
	return history[len(history)-1]
}

func (l *statusLog) saw(name, status string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.byName[name] {
		if s == status {
			return true
		}
	}
	return false
}

func waitIdle(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if !m.WaitIdle(ctx) {
		t.Fatal("queue did not drain in time")
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// countingServer tracks how many GET transfers overlap in time.
func countingServer(t *testing.T, content []byte, peak *atomic.Int32) *httptest.Server {
	t.Helper()
	var inFlight atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			cur := inFlight.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			defer inFlight.Add(-1)
			time.Sleep(25 * time.Millisecond)
		}
		http.ServeContent(w, r, "file.bin", time.Unix(1700000000, 0), bytes.NewReader(content))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConcurrencyCeiling(t *testing.T) {
	content := testContent(16 * 1024)
	for _, n := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("limit-%d", n), func(t *testing.T) {
			var peak atomic.Int32
			srv := countingServer(t, content, &peak)
			dest := t.TempDir()

			pool := NewPool(MaxConcurrencyLimit + 2)
			defer pool.Close()
			log := newStatusLog()
			m := NewManager(pool, testCfg(), n, log.callback)

			for i := 0; i < 6; i++ {
				m.Enqueue(NewItem(fmt.Sprintf("rom-%d.bin", i), srv.URL+"/file.bin", dest))
			}
			waitIdle(t, m)

			if got := peak.Load(); int(got) > n {
				t.Fatalf("observed %d overlapping transfers, ceiling is %d", got, n)
			}
			for i := 0; i < 6; i++ {
				name := fmt.Sprintf("rom-%d.bin", i)
				if last := log.last(name); last != "Completed" {
					t.Fatalf("%s ended as %q, want Completed", name, last)
				}
				if _, err := os.Stat(filepath.Join(dest, name)); err != nil {
					t.Fatalf("%s missing on disk: %v", name, err)
				}
			}
		})
	}
}

func TestQueuedItemsProgressThroughStates(t *testing.T) {
	content := testContent(8 * 1024)
	var peak atomic.Int32
	srv := countingServer(t, content, &peak)
	dest := t.TempDir()

	pool := NewPool(4)
	defer pool.Close()
	log := newStatusLog()
	m := NewManager(pool, testCfg(), 2, log.callback)

	for i := 0; i < 6; i++ {
		m.Enqueue(NewItem(fmt.Sprintf("game-%d.rom", i), srv.URL+"/file.bin", dest))
	}
	waitIdle(t, m)

	for i := 0; i < 6; i++ {
		name := fmt.Sprintf("game-%d.rom", i)
		if !log.saw(name, "Queued") {
			t.Fatalf("%s never reported Queued", name)
		}
		if !log.saw(name, "Connecting") {
			t.Fatalf("%s never reported Connecting", name)
		}
		if log.last(name) != "Completed" {
			t.Fatalf("%s ended as %q", name, log.last(name))
		}
	}
	if pending, active := m.Counts(); pending != 0 || active != 0 {
		t.Fatalf("queue not drained: pending=%d active=%d", pending, active)
	}
}

func TestConcurrencyClamp(t *testing.T) {
	pool := NewPool(1)
	defer pool.Close()
	m := NewManager(pool, testCfg(), 99, nil)
	if got := m.Concurrency(); got != MaxConcurrencyLimit {
		t.Fatalf("Concurrency() = %d, want %d", got, MaxConcurrencyLimit)
	}
	m.SetConcurrency(0)
	if got := m.Concurrency(); got != 1 {
		t.Fatalf("Concurrency() = %d, want 1", got)
	}
	m.SetConcurrency(3)
	if got := m.Concurrency(); got != 3 {
		t.Fatalf("Concurrency() = %d, want 3", got)
	}
}

func TestRemoveQueuedItem(t *testing.T) {
	content := testContent(4 * 1024)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" && r.Method == http.MethodGet {
			<-release
		}
		http.ServeContent(w, r, "file.bin", time.Unix(1700000000, 0), bytes.NewReader(content))
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})
	dest := t.TempDir()

	pool := NewPool(4)
	defer pool.Close()
	log := newStatusLog()
	m := NewManager(pool, testCfg(), 1, log.callback)

	first := NewItem("first.bin", srv.URL+"/slow", dest)
	second := NewItem("second.bin", srv.URL+"/fast", dest)
	third := NewItem("third.bin", srv.URL+"/fast", dest)
	m.Enqueue(first)
	m.Enqueue(second)
	m.Enqueue(third)

	eventually(t, func() bool {
		pending, active := m.Counts()
		return active == 1 && pending == 2
	}, "queue never reached one active, two pending")

	m.Remove(second)
	if pending, _ := m.Counts(); pending != 1 {
		t.Fatalf("pending = %d after removal, want 1", pending)
	}
	close(release)
	waitIdle(t, m)

	if _, err := os.Stat(filepath.Join(dest, "second.bin")); !os.IsNotExist(err) {
		t.Fatal("removed item must not download")
	}
	if log.last("first.bin") != "Completed" || log.last("third.bin") != "Completed" {
		t.Fatalf("remaining items: first=%q third=%q", log.last("first.bin"), log.last("third.bin"))
	}
	if log.last("second.bin") != "Queued" {
		t.Fatalf("removed item last status = %q, want Queued", log.last("second.bin"))
	}
}

func TestWaitIdleContextExpiry(t *testing.T) {
	content := testContent(4 * 1024)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			select {
			case <-release:
			case <-r.Context().Done():
				return
			}
		}
		http.ServeContent(w, r, "file.bin", time.Unix(1700000000, 0), bytes.NewReader(content))
	}))
	t.Cleanup(srv.Close)

	pool := NewPool(2)
	defer pool.Close()
	log := newStatusLog()
	m := NewManager(pool, testCfg(), 1, log.callback)
	m.Enqueue(NewItem("held.bin", srv.URL+"/held.bin", t.TempDir()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if m.WaitIdle(ctx) {
		t.Fatal("WaitIdle reported drained while a download was held")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("WaitIdle took %v to give up after context expiry", elapsed)
	}

	close(release)
	waitIdle(t, m)
	if log.last("held.bin") != "Completed" {
		t.Fatalf("held.bin ended as %q", log.last("held.bin"))
	}
}

func streamingServer(t *testing.T, content []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(content)))
		if r.Method == http.MethodHead {
			return
		}
		flusher := w.(http.Flusher)
		for i := 0; i < len(content); i += 8 * 1024 {
			end := min(i+8*1024, len(content))
			if _, err := w.Write(content[i:end]); err != nil {
				return
			}
			flusher.Flush()
			time.Sleep(5 * time.Millisecond)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCancelActiveItem(t *testing.T) {
	content := testContent(256 * 1024)
	srv := streamingServer(t, content)
	dest := t.TempDir()

	pool := NewPool(2)
	defer pool.Close()
	log := newStatusLog()
	m := NewManager(pool, testCfg(), 1, log.callback)

	it := NewItem("big.bin", srv.URL+"/big.bin", dest)
	m.Enqueue(it)
	eventually(t, func() bool { return log.saw("big.bin", "Downloading") }, "download never started")

	m.Cancel(it)
	waitIdle(t, m)

	if log.last("big.bin") != "Cancelled" {
		t.Fatalf("last status = %q, want Cancelled", log.last("big.bin"))
	}
	if _, err := os.Stat(filepath.Join(dest, "big.bin")); !os.IsNotExist(err) {
		t.Fatal("cancelled item must not produce a final file")
	}
	if _, err := os.Stat(filepath.Join(dest, "big.bin.part")); err != nil {
		t.Fatal("cancelled item should keep its partial file for resume")
	}
}

func TestPauseResumeThroughManager(t *testing.T) {
	content := testContent(128 * 1024)
	srv := streamingServer(t, content)
	dest := t.TempDir()

	pool := NewPool(2)
	defer pool.Close()
	log := newStatusLog()
	var m *Manager
	var pauseOnce sync.Once
	var target *Item
	m = NewManager(pool, testCfg(), 1, func(it *Item, done, total int64, speed, eta float64, status string) {
		log.callback(it, done, total, speed, eta, status)
		if status == "Downloading" && done > 16*1024 {
			pauseOnce.Do(func() {
				m.Pause(target)
				go func() {
					time.Sleep(100 * time.Millisecond)
					m.Resume(target)
				}()
			})
		}
	})

	target = NewItem("paused.bin", srv.URL+"/paused.bin", dest)
	m.Enqueue(target)
	waitIdle(t, m)

	if !log.saw("paused.bin", "Paused") {
		t.Fatal("item never reported Paused")
	}
	if log.last("paused.bin") != "Completed" {
		t.Fatalf("last status = %q, want Completed", log.last("paused.bin"))
	}
	data, err := os.ReadFile(filepath.Join(dest, "paused.bin"))
	if err != nil || !bytes.Equal(data, content) {
		t.Fatalf("resumed content differs: len=%d err=%v", len(data), err)
	}
}

func TestExtractionChainsAfterDownload(t *testing.T) {
	var zipBuf bytes.Buffer
	zw := zip.NewWriter(&zipBuf)
	w, err := zw.Create("inner/game.rom")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("rom payload"))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "bundle.zip", time.Unix(1700000000, 0), bytes.NewReader(zipBuf.Bytes()))
	}))
	t.Cleanup(srv.Close)
	dest := t.TempDir()

	pool := NewPool(2)
	defer pool.Close()
	log := newStatusLog()
	m := NewManager(pool, testCfg(), 1, log.callback)

	it := NewItem("bundle.zip", srv.URL+"/bundle.zip", dest)
	it.ExtractAfter = true
	it.DeleteArchive = true
	m.Enqueue(it)
	waitIdle(t, m)

	if !log.saw("bundle.zip", "Preparing extraction") {
		t.Fatal("extraction never prepared")
	}
	if log.last("bundle.zip") != "Extraction complete" {
		t.Fatalf("last status = %q, want Extraction complete", log.last("bundle.zip"))
	}
	data, err := os.ReadFile(filepath.Join(dest, "inner", "game.rom"))
	if err != nil || string(data) != "rom payload" {
		t.Fatalf("extracted file wrong: %q err=%v", data, err)
	}
	if _, err := os.Stat(filepath.Join(dest, "bundle.zip")); !os.IsNotExist(err) {
		t.Fatal("archive should be deleted after successful extraction")
	}
}

func TestExtractionFailureKeepsArchive(t *testing.T) {
	notAnArchive := []byte("plain text payload, no archive signature")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "broken.zip", time.Unix(1700000000, 0), bytes.NewReader(notAnArchive))
	}))
	t.Cleanup(srv.Close)
	dest := t.TempDir()

	pool := NewPool(2)
	defer pool.Close()
	log := newStatusLog()
	m := NewManager(pool, testCfg(), 1, log.callback)

	it := NewItem("broken.zip", srv.URL+"/broken.zip", dest)
	it.ExtractAfter = true
	it.DeleteArchive = true
	m.Enqueue(it)
	waitIdle(t, m)

	last := log.last("broken.zip")
	if len(last) < len("Extraction failed: ") || last[:len("Extraction failed: ")] != "Extraction failed: " {
		t.Fatalf("last status = %q, want an extraction failure", last)
	}
	if _, err := os.Stat(filepath.Join(dest, "broken.zip")); err != nil {
		t.Fatal("archive must be kept when extraction fails")
	}
}
