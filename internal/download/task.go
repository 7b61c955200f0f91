package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"romdl/utils"
)

// Progress receives byte counters, throughput and the current status token.
// It is invoked from the worker goroutine running the task; the consumer is
// responsible for marshalling onto its own execution context.
type Progress func(done, total int64, speed, eta float64, status Status)

// Task downloads a single URL into destDir/SafeFilename(fileName), resuming
// from an existing .part file when possible. Pause and cancel are
// cooperative and observed at chunk boundaries.
type Task struct {
	url          string
	destDir      string
	fileName     string
	expectedHash string
	cfg          Config
	client       Doer
	progress     Progress
	limiter      *rate.Limiter
	log          zerolog.Logger

	cancelled atomic.Bool
	mu        sync.Mutex
	cond      *sync.Cond
	paused    bool
}

func NewTask(cfg Config, url, destDir, fileName, expectedHash string, progress Progress) *Task {
	cfg = cfg.withDefaults()
	t := &Task{
		url:          url,
		destDir:      destDir,
		fileName:     fileName,
		expectedHash: expectedHash,
		cfg:          cfg,
		client:       NewClient(cfg),
		progress:     progress,
		log:          utils.GetLogger("download"),
	}
	if cfg.RateLimit > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.ChunkSize))
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Pause closes the gate; the transfer halts at the next chunk boundary
// without busy-waiting.
func (t *Task) Pause() {
	t.mu.Lock()
	t.paused = true
	t.mu.Unlock()
}

func (t *Task) Resume() {
	t.mu.Lock()
	t.paused = false
	t.mu.Unlock()
	t.cond.Broadcast()
}

// Cancel requests a cooperative stop. The .part file is left on disk for a
// future resume. Cancel also releases the pause gate so a paused task can
// observe it.
func (t *Task) Cancel() {
	t.mu.Lock()
	t.cancelled.Store(true)
	t.mu.Unlock()
	t.cond.Broadcast()
}

// Run executes the transfer and returns the final file path on success.
// Transient network failures are retried with backoff up to the attempt
// budget; HTTP status failures are fatal immediately.
func (t *Task) Run() (string, error) {
	t.emit(0, 0, 0, math.Inf(1), StatusConnecting)
	if err := os.MkdirAll(t.destDir, 0755); err != nil {
		t.emit(0, 0, 0, math.Inf(1), ErrorStatus(err.Error()))
		return "", fmt.Errorf("error creating destination directory: %w", err)
	}
	finalPath := filepath.Join(t.destDir, utils.SafeFilename(t.fileName))
	partPath := finalPath + ".part"

	offset := partSize(partPath)
	total, offset := t.probeTotal(partPath, offset)
	if offset > 0 {
		t.log.Debug().Str("file", filepath.Base(partPath)).Int64("offset", offset).Msg("Resuming incomplete download")
	}

	var lastErr error
	for attempt := 1; attempt <= t.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(t.backoff(attempt - 1))
		}
		if t.cancelled.Load() {
			t.emit(partSize(partPath), total, 0, math.Inf(1), StatusCancelled)
			return "", ErrCancelled
		}
		offset = partSize(partPath)

		done, newTotal, err := t.attempt(partPath, offset, total)
		if newTotal > 0 {
			total = newTotal
		}
		switch {
		case err == nil:
			return t.finalize(partPath, finalPath, done, total)
		case errors.Is(err, ErrCancelled):
			t.emit(done, total, 0, math.Inf(1), StatusCancelled)
			return "", ErrCancelled
		case errors.Is(err, errRangeNotSatisfiable):
			// Stale partial: the server can no longer satisfy the range.
			// Restart from zero on the next attempt.
			os.Remove(partPath)
			total, _ = t.probeTotal(partPath, 0)
			lastErr = err
		default:
			var httpErr *HTTPError
			if errors.As(err, &httpErr) {
				t.emit(done, total, 0, math.Inf(1), ErrorStatus(httpErr.Error()))
				return "", httpErr
			}
			lastErr = err
			t.log.Warn().Err(err).Int("attempt", attempt).Str("url", t.url).Msg("Transfer attempt failed")
		}
	}

	err := &NetworkError{Attempts: t.cfg.MaxAttempts, Err: lastErr}
	t.emit(partSize(partPath), total, 0, math.Inf(1), ErrorStatus(err.Error()))
	return "", err
}

// attempt runs one full GET cycle against the current .part offset. It
// returns the bytes on disk so far and the best-known total.
func (t *Task) attempt(partPath string, offset, knownTotal int64) (int64, int64, error) {
	total := knownTotal
	req, err := http.NewRequest(http.MethodGet, t.url, nil)
	if err != nil {
		return offset, total, err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return offset, total, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0 {
		return offset, total, errRangeNotSatisfiable
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return offset, total, &HTTPError{Code: resp.StatusCode}
	}

	// A 200 to a ranged request means the server ignored the range: the body
	// is the whole file, so truncate instead of appending.
	appendMode := offset > 0 && resp.StatusCode == http.StatusPartialContent
	if !appendMode {
		offset = 0
	}

	if cl := resp.ContentLength; cl >= 0 {
		if appendMode {
			if total == 0 {
				total = cl + offset
			}
		} else {
			total = cl
		}
	}
	if appendMode {
		if full, ok := contentRangeTotal(resp.Header.Get("Content-Range")); ok {
			total = full
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(partPath, flags, 0644)
	if err != nil {
		return offset, total, err
	}
	defer out.Close()

	done := offset
	buf := make([]byte, t.cfg.ChunkSize)
	tracker := newSpeedTracker(done)
	// The transport's ResponseHeaderTimeout only bounds the wait for headers.
	// Each body read is bounded here: when no data arrives within the read
	// timeout the body is closed out from under the blocked Read, which then
	// fails like any other transport error and gets retried.
	var stalled atomic.Bool
	watchdog := time.AfterFunc(t.cfg.ReadTimeout, func() {
		stalled.Store(true)
		resp.Body.Close()
	})
	defer watchdog.Stop()
	for {
		if t.cancelled.Load() {
			return done, total, ErrCancelled
		}
		watchdog.Stop()
		t.waitWhilePaused(done, total)
		if t.cancelled.Load() {
			return done, total, ErrCancelled
		}
		if t.limiter != nil {
			_ = t.limiter.WaitN(context.Background(), int(t.cfg.ChunkSize))
		}
		watchdog.Reset(t.cfg.ReadTimeout)
		n, rerr := resp.Body.Read(buf)
		watchdog.Stop()
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return done, total, werr
			}
			done += int64(n)
			speed, eta := tracker.sample(done, total)
			t.emit(done, total, speed, eta, StatusDownloading)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if stalled.Load() {
				return done, total, fmt.Errorf("no data received for %v", t.cfg.ReadTimeout)
			}
			return done, total, rerr
		}
	}
	return done, total, nil
}

func (t *Task) finalize(partPath, finalPath string, done, total int64) (string, error) {
	if _, err := os.Stat(finalPath); err == nil {
		os.Remove(finalPath)
	}
	if err := os.Rename(partPath, finalPath); err != nil {
		t.emit(done, total, 0, math.Inf(1), ErrorStatus(err.Error()))
		return "", fmt.Errorf("error finalizing output file: %w", err)
	}
	status := StatusCompleted
	if t.expectedHash != "" {
		t.emit(done, total, 0, 0, StatusVerifying)
		ok, err := VerifyFile(finalPath, t.expectedHash)
		if err != nil || !ok {
			// Mismatch keeps the file; the caller decides what to do with it.
			status = StatusIntegrityKO
		} else {
			status = StatusIntegrityOK
		}
	}
	t.emit(done, total, 0, 0, status)
	t.log.Debug().Str("file", filepath.Base(finalPath)).Int64("bytes", done).Str("status", string(status)).Msg("Download finished")
	return finalPath, nil
}

// probeTotal issues a HEAD request to learn the total size up front. A 416
// for a non-zero offset means the partial file is stale and is discarded.
// Probe failures are not fatal; the GET fixes the total up later.
func (t *Task) probeTotal(partPath string, offset int64) (int64, int64) {
	head := func(withRange bool) *http.Response {
		req, err := http.NewRequest(http.MethodHead, t.url, nil)
		if err != nil {
			return nil
		}
		if withRange && offset > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		}
		resp, err := t.client.Do(req)
		if err != nil {
			return nil
		}
		resp.Body.Close()
		return resp
	}

	resp := head(true)
	if resp == nil {
		return 0, offset
	}
	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0 {
		os.Remove(partPath)
		offset = 0
		if resp = head(false); resp == nil {
			return 0, 0
		}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, offset
	}
	total := int64(0)
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}
	if resp.StatusCode == http.StatusPartialContent {
		if full, ok := contentRangeTotal(resp.Header.Get("Content-Range")); ok {
			total = full
		} else if total > 0 {
			total += offset
		}
	}
	return total, offset
}

func (t *Task) waitWhilePaused(done, total int64) {
	t.mu.Lock()
	if !t.paused {
		t.mu.Unlock()
		return
	}
	t.emit(done, total, 0, math.Inf(1), StatusPaused)
	for t.paused && !t.cancelled.Load() {
		t.cond.Wait()
	}
	cancelled := t.cancelled.Load()
	t.mu.Unlock()
	if !cancelled {
		t.emit(done, total, 0, math.Inf(1), StatusDownloading)
	}
}

func (t *Task) backoff(failed int) time.Duration {
	d := time.Duration(failed) * t.cfg.BackoffStep
	if d > t.cfg.BackoffCap {
		d = t.cfg.BackoffCap
	}
	return d
}

func (t *Task) emit(done, total int64, speed, eta float64, status Status) {
	if t.progress != nil {
		t.progress(done, total, speed, eta, status)
	}
}

func partSize(partPath string) int64 {
	if info, err := os.Stat(partPath); err == nil {
		return info.Size()
	}
	return 0
}

func contentRangeTotal(header string) (int64, bool) {
	i := strings.LastIndex(header, "/")
	if i < 0 {
		return 0, false
	}
	v, err := strconv.ParseInt(header[i+1:], 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// speedTracker recomputes throughput and ETA at most every half second of
// wall time.
type speedTracker struct {
	lastTime  time.Time
	lastBytes int64
	speed     float64
	eta       float64
}

func newSpeedTracker(start int64) *speedTracker {
	return &speedTracker{lastTime: time.Now(), lastBytes: start, eta: math.Inf(1)}
}

func (s *speedTracker) sample(done, total int64) (float64, float64) {
	now := time.Now()
	dt := now.Sub(s.lastTime).Seconds()
	if dt >= 0.5 {
		s.speed = float64(done-s.lastBytes) / dt
		s.lastTime = now
		s.lastBytes = done
		if total > 0 && done <= total && s.speed > 0 {
			s.eta = float64(total-done) / s.speed
		}
	}
	return s.speed, s.eta
}
