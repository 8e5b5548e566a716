package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const dateLayout = "2006-01-02"

// DailyFileWriter is an io.Writer appending to {service}_{date}.log in a
// directory and switching files when the date changes. A background goroutine
// also checks hourly so idle services still rotate. Safe for concurrent use.
type DailyFileWriter struct {
	service  string
	dir      string
	mu       sync.Mutex
	file     *os.File
	currDate string
	now      func() time.Time
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   atomic.Bool
}

// NewDailyFileWriter opens today's file in logDir. The directory must exist.
//
// Parameters:
//   - service: Service name used in file names
//   - logDir: Directory for log files
//
// Returns:
//   - The writer, or an error if the first file could not be opened
func NewDailyFileWriter(service string, logDir string) (*DailyFileWriter, error) {
	return newDailyFileWriter(service, logDir, time.Now)
}

func newDailyFileWriter(service string, logDir string, now func() time.Time) (*DailyFileWriter, error) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &DailyFileWriter{service: service, dir: logDir, now: now, cancel: cancel}

	w.mu.Lock()
	err := w.rotateLocked()
	w.mu.Unlock()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("initial rotation failed: %w", err)
	}

	w.wg.Add(1)
	go w.autoRotate(ctx)
	return w, nil
}

// Write implements io.Writer.
func (w *DailyFileWriter) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, fmt.Errorf("writer is closed")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil || w.now().Format(dateLayout) != w.currDate {
		if err := w.rotateLocked(); err != nil {
			return 0, fmt.Errorf("rotation failed: %w", err)
		}
	}

	return w.file.Write(p)
}

// CurrentLogFile returns the path being written, or "" when closed.
func (w *DailyFileWriter) CurrentLogFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ""
	}

	return w.path(w.currDate)
}

// Close stops the rotator and closes the current file. It is safe to call
// multiple times.
func (w *DailyFileWriter) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}

	w.cancel()
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}

	err := w.file.Close()
	w.file = nil
	return err
}

func (w *DailyFileWriter) autoRotate(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			if w.now().Format(dateLayout) != w.currDate {
				_ = w.rotateLocked()
			}
			w.mu.Unlock()
		}
	}
}

// rotateLocked opens the file for the current date; caller holds w.mu.
func (w *DailyFileWriter) rotateLocked() error {
	date := w.now().Format(dateLayout)
	file, err := os.OpenFile(w.path(date), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	if w.file != nil {
		_ = w.file.Close()
	}

	w.file = file
	w.currDate = date
	return nil
}

func (w *DailyFileWriter) path(date string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s_%s.log", w.service, date))
}
