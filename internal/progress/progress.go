package progress

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Reporter receives transfer progress from the executor and backup code
type Reporter interface {
	// Phase announces the start of a sync phase with its item count
	Phase(name string, items int)
	// Start begins tracking a new file transfer
	Start(path string, totalBytes int64)
	// Update reports bytes transferred so far for the current file
	Update(bytesTransferred int64)
	// Complete marks the current transfer as complete
	Complete()
	// Error reports an error on the current item
	Error(err error)
	// SetTotal sets the number of files and bytes the run will copy
	SetTotal(totalFiles int, totalBytes int64)
}

// Callback is a function that receives progress updates
type Callback func(update Update)

// Update represents a progress update
type Update struct {
	Type           UpdateType
	Phase          string
	PhaseItems     int
	CurrentFile    string
	CurrentBytes   int64
	CurrentTotal   int64
	FilesCompleted int
	FilesTotal     int
	BytesCompleted int64
	BytesTotal     int64
	BytesPerSecond float64
	Error          error
}

// UpdateType indicates the type of progress update
type UpdateType int

const (
	UpdatePhase UpdateType = iota
	UpdateStart
	UpdateProgress
	UpdateComplete
	UpdateError
)

// CallbackReporter implements Reporter with a callback function.
// The callback is invoked outside the reporter's lock.
type CallbackReporter struct {
	callback       Callback
	mu             sync.Mutex
	phase          string
	currentFile    string
	currentTotal   int64
	filesTotal     int
	bytesTotal     int64
	filesCompleted int
	bytesCompleted int64
	startTime      time.Time
	now            func() time.Time
}

// NewCallbackReporter creates a new CallbackReporter
func NewCallbackReporter(callback Callback) *CallbackReporter {
	return &CallbackReporter{
		callback: callback,
		now:      time.Now,
	}
}

// SetTotal sets the total number of files and bytes to copy
func (r *CallbackReporter) SetTotal(totalFiles int, totalBytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filesTotal = totalFiles
	r.bytesTotal = totalBytes
}

// Phase announces a new phase
func (r *CallbackReporter) Phase(name string, items int) {
	r.mu.Lock()
	r.phase = name
	update := r.snapshot(UpdatePhase)
	update.PhaseItems = items
	r.mu.Unlock()

	r.emit(update)
}

// Start begins tracking a new file transfer
func (r *CallbackReporter) Start(path string, totalBytes int64) {
	r.mu.Lock()
	r.currentFile = path
	r.currentTotal = totalBytes
	r.startTime = r.now()
	update := r.snapshot(UpdateStart)
	r.mu.Unlock()

	r.emit(update)
}

// Update reports progress on current transfer
func (r *CallbackReporter) Update(bytesTransferred int64) {
	r.mu.Lock()
	update := r.snapshot(UpdateProgress)
	update.CurrentBytes = bytesTransferred
	update.BytesCompleted = r.bytesCompleted + bytesTransferred
	if elapsed := r.now().Sub(r.startTime).Seconds(); elapsed > 0 {
		update.BytesPerSecond = float64(bytesTransferred) / elapsed
	}
	r.mu.Unlock()

	r.emit(update)
}

// Complete marks the current transfer as complete
func (r *CallbackReporter) Complete() {
	r.mu.Lock()
	r.filesCompleted++
	r.bytesCompleted += r.currentTotal
	update := r.snapshot(UpdateComplete)
	update.CurrentBytes = r.currentTotal
	if elapsed := r.now().Sub(r.startTime).Seconds(); elapsed > 0 {
		update.BytesPerSecond = float64(r.currentTotal) / elapsed
	}
	r.mu.Unlock()

	r.emit(update)
}

// Error reports an error on current transfer
func (r *CallbackReporter) Error(err error) {
	r.mu.Lock()
	update := r.snapshot(UpdateError)
	update.Error = err
	r.mu.Unlock()

	r.emit(update)
}

// snapshot must be called with r.mu held
func (r *CallbackReporter) snapshot(t UpdateType) Update {
	return Update{
		Type:           t,
		Phase:          r.phase,
		CurrentFile:    r.currentFile,
		CurrentTotal:   r.currentTotal,
		FilesCompleted: r.filesCompleted,
		FilesTotal:     r.filesTotal,
		BytesCompleted: r.bytesCompleted,
		BytesTotal:     r.bytesTotal,
	}
}

func (r *CallbackReporter) emit(u Update) {
	if r.callback != nil {
		r.callback(u)
	}
}

// SpeedMinBytes is the smallest transfer whose completion line shows a speed
const SpeedMinBytes = 1 << 20

// NewLineReporter returns a reporter that turns updates into the
// human readable lines published on a task stream. Byte-level updates
// are dropped; phase, start, completion and error lines are kept.
func NewLineReporter(notify func(string)) *CallbackReporter {
	return NewCallbackReporter(func(u Update) {
		if notify == nil {
			return
		}
		if msg := Message(u); msg != "" {
			notify(msg)
		}
	})
}

// Message renders an update as one progress line, or "" for updates
// that should not be shown.
func Message(u Update) string {
	switch u.Type {
	case UpdatePhase:
		return fmt.Sprintf("Phase %s: %d item(s)", u.Phase, u.PhaseItems)
	case UpdateStart:
		return fmt.Sprintf("Copying %s (%s)", u.CurrentFile, FormatBytes(u.CurrentTotal))
	case UpdateComplete:
		msg := "Copied " + u.CurrentFile
		if u.CurrentTotal >= SpeedMinBytes && u.BytesPerSecond > 0 {
			msg += " at " + FormatSpeed(u.BytesPerSecond)
		}
		if u.FilesTotal > 0 {
			msg += fmt.Sprintf(" [%d/%d]", u.FilesCompleted, u.FilesTotal)
		}
		return msg
	case UpdateError:
		if u.Error == nil {
			return ""
		}
		return "Warning: " + u.Error.Error()
	}
	return ""
}

// ProgressReader wraps an io.Reader to track read progress
type ProgressReader struct {
	reader      io.Reader
	reporter    Reporter
	transferred int64
}

// NewProgressReader creates a new progress-tracking reader
func NewProgressReader(r io.Reader, reporter Reporter) *ProgressReader {
	return &ProgressReader{
		reader:   r,
		reporter: reporter,
	}
}

// Read implements io.Reader
func (pr *ProgressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.transferred += int64(n)
		if pr.reporter != nil {
			pr.reporter.Update(pr.transferred)
		}
	}
	return n, err
}

// Transferred returns the number of bytes read so far
func (pr *ProgressReader) Transferred() int64 { return pr.transferred }

// NullReporter is a no-op reporter
type NullReporter struct{}

func (NullReporter) Phase(name string, items int)              {}
func (NullReporter) Start(path string, totalBytes int64)       {}
func (NullReporter) Update(bytesTransferred int64)             {}
func (NullReporter) Complete()                                 {}
func (NullReporter) Error(err error)                           {}
func (NullReporter) SetTotal(totalFiles int, totalBytes int64) {}

// FormatBytes formats bytes into human-readable string
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatSpeed formats bytes per second into human-readable string
func FormatSpeed(bytesPerSecond float64) string {
	return FormatBytes(int64(bytesPerSecond)) + "/s"
}

// FormatProgress returns a progress bar string
func FormatProgress(current, total int64, width int) string {
	if total == 0 {
		return ""
	}

	percent := float64(current) / float64(total)
	filled := int(percent * float64(width))
	if filled > width {
		filled = width
	}

	bar := make([]byte, width)
	for i := 0; i < width; i++ {
		if i < filled {
			bar[i] = '='
		} else if i == filled {
			bar[i] = '>'
		} else {
			bar[i] = ' '
		}
	}

	return fmt.Sprintf("[%s] %5.1f%%", string(bar), percent*100)
}
