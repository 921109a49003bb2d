// Package logging holds the gateway's durable log outputs: the JSON Lines
// access log on local disk and the S3 archive of the activity log.
package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// AccessEntry is one line of the access log. Headers and bodies are never
// recorded, so API keys and prompts stay out of it.
type AccessEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	IP         string    `json:"ip"`
	Status     int       `json:"status"`
	Bytes      int       `json:"bytes"`
	DurationMs int64     `json:"duration_ms"`
}

// AccessLogger implements asynchronous, buffered logging with rotation and periodic flush.
type AccessLogger struct {
	fileTemplate  string        // template for log file name e.g. "/var/log/ai-gateway/access-%s.jsonl"
	maxSize       int64         // maximum size in bytes before rotation
	maxFiles      int           // maximum number of rotated files to keep
	flushInterval time.Duration // flush the buffer every flushInterval if not empty

	mu          sync.Mutex
	currentFile string
	file        *os.File
	writer      *bufio.Writer
	currentSize int64

	logCh  chan AccessEntry
	doneCh chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// newFileName applies the current timestamp to fileTemplate. Nanoseconds
// keep names unique and sortable when rotating several times per second.
func (logger *AccessLogger) newFileName() string {
	return fmt.Sprintf(logger.fileTemplate, time.Now().UTC().Format("20060102150405.000000000"))
}

// openFile opens (or creates) the active log file and prepares the buffered
// writer, creating the directory when needed.
func (logger *AccessLogger) openFile() error {
	name := logger.newFileName()
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	logger.currentFile = name
	logger.currentSize = fi.Size()
	logger.file = file
	logger.writer = bufio.NewWriter(file)
	return nil
}

// rotateIfNeeded rotates when adding n bytes would exceed maxSize. Callers
// hold mu.
func (logger *AccessLogger) rotateIfNeeded(n int) (bool, error) {
	if logger.maxSize <= 0 || logger.currentSize == 0 || logger.currentSize+int64(n) < logger.maxSize {
		return false, nil
	}

	if err := logger.writer.Flush(); err != nil {
		return false, err
	}
	if err := logger.file.Close(); err != nil {
		return false, err
	}
	return true, logger.openFile()
}

// cleanupOldFiles removes the oldest rotated files if more than maxFiles exist.
func (logger *AccessLogger) cleanupOldFiles() error {
	if logger.maxFiles <= 0 {
		return nil
	}
	pattern := fmt.Sprintf(logger.fileTemplate, "*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}

	// The timestamp in the name sorts chronologically.
	sort.Strings(matches)

	excess := len(matches) - logger.maxFiles
	for i := 0; i < excess; i++ {
		if matches[i] == logger.currentFile {
			continue
		}
		_ = os.Remove(matches[i])
	}
	return nil
}

// run writes queued entries and flushes on a ticker.
func (logger *AccessLogger) run() {
	defer logger.wg.Done()
	ticker := time.NewTicker(logger.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-logger.logCh:
			logger.writeEntry(entry)
		case <-ticker.C:
			logger.mu.Lock()
			_ = logger.writer.Flush()
			logger.mu.Unlock()
		case <-logger.doneCh:
			for {
				select {
				case entry := <-logger.logCh:
					logger.writeEntry(entry)
				default:
					logger.mu.Lock()
					_ = logger.writer.Flush()
					_ = logger.file.Close()
					logger.mu.Unlock()
					return
				}
			}
		}
	}
}

func (logger *AccessLogger) writeEntry(entry AccessEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	logger.mu.Lock()
	defer logger.mu.Unlock()

	rotated, err := logger.rotateIfNeeded(len(data))
	if err != nil {
		fmt.Fprintf(os.Stderr, "access log rotation failed: %v\n", err)
		return
	}
	n, _ := logger.writer.Write(data)
	logger.currentSize += int64(n)

	if rotated {
		_ = logger.cleanupOldFiles()
	}
}

// Log queues an entry. If the queue is full, the entry is dropped.
func (logger *AccessLogger) Log(entry AccessEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	select {
	case logger.logCh <- entry:
	default:
	}
}

// CurrentFile returns the path of the active log file.
func (logger *AccessLogger) CurrentFile() string {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	return logger.currentFile
}

// Shutdown flushes the buffer and closes the file. Safe to call twice.
func (logger *AccessLogger) Shutdown() {
	logger.mu.Lock()
	if logger.closed {
		logger.mu.Unlock()
		return
	}
	logger.closed = true
	logger.mu.Unlock()

	close(logger.doneCh)
	logger.wg.Wait()
}

// NewAccessLogger creates a logger writing to files named by fileTemplate,
// which must contain one %s for the timestamp. bufferSize bounds the queue;
// entries beyond it are dropped.
func NewAccessLogger(fileTemplate string, maxSize int64, maxFiles, bufferSize int, flushInterval time.Duration) (*AccessLogger, error) {
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	if bufferSize <= 0 {
		bufferSize = 1
	}
	logger := &AccessLogger{
		fileTemplate:  fileTemplate,
		maxSize:       maxSize,
		maxFiles:      maxFiles,
		flushInterval: flushInterval,
		logCh:         make(chan AccessEntry, bufferSize),
		doneCh:        make(chan struct{}),
	}

	if err := logger.openFile(); err != nil {
		return nil, err
	}

	logger.wg.Add(1)
	go logger.run()

	return logger, nil
}
