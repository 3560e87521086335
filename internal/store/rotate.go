package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hermesrelay/hermes/internal/models"
)

func (s *Store) openLogFile() error {
	f, err := os.OpenFile(s.logPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: open notifications.log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("store: stat notifications.log: %w", err)
	}
	s.logFile = f
	s.logSize = info.Size()
	return nil
}

func (s *Store) backupPath(n int) string {
	return fmt.Sprintf("%s.%d", s.logPath(), n)
}

// rollover mirrors logging.handlers.RotatingFileHandler's doRollover: shift
// every numbered backup up by one (dropping the oldest past backupCount),
// move the current file to .1, and start a fresh empty log file.
func (s *Store) rollover() error {
	if s.logFile != nil {
		if err := s.logFile.Close(); err != nil {
			return fmt.Errorf("store: close log before rollover: %w", err)
		}
		s.logFile = nil
	}

	for n := s.backupCount - 1; n >= 1; n-- {
		src := s.backupPath(n)
		dst := s.backupPath(n + 1)
		if _, err := os.Stat(src); err == nil {
			os.Remove(dst)
			if err := os.Rename(src, dst); err != nil {
				return fmt.Errorf("store: rotate backup %d: %w", n, err)
			}
		}
	}

	if _, err := os.Stat(s.logPath()); err == nil {
		dst := s.backupPath(1)
		os.Remove(dst)
		if err := os.Rename(s.logPath(), dst); err != nil {
			return fmt.Errorf("store: rotate current log: %w", err)
		}
	}

	return s.openLogFile()
}

// AppendLog writes one compact JSON line to the rotating log, rotating
// first if the new line would push the file past the configured threshold.
// I/O failures here are logged and swallowed: a broken delivery log must
// never abort a dispatch.
func (s *Store) AppendLog(_ context.Context, entry models.LogEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		s.log.Error("encode log entry", zap.Error(err))
		return
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.logSize > 0 && s.logSize+int64(len(line)) > s.maxBytes {
		if err := s.rollover(); err != nil {
			s.log.Error("rotate notifications.log", zap.Error(err))
			return
		}
	}

	n, err := s.logFile.Write(line)
	if err != nil {
		s.log.Error("write notifications.log", zap.Error(err))
		return
	}
	s.logSize += int64(n)
}

// ReadLogs scans the current log plus its rotated backups newest-first
// (current file, then .1, .2, ... up to backupCount), each file read in
// reverse line order, applying the optional filters, stopping once limit
// entries have been collected. Malformed lines are skipped silently.
func (s *Store) ReadLogs(_ context.Context, limit int, eventType *models.EventType, clientID *string) ([]models.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	var out []models.LogEntry
	paths := append([]string{s.logPath()}, s.backupPaths()...)

	for _, p := range paths {
		if len(out) >= limit {
			break
		}
		lines, err := readLinesReversed(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return out, fmt.Errorf("store: read %s: %w", p, err)
		}
		for _, line := range lines {
			if len(out) >= limit {
				break
			}
			var entry models.LogEntry
			if err := json.Unmarshal(line, &entry); err != nil {
				continue
			}
			if eventType != nil && entry.EventType != *eventType {
				continue
			}
			if clientID != nil && entry.ClientID != *clientID {
				continue
			}
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *Store) backupPaths() []string {
	paths := make([]string, 0, s.backupCount)
	for n := 1; n <= s.backupCount; n++ {
		paths = append(paths, s.backupPath(n))
	}
	return paths
}

// readLinesReversed reads every line of path and returns them newest-last
// line first (i.e. the file's last line first).
func readLinesReversed(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}
