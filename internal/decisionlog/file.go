package decisionlog

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	archivePrefix     = "decisions-"
	archiveSuffix     = ".jsonl.gz"
	archiveTimeLayout = "20060102T150405.000000000Z"
)

// FileOptions configures a FileSink.
type FileOptions struct {
	Path        string // active JSONL file
	MaxBytes    int64  // rotate before exceeding this size; 0 disables rotation
	ArchiveDir  string // defaults to the directory of Path
	MaxArchives int    // 0 keeps every archive
}

// FileSink appends records as JSON lines and rotates the file into
// gzip-compressed archives when it grows past MaxBytes.
type FileSink struct {
	mu     sync.Mutex
	opts   FileOptions
	f      *os.File
	size   int64
	logger *slog.Logger
	now    func() time.Time
}

// NewFileSink opens (or creates) the active file in append mode.
func NewFileSink(opts FileOptions, logger *slog.Logger) (*FileSink, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("decisionlog: file path is required")
	}
	if opts.ArchiveDir == "" {
		opts.ArchiveDir = filepath.Dir(opts.Path)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o750); err != nil {
		return nil, fmt.Errorf("decisionlog: create dir: %w", err)
	}

	s := &FileSink{opts: opts, logger: logger.With("component", "decisionlog", "sink", "file"), now: time.Now}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSink) open() error {
	f, err := os.OpenFile(s.opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("decisionlog: open %s: %w", s.opts.Path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("decisionlog: stat %s: %w", s.opts.Path, err)
	}
	s.f = f
	s.size = info.Size()
	return nil
}

// Write appends rec as one JSON line.
func (s *FileSink) Write(_ context.Context, rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("decisionlog: marshal record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return fmt.Errorf("decisionlog: file sink closed")
	}
	if s.opts.MaxBytes > 0 && s.size > 0 && s.size+int64(len(line)) > s.opts.MaxBytes {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	n, err := s.f.Write(line)
	s.size += int64(n)
	if err != nil {
		return fmt.Errorf("decisionlog: write: %w", err)
	}
	return nil
}

// rotate compresses the active file into the archive dir and truncates it.
// Caller holds s.mu.
func (s *FileSink) rotate() error {
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("decisionlog: close for rotation: %w", err)
	}
	s.f = nil

	name := archivePrefix + s.now().UTC().Format(archiveTimeLayout) + archiveSuffix
	archive := filepath.Join(s.opts.ArchiveDir, name)
	if err := compressFile(s.opts.Path, archive); err != nil {
		// The uncompressed file stays active.
		if reopenErr := s.open(); reopenErr != nil {
			return reopenErr
		}
		return err
	}

	if err := os.Truncate(s.opts.Path, 0); err != nil {
		return fmt.Errorf("decisionlog: truncate: %w", err)
	}
	if err := s.open(); err != nil {
		return err
	}
	s.logger.Info("decision log rotated", "archive", archive)

	if s.opts.MaxArchives > 0 {
		if err := s.trimArchives(); err != nil {
			s.logger.Warn("failed to trim archives", "error", err)
		}
	}
	return nil
}

func compressFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("decisionlog: create archive dir: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("decisionlog: open for archive: %w", err)
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("decisionlog: create archive: %w", err)
	}
	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("decisionlog: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("decisionlog: compress: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("decisionlog: close archive: %w", err)
	}
	return os.Rename(tmp, dst)
}

// Archives returns the archive files, oldest first.
func (s *FileSink) Archives() ([]string, error) {
	entries, err := os.ReadDir(s.opts.ArchiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("decisionlog: list archives: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !isArchive(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(s.opts.ArchiveDir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func isArchive(name string) bool {
	return strings.HasPrefix(name, archivePrefix) && strings.HasSuffix(name, archiveSuffix)
}

func archiveTime(path string) (time.Time, bool) {
	name := filepath.Base(path)
	ts := strings.TrimSuffix(strings.TrimPrefix(name, archivePrefix), archiveSuffix)
	t, err := time.Parse(archiveTimeLayout, ts)
	return t, err == nil
}

func (s *FileSink) trimArchives() error {
	archives, err := s.Archives()
	if err != nil {
		return err
	}
	for len(archives) > s.opts.MaxArchives {
		if err := os.Remove(archives[0]); err != nil {
			return fmt.Errorf("decisionlog: remove archive: %w", err)
		}
		archives = archives[1:]
	}
	return nil
}

// PruneArchives removes archives created before the cutoff.
func (s *FileSink) PruneArchives(before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	archives, err := s.Archives()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, a := range archives {
		t, ok := archiveTime(a)
		if !ok {
			info, err := os.Stat(a)
			if err != nil {
				continue
			}
			t = info.ModTime()
		}
		if !t.Before(before) {
			continue
		}
		if err := os.Remove(a); err != nil {
			return removed, fmt.Errorf("decisionlog: remove archive: %w", err)
		}
		removed++
	}
	return removed, nil
}

// Prune implements Pruner.
func (s *FileSink) Prune(_ context.Context, before time.Time) (int64, error) {
	n, err := s.PruneArchives(before)
	return int64(n), err
}

// Close flushes and closes the active file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
