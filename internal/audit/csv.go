// Package audit records addresses that could not be resolved.
package audit

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sync"
)

// Sink receives one row per failed or unmatched address.
type Sink interface {
	Append(address, query, reason string) error
}

// ErrClosed is returned when appending to a closed sink.
var ErrClosed = errors.New("audit sink is closed")

var header = []string{"address", "query", "reason"}

// CSVSink appends audit rows to a CSV file. Rows from earlier runs are preserved.
type CSVSink struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	writer *csv.Writer
}

// NewCSVSink opens path for appending, creating it if needed.
// The header row is written only when the file is new or empty.
func NewCSVSink(path string) (*CSVSink, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat audit file %s: %w", path, err)
	}

	sink := &CSVSink{path: path, file: file, writer: csv.NewWriter(file)}

	if info.Size() == 0 {
		if err = sink.write(header); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to write audit header: %w", err)
		}
	}

	return sink, nil
}

// Append writes one row and flushes it to disk.
func (s *CSVSink) Append(address, query, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return ErrClosed
	}

	if err := s.write([]string{address, query, reason}); err != nil {
		return fmt.Errorf("failed to append audit row: %w", err)
	}

	return nil
}

func (s *CSVSink) write(record []string) error {
	if err := s.writer.Write(record); err != nil {
		return err
	}
	s.writer.Flush()
	return s.writer.Error()
}

// Path returns the file the sink writes to.
func (s *CSVSink) Path() string {
	return s.path
}

// Close flushes and closes the underlying file. Closing twice is a no-op.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}

	s.writer.Flush()
	flushErr := s.writer.Error()
	closeErr := s.file.Close()
	s.file = nil

	return errors.Join(flushErr, closeErr)
}
