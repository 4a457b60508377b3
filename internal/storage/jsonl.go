package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"poolEngine/internal/model"
)

// JsonlSink appends operation records to a JSONL file.
type JsonlSink struct {
	path string
	mu   sync.Mutex
}

func NewJsonlSink(path string) *JsonlSink {
	return &JsonlSink{path: path}
}

// Path returns the output file.
func (s *JsonlSink) Path() string {
	return s.path
}

// PutOperations appends a batch of records as JSON lines.
func (s *JsonlSink) PutOperations(records []model.OperationRecord) error {
	if len(records) == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal operation record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write operation record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}

// ReadOperations streams records from a JSONL file to fn in file order.
// A missing file yields no records.
func ReadOperations(path string, fn func(model.OperationRecord) error) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open history: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	line := 0
	for {
		raw, err := reader.ReadBytes('\n')
		if len(raw) > 0 {
			line++
			var rec model.OperationRecord
			if uerr := json.Unmarshal(raw, &rec); uerr != nil {
				return fmt.Errorf("decode history line %d: %w", line, uerr)
			}
			if ferr := fn(rec); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read history: %w", err)
		}
	}
}
