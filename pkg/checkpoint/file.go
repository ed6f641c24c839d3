package checkpoint

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"epmcquery/pkg/logger"
)

// FileStore keeps the history as JSON lines, one checkpoint per line
type FileStore struct {
	mu     sync.Mutex
	path   string
	logger logger.Logger
}

// NewFileStore creates the history file and its directory if needed
func NewFileStore(path string, log logger.Logger) (*FileStore, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	file.Close()

	return &FileStore{path: path, logger: log}, nil
}

// Path returns the history file location
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Latest(ctx context.Context) (*Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	history, err := f.read()
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, nil
	}
	cp := latest(history)
	return &cp, nil
}

// Append writes one line and syncs it to disk before returning
func (f *FileStore) Append(ctx context.Context, cursor string, sequence int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	line, err := json.Marshal(Checkpoint{Cursor: cursor, Sequence: sequence, Time: now()})
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	line = append(line, '\n')

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint file: %w", err)
	}

	if err := f.dropTornTail(file); err != nil {
		file.Close()
		return err
	}

	if _, err := file.Write(line); err != nil {
		file.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	// Ensure data is written to disk
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	f.logger.DebugWithFields("checkpoint appended", map[string]interface{}{
		"sequence": sequence,
		"path":     f.path,
	})
	return nil
}

// dropTornTail truncates a trailing partial line left by a crash so the next
// line starts on a line boundary.
func (f *FileStore) dropTornTail(file *os.File) error {
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat checkpoint file: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	last := make([]byte, 1)
	if _, err := file.ReadAt(last, size-1); err != nil {
		return fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}

	data := make([]byte, size)
	if _, err := file.ReadAt(data, 0); err != nil {
		return fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	keep := int64(bytes.LastIndexByte(data, '\n') + 1)
	if err := file.Truncate(keep); err != nil {
		return fmt.Errorf("failed to truncate torn checkpoint line: %w", err)
	}

	f.logger.WarnWithFields("dropped torn checkpoint line", map[string]interface{}{
		"path":  f.path,
		"bytes": size - keep,
	})
	return nil
}

func (f *FileStore) History(ctx context.Context, limit int) ([]Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	history, err := f.read()
	if err != nil {
		return nil, err
	}
	return newestFirst(history, limit), nil
}

func (f *FileStore) Close() error { return nil }

// read parses every complete line. A trailing line without a newline is a
// torn write from a crash and is skipped; a bad line elsewhere is corruption.
func (f *FileStore) read() ([]Checkpoint, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	complete := data
	if i := bytes.LastIndexByte(data, '\n'); i < len(data)-1 {
		complete = data[:i+1]
		f.logger.WarnWithFields("ignoring torn checkpoint line", map[string]interface{}{
			"path":  f.path,
			"bytes": len(data) - i - 1,
		})
	}

	var history []Checkpoint
	scanner := bufio.NewScanner(bytes.NewReader(complete))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(line, &cp); err != nil {
			return nil, fmt.Errorf("corrupt checkpoint at %s:%d: %w", f.path, lineNo, err)
		}
		history = append(history, cp)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan checkpoint file: %w", err)
	}
	return history, nil
}
