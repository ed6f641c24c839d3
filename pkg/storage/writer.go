package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"epmcquery/pkg/europepmc"
	"epmcquery/pkg/logger"
)

const (
	DefaultPadWidth   = 7
	DefaultShardDepth = 4
	DefaultIndent     = 4
)

// Document is the on-disk shape of one page
type Document struct {
	// Cursor is the cursor that produced the page; nil for the first page
	Cursor  *string                     `json:"cursor"`
	Results []europepmc.ProjectedRecord `json:"results"`
}

// Options configures a ShardedWriter
type Options struct {
	PadWidth   int
	ShardDepth int
	// Indent is the number of spaces per level; 0 writes compact JSON
	Indent int
}

// ShardedWriter persists pages under a base directory
type ShardedWriter struct {
	baseDir string
	opts    Options
	logger  logger.Logger

	mu      sync.Mutex
	written int
}

// NewShardedWriter creates baseDir if needed
func NewShardedWriter(baseDir string, opts Options, log logger.Logger) (*ShardedWriter, error) {
	if opts.PadWidth <= 0 {
		opts.PadWidth = DefaultPadWidth
	}
	if opts.ShardDepth < 0 {
		return nil, fmt.Errorf("shard depth must not be negative: %d", opts.ShardDepth)
	}
	if opts.ShardDepth > opts.PadWidth {
		return nil, fmt.Errorf("shard depth %d exceeds pad width %d", opts.ShardDepth, opts.PadWidth)
	}
	if opts.Indent < 0 {
		opts.Indent = 0
	}
	if log == nil {
		log = logger.GetLogger()
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	return &ShardedWriter{
		baseDir: baseDir,
		opts:    opts,
		logger:  log.WithField("component", "writer"),
	}, nil
}

// Pad zero-pads sequence to width digits
func Pad(sequence, width int) string {
	return fmt.Sprintf("%0*d", width, sequence)
}

// ShardPath returns the relative shard directory for sequence: the padded
// number reversed, its first depth digits as nested directories.
func ShardPath(sequence, width, depth int) string {
	padded := []rune(Pad(sequence, width))
	for i, j := 0, len(padded)-1; i < j; i, j = i+1, j-1 {
		padded[i], padded[j] = padded[j], padded[i]
	}
	if depth > len(padded) {
		depth = len(padded)
	}

	parts := make([]string, depth)
	for i := 0; i < depth; i++ {
		parts[i] = string(padded[i])
	}
	return filepath.Join(parts...)
}

// FileName returns the document name for sequence
func FileName(sequence, width int) string {
	return "results." + Pad(sequence, width) + ".json"
}

// DocumentPath returns where the document for sequence lives below baseDir
func DocumentPath(baseDir string, sequence, width, depth int) string {
	return filepath.Join(baseDir, ShardPath(sequence, width, depth), FileName(sequence, width))
}

// PathFor returns the document path for sequence
func (w *ShardedWriter) PathFor(sequence int) string {
	return DocumentPath(w.baseDir, sequence, w.opts.PadWidth, w.opts.ShardDepth)
}

// Exists reports whether a document for sequence is already on disk
func (w *ShardedWriter) Exists(sequence int) bool {
	_, err := os.Stat(w.PathFor(sequence))
	return err == nil
}

// Write stores one page and returns its path. An existing document for the
// same sequence is replaced.
func (w *ShardedWriter) Write(sequence int, cursor string, records []europepmc.ProjectedRecord) (string, error) {
	if sequence < 1 {
		return "", fmt.Errorf("invalid sequence number %d", sequence)
	}

	doc := Document{Results: records}
	if doc.Results == nil {
		doc.Results = []europepmc.ProjectedRecord{}
	}
	if cursor != "" {
		doc.Cursor = &cursor
	}

	content, err := w.encode(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode page %d: %w", sequence, err)
	}

	filename := w.PathFor(sequence)
	if w.Exists(sequence) {
		// A run that stopped before its checkpoint landed left this page behind
		w.logger.InfoWithFields("replacing existing document", map[string]interface{}{
			"sequence": sequence,
			"path":     filename,
		})
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return "", fmt.Errorf("failed to create shard directory: %w", err)
	}

	tempFile := filename + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}

	_, err = out.Write(content)
	if err == nil {
		err = out.Sync()
	}
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		return "", fmt.Errorf("failed to write page %d: %w", sequence, err)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return "", fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return "", fmt.Errorf("failed to rename temporary file: %w", err)
	}

	w.mu.Lock()
	w.written++
	w.mu.Unlock()

	w.logger.DebugWithFields("page written", map[string]interface{}{
		"sequence": sequence,
		"records":  len(records),
		"path":     filename,
	})

	return filename, nil
}

func (w *ShardedWriter) encode(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if w.opts.Indent > 0 {
		enc.SetIndent("", strings.Repeat(" ", w.opts.Indent))
	}
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ReadDocument loads a result document
func ReadDocument(path string) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &doc, nil
}

// BaseDir returns the output root
func (w *ShardedWriter) BaseDir() string {
	return w.baseDir
}

// Written returns how many documents this writer has produced
func (w *ShardedWriter) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}
