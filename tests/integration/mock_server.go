package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// MockEuropePMCServer serves a fixed result set through the cursor-paginated
// search endpoint. Cursors are opaque to clients; here they encode the
// offset of the first record of the page ("*" is offset 0).
type MockEuropePMCServer struct {
	server       *httptest.Server
	total        int
	requestCount int32

	mu         sync.RWMutex
	failures   map[string]failure // cursor -> injected failure
	dropHits   map[string]int     // cursor -> responses without hitCount left
	cursorsHit []string
}

type failure struct {
	status    int
	remaining int // < 0 fails forever
}

// NewMockEuropePMCServer creates a server holding total records
func NewMockEuropePMCServer(total int) *MockEuropePMCServer {
	m := &MockEuropePMCServer{
		total:    total,
		failures: make(map[string]failure),
		dropHits: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/search", m.handleSearch)
	m.server = httptest.NewServer(mux)
	return m
}

// CursorFor returns the cursor the server hands out for offset
func CursorFor(offset int) string {
	if offset == 0 {
		return "*"
	}
	return fmt.Sprintf("AoE%d", offset)
}

func offsetOf(cursor string) (int, error) {
	if cursor == "*" {
		return 0, nil
	}
	return strconv.Atoi(strings.TrimPrefix(cursor, "AoE"))
}

func (m *MockEuropePMCServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&m.requestCount, 1)

	q := r.URL.Query()
	cursor := q.Get("cursorMark")
	m.mu.Lock()
	m.cursorsHit = append(m.cursorsHit, cursor)
	m.mu.Unlock()

	if q.Get("format") != "json" || q.Get("query") == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if status := m.takeFailure(cursor); status > 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	offset, err := offsetOf(cursor)
	if err != nil {
		http.Error(w, "invalid cursorMark", http.StatusBadRequest)
		return
	}
	pageSize, err := strconv.Atoi(q.Get("pageSize"))
	if err != nil || pageSize <= 0 {
		http.Error(w, "invalid pageSize", http.StatusBadRequest)
		return
	}

	results := []map[string]interface{}{}
	next := cursor
	for i := offset; i < m.total && i < offset+pageSize; i++ {
		results = append(results, record(i+1))
	}
	if len(results) > 0 {
		next = CursorFor(offset + len(results))
	}

	body := map[string]interface{}{
		"version":        "6.9",
		"nextCursorMark": next,
		"request":        map[string]interface{}{"queryString": q.Get("query")},
		"resultList":     map[string]interface{}{"result": results},
	}
	if !m.takeDrop(cursor) {
		body["hitCount"] = m.total
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

// record builds a core-format hit with more fields than the output keeps
func record(n int) map[string]interface{} {
	return map[string]interface{}{
		"id":                    strconv.Itoa(n),
		"source":                "MED",
		"pmid":                  strconv.Itoa(n),
		"pmcid":                 fmt.Sprintf("PMC%d", n),
		"title":                 fmt.Sprintf("Structure of protein %d", n),
		"authorString":          "Smith J, Doe A.",
		"abstractText":          "Dropped by the projection.",
		"citedByCount":          n % 7,
		"hasTMAccessionNumbers": "Y",
	}
}

func (m *MockEuropePMCServer) takeFailure(cursor string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.failures[cursor]
	if !ok {
		return 0
	}
	if f.remaining > 0 {
		f.remaining--
		if f.remaining == 0 {
			delete(m.failures, cursor)
		} else {
			m.failures[cursor] = f
		}
	}
	return f.status
}

func (m *MockEuropePMCServer) takeDrop(cursor string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dropHits[cursor] <= 0 {
		return false
	}
	m.dropHits[cursor]--
	return true
}

// FailCursor answers the page at cursor with status, times times; a
// negative times fails until ClearFailures.
func (m *MockEuropePMCServer) FailCursor(cursor string, status, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[cursor] = failure{status: status, remaining: times}
}

// DropHitCount omits hitCount from the next times responses for cursor
func (m *MockEuropePMCServer) DropHitCount(cursor string, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropHits[cursor] = times
}

// ClearFailures removes all injected failures
func (m *MockEuropePMCServer) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[string]failure)
	m.dropHits = make(map[string]int)
}

// RequestCount returns the number of search requests served
func (m *MockEuropePMCServer) RequestCount() int {
	return int(atomic.LoadInt32(&m.requestCount))
}

// CursorsRequested returns the cursorMark of every request, in order
func (m *MockEuropePMCServer) CursorsRequested() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.cursorsHit))
	copy(out, m.cursorsHit)
	return out
}

// GetURL returns the server root, usable as the client base URL
func (m *MockEuropePMCServer) GetURL() string {
	return m.server.URL
}

// Close shuts the server down
func (m *MockEuropePMCServer) Close() {
	m.server.Close()
}
