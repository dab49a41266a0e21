// Package backendtest serves an in-memory Backend API for tests.
package backendtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Route names an endpoint for failure injection and call counting.
type Route string

const (
	RouteList   Route = "list"
	RouteCreate Route = "create"
	RouteStatus Route = "status"
	RouteDelete Route = "delete"
	RouteRecall Route = "recall"
	RouteSearch Route = "search"
)

// Record is a stored message in wire form.
type Record struct {
	ID        int64      `json:"id"`
	Content   string     `json:"content"`
	Sender    string     `json:"sender"`
	Timestamp time.Time  `json:"timestamp"`
	Status    string     `json:"status"`
	Type      string     `json:"type"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Server is a fake Backend API. Messages are kept in chronological order.
type Server struct {
	mu       sync.Mutex
	records  []Record
	nextID   int64
	failures map[Route]int
	calls    map[Route]int
	hold     *holdGate
	now      func() time.Time

	srv *httptest.Server
}

// New starts a server that is closed when t finishes.
func New(t testing.TB) *Server {
	s := &Server{
		nextID:   1000,
		failures: make(map[Route]int),
		calls:    make(map[Route]int),
		now:      time.Now,
	}
	s.srv = httptest.NewServer(s.router())
	t.Cleanup(func() {
		s.releaseAll()
		s.srv.Close()
	})
	return s
}

// URL returns the API root, suitable for backend.Options.BaseURL.
func (s *Server) URL() string { return s.srv.URL + "/api" }

// Close stops the server. Later requests fail with a network error.
func (s *Server) Close() {
	s.releaseAll()
	s.srv.Close()
}

// Seed appends records. Zero ids are assigned, missing fields get defaults.
func (s *Server) Seed(recs ...Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		if r.ID == 0 {
			r.ID = s.nextID
			s.nextID++
		} else if r.ID >= s.nextID {
			s.nextID = r.ID + 1
		}
		if r.Sender == "" {
			r.Sender = "user"
		}
		if r.Status == "" {
			r.Status = "sent"
		}
		if r.Type == "" {
			r.Type = "text"
		}
		if r.Timestamp.IsZero() {
			r.Timestamp = s.now()
		}
		s.records = append(s.records, r)
	}
}

// Records returns a copy of the stored messages.
func (s *Server) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Fail makes the next n requests to route answer 500.
func (s *Server) Fail(route Route, n int) {
	s.mu.Lock()
	s.failures[route] = n
	s.mu.Unlock()
}

// Calls returns how many requests route has received.
func (s *Server) Calls(route Route) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

type holdGate struct {
	ch   chan struct{}
	once sync.Once
}

func (h *holdGate) open() { h.once.Do(func() { close(h.ch) }) }

// Hold blocks every subsequent request, after it is counted, until the
// returned release function is called.
func (s *Server) Hold() (release func()) {
	h := &holdGate{ch: make(chan struct{})}
	s.mu.Lock()
	s.hold = h
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		if s.hold == h {
			s.hold = nil
		}
		s.mu.Unlock()
		h.open()
	}
}

func (s *Server) releaseAll() {
	s.mu.Lock()
	h := s.hold
	s.hold = nil
	s.mu.Unlock()
	if h != nil {
		h.open()
	}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api/messages", func(r chi.Router) {
		r.With(s.gate(RouteList)).Get("/", s.list)
		r.With(s.gate(RouteCreate)).Post("/", s.create)
		r.With(s.gate(RouteSearch)).Get("/search", s.search)
		r.With(s.gate(RouteStatus)).Put("/{id}/status", s.updateStatus)
		r.With(s.gate(RouteDelete)).Delete("/{id}", s.remove)
		r.With(s.gate(RouteRecall)).Post("/{id}/recall", s.recall)
	})
	return r
}

// gate counts the request, waits out any Hold and applies injected failures.
func (s *Server) gate(route Route) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.mu.Lock()
			s.calls[route]++
			hold := s.hold
			s.mu.Unlock()

			if hold != nil {
				select {
				case <-hold.ch:
				case <-r.Context().Done():
					return
				}
			}

			s.mu.Lock()
			fail := s.failures[route] > 0
			if fail {
				s.failures[route]--
			}
			s.mu.Unlock()
			if fail {
				writeErr(w, http.StatusInternalServerError, "Network error occurred")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := atoiDefault(q.Get("page"), 1)
	limit := atoiDefault(q.Get("limit"), 20)

	s.mu.Lock()
	defer s.mu.Unlock()

	// With a before cursor the page number is ignored: the window is the
	// newest limit messages older than the cursor.
	offset := (page - 1) * limit
	filtered := s.records
	if b := q.Get("before"); b != "" {
		offset = 0
		before, err := time.Parse(time.RFC3339Nano, b)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid before")
			return
		}
		filtered = nil
		for _, rec := range s.records {
			if rec.Timestamp.Before(before) {
				filtered = append(filtered, rec)
			}
		}
	}

	end := len(filtered) - offset
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	window := make([]Record, end-start)
	copy(window, filtered[start:end])

	writeData(w, map[string]any{
		"messages": window,
		"hasMore":  start > 0,
		"total":    len(filtered),
	})
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
		Type    string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Content == "" {
		writeErr(w, http.StatusBadRequest, "Content is required")
		return
	}
	if body.Type == "" {
		body.Type = "text"
	}

	s.mu.Lock()
	rec := Record{
		ID:        s.nextID,
		Content:   body.Content,
		Sender:    "user",
		Timestamp: s.now().UTC(),
		Status:    "sent",
		Type:      body.Type,
	}
	s.nextID++
	s.records = append(s.records, rec)
	s.mu.Unlock()

	writeData(w, rec)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(r.URL.Query().Get("q"))
	sender := r.URL.Query().Get("sender")

	s.mu.Lock()
	var out []Record
	for _, rec := range s.records {
		if q != "" && !strings.Contains(strings.ToLower(rec.Content), q) {
			continue
		}
		if sender != "" && rec.Sender != sender {
			continue
		}
		out = append(out, rec)
	}
	s.mu.Unlock()

	if out == nil {
		out = []Record{}
	}
	writeData(w, map[string]any{"messages": out, "total": len(out)})
}

func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		writeErr(w, http.StatusBadRequest, "Status is required")
		return
	}
	s.mutate(w, r, func(rec *Record) {
		rec.Status = body.Status
	})
}

func (s *Server) recall(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(rec *Record) {
		rec.Content = "This message has been recalled"
		rec.Status = "recalled"
	})
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)

	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		writeErr(w, http.StatusNotFound, "Message not found")
		return
	}
	rec := s.records[i]
	s.records = append(s.records[:i:i], s.records[i+1:]...)
	s.mu.Unlock()

	writeData(w, rec)
}

func (s *Server) mutate(w http.ResponseWriter, r *http.Request, fn func(*Record)) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)

	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		writeErr(w, http.StatusNotFound, "Message not found")
		return
	}
	fn(&s.records[i])
	now := s.now().UTC()
	s.records[i].UpdatedAt = &now
	rec := s.records[i]
	s.mu.Unlock()

	writeData(w, rec)
}

func (s *Server) indexLocked(id int64) int {
	for i, rec := range s.records {
		if rec.ID == id {
			return i
		}
	}
	return -1
}

func atoiDefault(v string, def int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}
