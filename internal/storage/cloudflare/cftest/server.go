// Package cftest provides an in-process fake of the Workers KV REST API
// for tests.
package cftest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Token is the API token accepted by the fake server.
const Token = "test-token"

// Server is a fake Workers KV API backed by memory.
type Server struct {
	*httptest.Server

	// KeysPageSize is the listing page size used by the fake.
	KeysPageSize int

	// NamespacesPageSize is the namespace page size used by the fake.
	NamespacesPageSize int

	mu         sync.Mutex
	namespaces []namespace
	values     map[string]map[string]string
	nextID     int
	calls      atomic.Int64
}

type namespace struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type apiMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewServer starts a fake server. Close it when done.
func NewServer() *Server {
	s := &Server{
		KeysPageSize:       1000,
		NamespacesPageSize: 100,
		values:             make(map[string]map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /user/tokens/verify", s.handleVerify)
	mux.HandleFunc("GET /accounts/{acct}/storage/kv/namespaces", s.handleListNamespaces)
	mux.HandleFunc("POST /accounts/{acct}/storage/kv/namespaces", s.handleCreateNamespace)
	mux.HandleFunc("GET /accounts/{acct}/storage/kv/namespaces/{ns}/keys", s.handleListKeys)
	mux.HandleFunc("GET /accounts/{acct}/storage/kv/namespaces/{ns}/values/{key}", s.handleGet)
	mux.HandleFunc("PUT /accounts/{acct}/storage/kv/namespaces/{ns}/values/{key}", s.handlePut)
	mux.HandleFunc("DELETE /accounts/{acct}/storage/kv/namespaces/{ns}/values/{key}", s.handleDelete)

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+Token {
			writeEnvelope(w, http.StatusUnauthorized, nil, nil, apiMessage{Code: 10000, Message: "Authentication error"})
			return
		}
		mux.ServeHTTP(w, r)
	}))
	return s
}

// Calls returns the number of requests served.
func (s *Server) Calls() int {
	return int(s.calls.Load())
}

// AddNamespace creates a namespace and returns its id.
func (s *Server) AddNamespace(title string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addNamespaceLocked(title)
}

func (s *Server) addNamespaceLocked(title string) string {
	s.nextID++
	id := fmt.Sprintf("ns-%d", s.nextID)
	s.namespaces = append(s.namespaces, namespace{ID: id, Title: title})
	s.values[id] = make(map[string]string)
	return id
}

// Value returns a stored value.
func (s *Server) Value(ns, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[ns][key]
	return v, ok
}

// SetValue stores a value directly.
func (s *Server) SetValue(ns, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values[ns] == nil {
		s.values[ns] = make(map[string]string)
	}
	s.values[ns][key] = value
}

// Keys returns the sorted keys of a namespace.
func (s *Server) Keys(ns string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.values[ns]))
	for k := range s.values[ns] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, http.StatusOK, map[string]string{"id": "tok-1", "status": "active"}, nil)
}

func (s *Server) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	s.mu.Lock()
	all := append([]namespace(nil), s.namespaces...)
	s.mu.Unlock()

	size := s.NamespacesPageSize
	totalPages := (len(all) + size - 1) / size
	if totalPages == 0 {
		totalPages = 1
	}
	start := min((page-1)*size, len(all))
	end := min(start+size, len(all))

	writeEnvelope(w, http.StatusOK, all[start:end], map[string]int{
		"page":        page,
		"per_page":    size,
		"count":       end - start,
		"total_count": len(all),
		"total_pages": totalPages,
	})
}

func (s *Server) handleCreateNamespace(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Title == "" {
		writeEnvelope(w, http.StatusBadRequest, nil, nil, apiMessage{Code: 10019, Message: "invalid title"})
		return
	}

	s.mu.Lock()
	id := s.addNamespaceLocked(body.Title)
	s.mu.Unlock()

	writeEnvelope(w, http.StatusOK, namespace{ID: id, Title: body.Title}, nil)
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	ns := r.PathValue("ns")
	prefix := r.URL.Query().Get("prefix")
	offset := 0
	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		offset, _ = strconv.Atoi(strings.TrimPrefix(cursor, "c"))
	}

	s.mu.Lock()
	values, ok := s.values[ns]
	var names []string
	for k := range values {
		if strings.HasPrefix(k, prefix) {
			names = append(names, k)
		}
	}
	s.mu.Unlock()
	if !ok {
		writeEnvelope(w, http.StatusNotFound, nil, nil, apiMessage{Code: 10013, Message: "namespace not found"})
		return
	}
	sort.Strings(names)

	start := min(offset, len(names))
	end := min(start+s.KeysPageSize, len(names))
	items := make([]map[string]string, 0, end-start)
	for _, n := range names[start:end] {
		items = append(items, map[string]string{"name": n})
	}
	cursor := ""
	if end < len(names) {
		cursor = "c" + strconv.Itoa(end)
	}
	writeEnvelope(w, http.StatusOK, items, map[string]any{"count": len(items), "cursor": cursor})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	v, ok := s.Value(r.PathValue("ns"), r.PathValue("key"))
	if !ok {
		writeEnvelope(w, http.StatusNotFound, nil, nil, apiMessage{Code: 10009, Message: "key not found"})
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	io.WriteString(w, v)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.SetValue(r.PathValue("ns"), r.PathValue("key"), string(data))
	writeEnvelope(w, http.StatusOK, nil, nil)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delete(s.values[r.PathValue("ns")], r.PathValue("key"))
	s.mu.Unlock()
	writeEnvelope(w, http.StatusOK, nil, nil)
}

func writeEnvelope(w http.ResponseWriter, status int, result, info any, errs ...apiMessage) {
	if errs == nil {
		errs = []apiMessage{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success":     status < 300 && len(errs) == 0,
		"errors":      errs,
		"messages":    []string{},
		"result":      result,
		"result_info": info,
	})
}
