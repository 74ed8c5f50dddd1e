package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/goforj/memo"
)

type putRequest struct {
	Body string
	TTL  time.Duration
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}
	body, err := s.getPage(r.Context(), url)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, body)
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}
	n, err := s.pages.Count(r.Context(), url)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url, "count": n})
}

func (s *Server) handlePutValue(w http.ResponseWriter, r *http.Request) {
	var ttl time.Duration
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			http.Error(w, "invalid ttl", http.StatusBadRequest)
			return
		}
		ttl = d
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValueBody))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	put := memo.Recorded(s.cache, "http.put_value", func(ctx context.Context, req putRequest) (string, error) {
		return s.cache.Put(ctx, "", req.Body, req.TTL)
	})
	key, err := put(r.Context(), putRequest{Body: string(body), TTL: ttl})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"key": key})
}

func (s *Server) handleGetValue(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	body, err := s.getValue(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(body)
}

func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	op := mux.Vars(r)["op"]
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := s.cache.WriteReplay(r.Context(), w, op); err != nil {
		s.writeError(w, err)
	}
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Flush(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		fetchErr  *memo.FetchError
		decodeErr *memo.DecodeError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, memo.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, memo.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.As(err, &fetchErr):
		status = http.StatusBadGateway
	case errors.Is(err, memo.ErrValueTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.As(err, &decodeErr):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful to send
		return
	}
	if status == http.StatusInternalServerError {
		s.logger.Printf("httpapi: %v", err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
