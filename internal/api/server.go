package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"quizmark/internal/services"
)

const maxMultipartMemory = 8 << 20 // 8 MB

// Server exposes the document-processing endpoint. Each request is an
// independent unit of work; the only shared resources are the staging
// directories, which use request-unique filenames.
type Server struct {
	mux         *http.ServeMux
	pipeline    *services.Pipeline
	maxUploadMB int

	requestSem *semaphore.Weighted
	limiters   sync.Map // ip -> *rate.Limiter
	rps        rate.Limit
}

func NewServer(pipeline *services.Pipeline, maxUploadMB int, maxConcurrent int64, rps float64) *Server {
	if maxUploadMB <= 0 {
		maxUploadMB = 10
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if rps <= 0 {
		rps = 1
	}
	s := &Server{
		mux:         http.NewServeMux(),
		pipeline:    pipeline,
		maxUploadMB: maxUploadMB,
		requestSem:  semaphore.NewWeighted(maxConcurrent),
		rps:         rate.Limit(rps),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/solve", s.withRateLimit(s.withConcurrencyLimit(s.handleSolve)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSolve accepts one PDF under the "file" field and streams back
// the rendered answer key. No partial binary content is ever sent once
// an error is detected pre-stream.
func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(s.maxUploadMB)<<20)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, services.CodeNoFileProvided, "invalid multipart form")
		return
	}
	if form := r.MultipartForm; form != nil {
		defer form.RemoveAll()
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, services.CodeNoFileProvided, "no file uploaded")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
		writeError(w, http.StatusBadRequest, services.CodeNoFileProvided, "only PDF documents are accepted")
		return
	}

	result, err := s.pipeline.Process(r.Context(), header.Filename, file)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	defer func() {
		if err := os.Remove(result.OutputPath); err != nil {
			slog.Warn("cleanup failed", "path", result.OutputPath, "error", err)
		}
	}()

	out, err := os.Open(result.OutputPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, services.CodeRenderFailure, "rendered document missing")
		return
	}
	defer out.Close()
	info, err := out.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, services.CodeRenderFailure, "rendered document missing")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, out); err != nil {
		// Connection dropped mid-stream; cleanup still runs via defers.
		slog.Warn("response stream interrupted", "file", result.Filename, "error", err)
	}
}

func (s *Server) writePipelineError(w http.ResponseWriter, err error) {
	pe, ok := services.AsPipelineError(err)
	if !ok {
		if errors.Is(err, services.ErrAIUnavailable) {
			writeError(w, http.StatusServiceUnavailable, services.CodeModelCallFailed, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, services.CodeRenderFailure, err.Error())
		return
	}

	switch pe.Code {
	case services.CodeInsufficientText, services.CodeNoQuestionsFound:
		writeError(w, http.StatusUnprocessableEntity, pe.Code, pe.Message)
	case services.CodeModelCallFailed:
		writeError(w, http.StatusBadGateway, pe.Code, pe.Message)
	default:
		writeError(w, http.StatusInternalServerError, pe.Code, pe.Message)
	}
	if pe.Code == services.CodeNoQuestionsFound {
		slog.Debug("raw model reply attached to failure", "bytes", len(pe.RawReply))
	}
}

// withRateLimit applies a per-IP token bucket.
func (s *Server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.limiterFor(ip).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate_limit", "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// withConcurrencyLimit caps simultaneously processed documents.
func (s *Server) withConcurrencyLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.requestSem.Acquire(r.Context(), 1); err != nil {
			writeError(w, http.StatusServiceUnavailable, "busy", "server is busy")
			return
		}
		defer s.requestSem.Release(1)
		next(w, r)
	}
}

func (s *Server) limiterFor(ip string) *rate.Limiter {
	if v, ok := s.limiters.Load(ip); ok {
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(s.rps, int(s.rps)+2)
	actual, _ := s.limiters.LoadOrStore(ip, limiter)
	return actual.(*rate.Limiter)
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{"error": code, "detail": detail})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}
