package services

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quizmark/internal/models"
)

// StagingService hands out per-request staging areas. Artifact names are
// derived from the submission timestamp plus the original filename (and
// a short random component), so concurrently in-flight requests never
// collide on the shared upload/output directories.
type StagingService struct {
	uploadDir string
	outputDir string
}

func NewStagingService(uploadDir, outputDir string) *StagingService {
	return &StagingService{uploadDir: uploadDir, outputDir: outputDir}
}

// NewStage opens a staging area for one request.
func (s *StagingService) NewStage() *Stage {
	return &Stage{svc: s}
}

// Stage tracks every transient artifact one request creates so that all
// of them are deleted on every exit path. Cleanup failures are logged
// and never surfaced to the caller.
type Stage struct {
	svc       *StagingService
	mu        sync.Mutex
	artifacts []string
}

func (st *Stage) track(path string) {
	st.mu.Lock()
	st.artifacts = append(st.artifacts, path)
	st.mu.Unlock()
}

// SaveUpload copies the uploaded document into the staging area under a
// request-unique name.
func (st *Stage) SaveUpload(originalName string, src io.Reader, receivedAt time.Time) (models.Upload, error) {
	name := stagingName(receivedAt, originalName)
	path := filepath.Join(st.svc.uploadDir, name)

	out, err := os.Create(path)
	if err != nil {
		return models.Upload{}, fmt.Errorf("create staged upload: %w", err)
	}
	st.track(path)
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return models.Upload{}, fmt.Errorf("write staged upload: %w", err)
	}
	return models.Upload{
		OriginalName: originalName,
		StoredPath:   path,
		ReceivedAt:   receivedAt,
	}, nil
}

// RasterDir creates a request-private directory for per-page raster
// artifacts produced by the OCR fallback.
func (st *Stage) RasterDir() (string, error) {
	dir, err := os.MkdirTemp(st.svc.uploadDir, "raster-*")
	if err != nil {
		return "", fmt.Errorf("create raster dir: %w", err)
	}
	st.track(dir)
	return dir, nil
}

// OutputPath reserves the answer-key destination for this request and
// returns it along with the download filename.
func (st *Stage) OutputPath(originalName string, receivedAt time.Time) (path, filename string) {
	base := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	if base == "" || base == "." {
		base = "document"
	}
	filename = fmt.Sprintf("%s-answers-%s.pdf", base, receivedAt.UTC().Format("20060102-150405"))
	path = filepath.Join(st.svc.outputDir, stagingName(receivedAt, filename))
	st.track(path)
	return path, filename
}

// Release untracks an artifact so Purge leaves it alone; ownership
// passes to the caller.
func (st *Stage) Release(path string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for i, a := range st.artifacts {
		if a == path {
			st.artifacts = append(st.artifacts[:i], st.artifacts[i+1:]...)
			return
		}
	}
}

// Purge deletes every tracked artifact. Safe to call on every exit path;
// already-deleted artifacts are ignored.
func (st *Stage) Purge() {
	st.mu.Lock()
	artifacts := st.artifacts
	st.artifacts = nil
	st.mu.Unlock()

	for _, path := range artifacts {
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("cleanup failed", "path", path, "error", err)
		}
	}
}

func stagingName(receivedAt time.Time, original string) string {
	base := filepath.Base(original)
	base = strings.ReplaceAll(base, " ", "_")
	return fmt.Sprintf("%d-%s-%s", receivedAt.UnixNano(), uuid.NewString()[:8], base)
}
