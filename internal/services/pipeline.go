package services

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Pipeline sequences one document through
// resolve -> normalize -> model -> parse -> render. Every transient
// artifact is purged on every exit path; on success only the rendered
// answer key survives, and the API deletes that once it has streamed.
type Pipeline struct {
	staging  *StagingService
	resolver *Resolver
	ai       ModelCollaborator
	renderer *Renderer
}

// ModelCollaborator is the generative-text collaborator: one prompt in,
// one raw completion out, no schema guarantee.
type ModelCollaborator interface {
	ExtractQuestions(ctx context.Context, text string) (string, error)
}

func NewPipeline(staging *StagingService, resolver *Resolver, ai ModelCollaborator, renderer *Renderer) *Pipeline {
	return &Pipeline{staging: staging, resolver: resolver, ai: ai, renderer: renderer}
}

// Result describes a delivered request.
type Result struct {
	OutputPath   string
	Filename     string
	Questions    int
	UsedFallback bool
	Strategy     string
}

// Process runs the full pipeline for one uploaded document. On success
// the caller owns Result.OutputPath and must delete it after streaming.
func (p *Pipeline) Process(ctx context.Context, originalName string, src io.Reader) (*Result, error) {
	receivedAt := time.Now()
	stage := p.staging.NewStage()
	defer stage.Purge()

	upload, err := stage.SaveUpload(originalName, src, receivedAt)
	if err != nil {
		return nil, newPipelineError(CodeRenderFailure, "stage upload", err)
	}

	rasterDir, err := stage.RasterDir()
	if err != nil {
		return nil, newPipelineError(CodeRenderFailure, "stage raster dir", err)
	}

	text, usedFallback, err := p.resolver.Resolve(ctx, upload.StoredPath, rasterDir)
	if err != nil {
		return nil, err
	}

	normalized := Normalize(text)

	reply, err := p.queryModel(ctx, normalized)
	if err != nil {
		return nil, err
	}

	batch, err := ParseReply(reply)
	if err != nil {
		return nil, err
	}

	outPath, filename := stage.OutputPath(originalName, receivedAt)
	if err := p.renderer.RenderAnswerKey(batch, outPath); err != nil {
		return nil, err
	}
	stage.Release(outPath)

	slog.Info("document processed",
		"file", originalName,
		"questions", len(batch.Questions),
		"strategy", batch.StrategyUsed,
		"used_fallback", usedFallback,
	)

	return &Result{
		OutputPath:   outPath,
		Filename:     filename,
		Questions:    len(batch.Questions),
		UsedFallback: usedFallback,
		Strategy:     batch.StrategyUsed,
	}, nil
}

// queryModel performs the single-shot model call with at most one retry,
// and only for transport-level failures; a reply that arrives is never
// re-requested.
func (p *Pipeline) queryModel(ctx context.Context, text string) (string, error) {
	reply, err := p.ai.ExtractQuestions(ctx, text)
	if err == nil {
		return reply, nil
	}
	slog.Warn("model call failed, retrying once", "error", err)
	reply, err = p.ai.ExtractQuestions(ctx, text)
	if err != nil {
		return "", newPipelineError(CodeModelCallFailed, "generative model call failed", err)
	}
	return reply, nil
}

var _ ModelCollaborator = (*AIService)(nil)
