package main

import (
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"quizmark/internal/api"
	"quizmark/internal/config"
	"quizmark/internal/services"
)

func main() {
	cfg := config.Load()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	pdfService := services.NewPDFService(cfg.GhostscriptBin)
	ocrClient := services.NewOCRClient(cfg.OCRKey, cfg.OCRBaseURL, cfg.OCRModel)
	aiService := services.NewAIService(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIEndpoint)
	staging := services.NewStagingService(cfg.UploadDir, cfg.OutputDir)

	var recognizer services.PageRecognizer
	if ocrClient != nil {
		recognizer = ocrClient
	}
	resolver := services.NewResolver(pdfService, recognizer, cfg.MinTextSignal)

	pipeline := services.NewPipeline(staging, resolver, aiService, services.NewRenderer())
	server := api.NewServer(pipeline, cfg.MaxUploadMB, cfg.MaxConcurrentRequests, cfg.RateLimitRPS)

	mux := http.NewServeMux()
	mux.Handle("/api/", server.Handler())

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("listening on :%s", port)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 300 * time.Second,
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed: %v", err)
	}
}
