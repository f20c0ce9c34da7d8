// Package server implements the varanus HTTP API.
//
// This file runs the document ingestion service: one sweep over the
// configured knowledge sources when the server starts, plus on-demand
// ingests triggered through the API. Both paths share the service's
// lifetime context, so shutdown aborts a half-finished sweep cleanly.

package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sanonone/varanus/pkg/engine"
	"github.com/sanonone/varanus/pkg/knowledge"
)

// IngestService feeds documents into the knowledge pipeline. The startup
// sweep runs in the background so a large document tree does not delay the
// listener.
type IngestService struct {
	eng *engine.Engine
	cfg KnowledgeConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewIngestService prepares the service; Start launches the initial sweep.
func NewIngestService(eng *engine.Engine, cfg KnowledgeConfig) *IngestService {
	ctx, cancel := context.WithCancel(context.Background())
	return &IngestService{eng: eng, cfg: cfg, ctx: ctx, cancel: cancel}
}

// pipeline builds a pipeline with the configured chunking geometry. An empty
// collection falls back to the configured target.
func (is *IngestService) pipeline(collection string) *knowledge.Pipeline {
	if collection == "" {
		collection = is.cfg.Collection
	}
	return knowledge.NewPipeline(is.eng, knowledge.Options{
		Collection: collection,
		ChunkSize:  is.cfg.ChunkSize,
		Overlap:    is.cfg.Overlap,
	})
}

// Start sweeps every configured source once, in the background. Sources that
// fail are logged and skipped; unchanged files are fingerprint-skipped by
// the pipeline itself.
func (is *IngestService) Start() {
	if len(is.cfg.Sources) == 0 {
		return
	}

	slog.Info("starting knowledge ingestion sweep",
		"sources", len(is.cfg.Sources), "collection", is.cfg.Collection)

	is.wg.Add(1)
	go func() {
		defer is.wg.Done()
		for _, src := range is.cfg.Sources {
			if is.ctx.Err() != nil {
				return
			}
			res, err := is.pipeline("").Ingest(is.ctx, src)
			if err != nil {
				slog.Error("knowledge source failed", "source", src, "error", err)
				continue
			}
			slog.Info("knowledge source ingested", "source", src,
				"files", res.Files, "skipped", res.Skipped, "chunks", res.Chunks)
		}
	}()
}

// Ingest runs one ingest under the service's lifetime context, so Stop also
// aborts ingests started through the API. The task that drives it records
// the cancellation as a failure.
func (is *IngestService) Ingest(path, collection string) (knowledge.Result, error) {
	return is.pipeline(collection).Ingest(is.ctx, path)
}

// Stop aborts any running ingestion and waits for the startup sweep to exit.
func (is *IngestService) Stop() {
	is.cancel()
	is.wg.Wait()
}
