package service

import (
	"log/slog"

	"tutor/app/agent"
	"tutor/config"
	"tutor/loader/internal"
	"tutor/model"
	"tutor/store"
	"tutor/types"
)

// DetectMediaKind classifies a locator the way Digest will.
func DetectMediaKind(locator string) (types.MediaKind, types.Format, error) {
	return internal.DetectMediaKind(locator)
}

// NewPipelineFromConfig wires the Ollama, LLaVA and docling clients described by cfg.
func NewPipelineFromConfig(cfg *config.Config, s ContentAppender, index store.EmbeddingIndex, logger *slog.Logger) (*Pipeline, error) {
	chunker, err := internal.NewChunker(cfg.Loader.ChunkSize, cfg.Loader.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	llm := model.NewOllamaLLM(cfg.AI.LLMURL, cfg.AI.LLMModel, cfg.AI.Timeout)
	vision := model.NewLLaVA(cfg.AI.VisionURL, cfg.AI.VisionModel, cfg.AI.Timeout)
	embedder := model.NewLoggingEmbedder(model.NewOllamaEmbedder(cfg.AI.EmbeddingURL, cfg.AI.EmbeddingModel, cfg.AI.Timeout), logger)

	extractor := internal.NewExtractor(internal.ExtractorConfig{
		ConverterURL:     cfg.AI.ConverterURL,
		TranscriptionURL: cfg.AI.TranscriptionURL,
		Timeout:          cfg.AI.Timeout,
		CropTop:          cfg.Loader.CropTop,
		CropBottom:       cfg.Loader.CropBottom,
	}, vision, logger)

	return NewPipeline(PipelineDeps{
		Extractor:  extractor,
		Summarizer: agent.NewSummarizer(llm, logger),
		Metadata:   agent.NewMetadataExtractor(llm, cfg.AI.RepairAttempts, logger),
		Splitter:   chunker,
		Embedder:   embedder,
		Index:      index,
		Store:      s,
		Logger:     logger,
	}), nil
}

// NewWatcherFromConfig creates the drop folder layout from cfg.
func NewWatcherFromConfig(cfg *config.Config, logger *slog.Logger) (*internal.Watcher, error) {
	return internal.NewWatcher(internal.WatcherConfig{
		MonitoringTime: cfg.Loader.MonitoringTime,
		SourceDir:      cfg.Loader.SourceDir,
		ArchiveDir:     cfg.Loader.ArchiveDir,
		BadDir:         cfg.Loader.BadDir,
	}, logger)
}
