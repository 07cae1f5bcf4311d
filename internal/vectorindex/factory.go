package vectorindex

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/searchd/internal/config"
	"github.com/fyrsmithlabs/searchd/internal/logging"
	"go.uber.org/zap"
)

// New builds the configured Index backend and ensures the per-modality
// collections exist.
func New(ctx context.Context, cfg config.VectorIndexConfig, logger *logging.Logger) (Index, error) {
	var index Index
	var err error

	switch cfg.Provider {
	case "qdrant":
		index, err = NewQdrant(QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			UseTLS:     cfg.Qdrant.UseTLS,
			APIKey:     cfg.Qdrant.APIKey.Value(),
			VectorSize: cfg.VectorSize,
			MaxRetries: cfg.Qdrant.MaxRetries,
		})
	case "chromem":
		index, err = NewChromem(ChromemConfig{
			Path:       cfg.Chromem.Path,
			Compress:   cfg.Chromem.Compress,
			VectorSize: cfg.VectorSize,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	for _, collection := range []string{cfg.CollectionText, cfg.CollectionImage, cfg.CollectionVideo} {
		if err := index.EnsureCollection(ctx, collection, cfg.VectorSize); err != nil {
			_ = index.Close()
			return nil, fmt.Errorf("ensuring collection %s: %w", collection, err)
		}
	}

	logger.Info(ctx, "vector index ready",
		zap.String("provider", cfg.Provider),
		zap.Int("vector_size", cfg.VectorSize),
	)
	return index, nil
}

// NewHybridFromConfig wires the modality fan-out from config.
func NewHybridFromConfig(index Index, cfg config.VectorIndexConfig, search config.SearchConfig) (*Hybrid, error) {
	return NewHybrid(index, HybridConfig{
		Collections: map[string]string{
			ModalityText:  cfg.CollectionText,
			ModalityImage: cfg.CollectionImage,
			ModalityVideo: cfg.CollectionVideo,
		},
		Priority:               []string{ModalityText, ModalityImage, ModalityVideo},
		SearchTimeout:          search.VectorSearchTimeout.Duration(),
		ConcurrencyPerModality: search.ConcurrencyPerModality,
	})
}
