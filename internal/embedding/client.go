// Package embedding turns query strings into vectors by calling the
// multimodal ingestion worker over HTTP. The core never embeds locally.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/searchd/internal/logging"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrDegraded is returned alongside a zero vector when the worker is
	// unavailable or returned malformed output. Callers proceed with the
	// zero vector and flag the response as degraded.
	ErrDegraded = errors.New("embedding degraded")
)

// Client produces a query vector for a query string.
type Client interface {
	// EmbedQuery returns a vector of the configured dimension. On worker
	// failure it returns (zeroVector, ErrDegraded) rather than failing.
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Config holds configuration for the worker client.
type Config struct {
	// WorkerURL is the base URL of the multimodal worker.
	WorkerURL string
	// VectorSize is the expected embedding dimension.
	VectorSize int
	// Timeout bounds each embed call.
	Timeout time.Duration
	// MaxRetries bounds retry attempts before degrading.
	MaxRetries int
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.WorkerURL == "" {
		return fmt.Errorf("%w: worker URL required", ErrInvalidConfig)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 2 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
}

// WorkerClient calls the worker's /embed endpoint (TEI-compatible shape).
type WorkerClient struct {
	config  Config
	client  *http.Client
	logger  *logging.Logger
	metrics *Metrics
}

// NewWorkerClient creates a client for the multimodal worker.
func NewWorkerClient(config Config, logger *logging.Logger) (*WorkerClient, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &WorkerClient{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		logger:  logger,
		metrics: NewMetrics(logger),
	}, nil
}

// embedRequest is the request body for the worker's embed endpoint.
type embedRequest struct {
	Inputs   string `json:"inputs"`
	Truncate bool   `json:"truncate"`
}

// EmbedQuery embeds one query string. Degradation contract: any failure
// after retries yields (zeroVector, ErrDegraded), never a hard error.
func (c *WorkerClient) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		vector, err := c.embedOnce(ctx, query)
		if err == nil {
			c.metrics.RecordEmbed(ctx, time.Since(start), false)
			return vector, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	c.logger.Warn(ctx, "embedding worker unavailable, degrading to zero vector",
		zap.Error(lastErr),
		zap.Int("retries", c.config.MaxRetries),
	)
	c.metrics.RecordEmbed(ctx, time.Since(start), true)
	return make([]float32, c.config.VectorSize), ErrDegraded
}

func (c *WorkerClient) embedOnce(ctx context.Context, query string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Inputs: query, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.WorkerURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling worker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("worker status %d: %s", resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty response")
	}
	if len(vectors[0]) != c.config.VectorSize {
		return nil, fmt.Errorf("worker returned dimension %d, want %d", len(vectors[0]), c.config.VectorSize)
	}
	return vectors[0], nil
}

var _ Client = (*WorkerClient)(nil)
