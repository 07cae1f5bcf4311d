package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/searchd/internal/assembler"
	"github.com/fyrsmithlabs/searchd/internal/metadata"
	"github.com/fyrsmithlabs/searchd/internal/retrieval"
)

// Engine is the slice of the retrieval engine the HTTP layer calls.
type Engine interface {
	Search(ctx context.Context, req retrieval.SearchRequest) (*retrieval.SearchResult, error)
	SearchSimilar(ctx context.Context, documentID string, limit *int, threshold *float64) (*retrieval.SearchResult, error)
	ContextBundle(ctx context.Context, req retrieval.SearchRequest) (*assembler.Bundle, error)
	IndexContent(ctx context.Context, req retrieval.IndexRequest) (*retrieval.IndexResult, error)
	DeleteDocument(ctx context.Context, documentID string) error
	Stats(ctx context.Context) (retrieval.Stats, error)
	GetSession(ctx context.Context, id string) (*metadata.SearchSession, error)
	ListSessions(ctx context.Context, limit int) ([]metadata.SearchSession, error)
	Healthy(ctx context.Context) error
}

// SearchBody is the request body for POST /search and /context-bundle.
type SearchBody struct {
	Query          string             `json:"query"`
	Modalities     []string           `json:"modalities"`
	Limit          *int               `json:"limit"`
	MaxResults     *int               `json:"max_results"`
	Filters        *retrieval.Filters `json:"filters"`
	ScoreThreshold *float64           `json:"score_threshold"`
	Threshold      *float64           `json:"threshold"`
}

func (b *SearchBody) toRequest() retrieval.SearchRequest {
	limit := b.Limit
	if limit == nil {
		limit = b.MaxResults
	}
	threshold := b.ScoreThreshold
	if threshold == nil {
		threshold = b.Threshold
	}
	return retrieval.SearchRequest{
		Query:          b.Query,
		Modalities:     b.Modalities,
		Limit:          limit,
		Filters:        b.Filters,
		ScoreThreshold: threshold,
	}
}

// SearchResponse is the success body for /search and /similar.
type SearchResponse struct {
	Success      bool                      `json:"success"`
	SessionID    string                    `json:"session_id,omitempty"`
	Query        string                    `json:"query"`
	Modalities   []string                  `json:"modalities"`
	ResultsCount int                       `json:"results_count"`
	Results      []assembler.EnrichedHit   `json:"results"`
	Bundle       *assembler.Bundle         `json:"context_bundle"`
	Metadata     retrieval.ResultMetadata  `json:"metadata"`
}

func searchResponse(r *retrieval.SearchResult) SearchResponse {
	results := r.Results
	if results == nil {
		results = []assembler.EnrichedHit{}
	}
	return SearchResponse{
		Success:      true,
		SessionID:    r.SessionID,
		Query:        r.Query,
		Modalities:   r.Modalities,
		ResultsCount: len(results),
		Results:      results,
		Bundle:       r.Bundle,
		Metadata:     r.Metadata,
	}
}

func (s *Server) handleSearch(c echo.Context) error {
	var body SearchBody
	if err := c.Bind(&body); err != nil {
		return respondError(c, fmt.Errorf("%w: %v", retrieval.ErrInvalidRequest, err))
	}
	result, err := s.engine.Search(c.Request().Context(), body.toRequest())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, searchResponse(result))
}

func (s *Server) handleSimilar(c echo.Context) error {
	documentID := c.Param("document_id")

	var limit *int
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return respondError(c, fmt.Errorf("%w: limit must be an integer", retrieval.ErrInvalidRequest))
		}
		limit = &n
	}
	var threshold *float64
	if raw := c.QueryParam("threshold"); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return respondError(c, fmt.Errorf("%w: threshold must be a number", retrieval.ErrInvalidRequest))
		}
		threshold = &f
	}

	result, err := s.engine.SearchSimilar(c.Request().Context(), documentID, limit, threshold)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, searchResponse(result))
}

func (s *Server) handleContextBundle(c echo.Context) error {
	var body SearchBody
	if err := c.Bind(&body); err != nil {
		return respondError(c, fmt.Errorf("%w: %v", retrieval.ErrInvalidRequest, err))
	}
	bundle, err := s.engine.ContextBundle(c.Request().Context(), body.toRequest())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":        true,
		"context_bundle": bundle,
	})
}

func (s *Server) handleIndex(c echo.Context) error {
	var req retrieval.IndexRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, fmt.Errorf("%w: %v", retrieval.ErrInvalidRequest, err))
	}
	result, err := s.engine.IndexContent(c.Request().Context(), req)
	if err != nil {
		return respondError(c, err)
	}
	resp := map[string]any{
		"success":     true,
		"content_id":  result.ContentID,
		"document_id": result.DocumentID,
		"vector_ids":  result.VectorIDs,
	}
	if result.AlreadyExists {
		resp["already_exists"] = true
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDelete(c echo.Context) error {
	documentID := c.Param("document_id")
	if err := s.engine.DeleteDocument(c.Request().Context(), documentID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":    true,
		"content_id": documentID,
	})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.engine.Stats(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleGetSession(c echo.Context) error {
	session, err := s.engine.GetSession(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"session": session,
	})
}

func (s *Server) handleListSessions(c echo.Context) error {
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return respondError(c, fmt.Errorf("%w: limit must be a non-negative integer", retrieval.ErrInvalidRequest))
		}
		limit = n
	}
	sessions, err := s.engine.ListSessions(c.Request().Context(), limit)
	if err != nil {
		return respondError(c, err)
	}
	if sessions == nil {
		sessions = []metadata.SearchSession{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":  true,
		"sessions": sessions,
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.engine.Healthy(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":    "unhealthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"error":     err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
