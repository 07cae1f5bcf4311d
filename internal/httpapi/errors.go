package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/searchd/internal/metadata"
	"github.com/fyrsmithlabs/searchd/internal/retrieval"
	"github.com/fyrsmithlabs/searchd/internal/vectorindex"
)

// ErrorBody is the envelope every failed request returns. Kind strings
// are part of the API contract; message text is human-facing and may
// change.
type ErrorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Error kind strings.
const (
	KindInvalidRequest      = "InvalidRequest"
	KindDimensionMismatch   = "DimensionMismatch"
	KindNotFound            = "NotFound"
	KindOverloaded          = "Overloaded"
	KindUpstreamUnavailable = "UpstreamUnavailable"
	KindDeadlineExceeded    = "DeadlineExceeded"
	KindInternal            = "Internal"
)

// respondError maps an engine error onto its kind and status code.
func respondError(c echo.Context, err error) error {
	kind, status := classifyError(err)
	return c.JSON(status, ErrorBody{Success: false, Error: kind, Message: err.Error()})
}

func classifyError(err error) (kind string, status int) {
	switch {
	case errors.Is(err, retrieval.ErrInvalidRequest):
		return KindInvalidRequest, http.StatusBadRequest
	case errors.Is(err, vectorindex.ErrDimensionMismatch):
		return KindDimensionMismatch, http.StatusBadRequest
	case errors.Is(err, retrieval.ErrNotFound):
		return KindNotFound, http.StatusNotFound
	case errors.Is(err, vectorindex.ErrOverloaded):
		return KindOverloaded, http.StatusTooManyRequests
	case errors.Is(err, retrieval.ErrUpstreamUnavailable),
		errors.Is(err, vectorindex.ErrAllModalitiesFailed),
		errors.Is(err, metadata.ErrStoreUnavailable):
		return KindUpstreamUnavailable, http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return KindDeadlineExceeded, http.StatusGatewayTimeout
	default:
		return KindInternal, http.StatusInternalServerError
	}
}
