// Package handlers implements the HTTP API surface: project pipeline
// triggers, graph queries, and operational health endpoints.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/athene-kg/athene/pkg/errors"
)

// ErrorResponse is the envelope every failed request returns.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func respondError(c *gin.Context, err error) {
	code := errors.GetCode(err)
	c.AbortWithStatusJSON(code.HTTPStatus(), ErrorResponse{
		Code:      string(code),
		Message:   err.Error(),
		RequestID: c.Writer.Header().Get("X-Request-ID"),
	})
}

func respondValidation(c *gin.Context, msg string) {
	respondError(c, errors.New(errors.ErrCodeValidation, msg))
}

// queryInt reads an integer query parameter, falling back to def when the
// parameter is absent or malformed.
func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// queryFloat reads a float query parameter, falling back to def when the
// parameter is absent or malformed.
func queryFloat(c *gin.Context, name string, def float64) float64 {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

func respondOK(c *gin.Context, body any) {
	c.JSON(http.StatusOK, body)
}
