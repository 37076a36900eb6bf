// README: Base handler utilities (JSON helpers, error mapping, query parsing).
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"turbo/internal/modules/notification"
	"turbo/internal/modules/order"
	"turbo/internal/modules/stats"
	"turbo/internal/types"
)

// Error codes let clients tell a rejected transition from a lost race, which
// share 409.
const (
	codeValidation        = "validation"
	codeNotFound          = "not_found"
	codeInvalidTransition = "invalid_transition"
	codeConflict          = "conflict"
	codeUnauthorized      = "unauthorized"
	codeForbidden         = "forbidden"
	codeUnavailable       = "unavailable"
	codeInternal          = "internal"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// isValidID accepts ORD-style ids and Firestore document ids.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeCodedError(c, status, statusCode(status), msg)
}

func writeCodedError(c *gin.Context, status int, code, msg string) {
	writeJSON(c, status, errorResponse{Error: msg, Code: code})
}

func statusCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return codeValidation
	case http.StatusUnauthorized:
		return codeUnauthorized
	case http.StatusForbidden:
		return codeForbidden
	case http.StatusNotFound:
		return codeNotFound
	case http.StatusConflict:
		return codeInvalidTransition
	case http.StatusServiceUnavailable:
		return codeUnavailable
	}
	return codeInternal
}

func writeOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrValidation), errors.Is(err, stats.ErrBadRange):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrNotFound), errors.Is(err, notification.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrConflict):
		writeCodedError(c, http.StatusConflict, codeConflict, err.Error())
	case errors.Is(err, order.ErrInvalidTransition):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, order.ErrTransport), errors.Is(err, order.ErrLiveUnavailable):
		_ = c.Error(err)
		writeError(c, http.StatusServiceUnavailable, "store unavailable")
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// queryTime reads an instant given as epoch millis or an ISO-8601 string.
func queryTime(c *gin.Context, key string) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}
	ms, ok := types.ToEpochMillis(raw)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s must be epoch millis or ISO-8601", order.ErrValidation, key)
	}
	return types.FromMillis(ms), nil
}

func queryRange(c *gin.Context) (time.Time, time.Time, error) {
	start, err := queryTime(c, "start")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := queryTime(c, "end")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}
