package hubspot

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/deal-sync/internal/resilience"
)

const unknownErrorMessage = "Unknown error"

// APIError is returned for any HubSpot response outside the 2xx range.
type APIError struct {
	StatusCode    int
	Message       string
	Category      string
	CorrelationID string
	// RetryAfterDelay is the Retry-After header of a rate-limited response.
	RetryAfterDelay time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hubspot: status %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether the status is worth retrying (408, 429, 5xx).
func (e *APIError) Transient() bool {
	return resilience.IsTransientHTTPStatus(e.StatusCode)
}

// RetryAfter reports how long HubSpot asked the caller to back off.
func (e *APIError) RetryAfter() time.Duration {
	return e.RetryAfterDelay
}

// errorBody is HubSpot's standard error envelope.
type errorBody struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
	Category      string `json:"category"`
}

func newAPIError(status int, header http.Header, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode:      status,
		Message:         unknownErrorMessage,
		RetryAfterDelay: parseRetryAfter(header.Get("Retry-After")),
	}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		if eb.Message != "" {
			apiErr.Message = eb.Message
		}
		apiErr.Category = eb.Category
		apiErr.CorrelationID = eb.CorrelationID
	}
	return apiErr
}

// StatusCode returns the HTTP status carried by err, or 0 when err is not an
// APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 from HubSpot.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// parseRetryAfter reads a delay-seconds Retry-After value. HTTP dates are
// not used by HubSpot and yield 0.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
