package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dot-do/functions-sub012/internal/model"
)

// modelDefaultTimeout is the flavor default for AI-model invocations.
const modelDefaultTimeout = 30 * time.Second

// maxErrorBodyBytes bounds how much of an error response body is kept in the
// failure message.
const maxErrorBodyBytes = 512

// ValidateFunc checks a model response post-hoc, returning a
// *model.ValidationError when the output fails the expected schema.
type ValidateFunc func(output []byte) error

// ModelBackend invokes an AI model over HTTP. Status codes map onto the
// engine's retry classification: 429 and 5xx are retryable (with Retry-After
// honored when present), other 4xx are terminal.
type ModelBackend struct {
	client   *http.Client
	endpoint string
	validate ValidateFunc
}

// NewModelBackend creates a backend posting requests to endpoint. A nil
// client uses http.DefaultClient; validate is optional.
func NewModelBackend(endpoint string, client *http.Client, validate ValidateFunc) *ModelBackend {
	if client == nil {
		client = http.DefaultClient
	}
	return &ModelBackend{client: client, endpoint: endpoint, validate: validate}
}

// Execute posts the payload to the model endpoint. The request Profile names
// the model and is forwarded as a header.
func (m *ModelBackend) Execute(ctx context.Context, req *model.Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(req.Payload))
	if err != nil {
		return nil, &model.BackendError{Name: "RequestError", Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Profile != "" {
		httpReq.Header.Set("X-Model", req.Profile)
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		// Context cancellation must surface as the token's typed error, not
		// as a network failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// Bare network error: no status code, terminal per platform policy.
		return nil, &model.BackendError{Name: "NetworkError", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &model.BackendError{
			Name:       errorName(resp.StatusCode),
			Message:    fmt.Sprintf("model endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(body)),
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &model.BackendError{Name: "ReadError", Message: err.Error()}
	}

	if m.validate != nil {
		if err := m.validate(out); err != nil {
			var ve *model.ValidationError
			if errors.As(err, &ve) {
				return nil, ve
			}
			return nil, &model.ValidationError{Message: err.Error()}
		}
	}

	return &Response{Output: out}, nil
}

// Capabilities reports the model flavor defaults.
func (m *ModelBackend) Capabilities() Capabilities {
	return Capabilities{
		Flavor:         model.FlavorModel,
		DefaultTimeout: modelDefaultTimeout,
		Description:    "AI model invocation over HTTP",
	}
}

func errorName(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "RateLimitError"
	case status >= 500:
		return "ServerError"
	default:
		return "ClientError"
	}
}

// parseRetryAfter handles the delay-seconds form of the Retry-After header.
// The HTTP-date form is rare from model providers and is ignored.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
