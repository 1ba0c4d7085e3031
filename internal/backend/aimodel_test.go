package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dot-do/functions-sub012/internal/model"
)

func TestModelBackendSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("X-Model"); got != "gpt-test" {
			t.Errorf("X-Model = %q, want gpt-test", got)
		}
		body, _ := io.ReadAll(r.Body)
		w.Write(append([]byte("echo:"), body...))
	}))
	defer srv.Close()

	b := NewModelBackend(srv.URL, srv.Client(), nil)
	resp, err := b.Execute(context.Background(), &model.Request{
		Payload: []byte(`{"prompt":"hi"}`),
		Profile: "gpt-test",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(resp.Output) != `echo:{"prompt":"hi"}` {
		t.Errorf("output = %q", resp.Output)
	}
}

func TestModelBackendRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b := NewModelBackend(srv.URL, srv.Client(), nil)
	_, err := b.Execute(context.Background(), &model.Request{})

	var be *model.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("error = %v, want BackendError", err)
	}
	if be.Name != "RateLimitError" || be.StatusCode != 429 {
		t.Errorf("error = {Name:%q StatusCode:%d}, want RateLimitError/429", be.Name, be.StatusCode)
	}
	if be.RetryAfter != 2*time.Second {
		t.Errorf("RetryAfter = %v, want 2s", be.RetryAfter)
	}
	if !strings.Contains(be.Message, "slow down") {
		t.Errorf("message = %q, missing response body", be.Message)
	}
}

func TestModelBackendStatusMapping(t *testing.T) {
	tests := []struct {
		status   int
		wantName string
	}{
		{http.StatusBadRequest, "ClientError"},
		{http.StatusNotFound, "ClientError"},
		{http.StatusInternalServerError, "ServerError"},
		{http.StatusBadGateway, "ServerError"},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		b := NewModelBackend(srv.URL, srv.Client(), nil)
		_, err := b.Execute(context.Background(), &model.Request{})
		srv.Close()

		var be *model.BackendError
		if !errors.As(err, &be) {
			t.Fatalf("status %d: error = %v, want BackendError", tt.status, err)
		}
		if be.Name != tt.wantName || be.StatusCode != tt.status {
			t.Errorf("status %d: got {Name:%q StatusCode:%d}, want %q", tt.status, be.Name, be.StatusCode, tt.wantName)
		}
	}
}

func TestModelBackendNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	b := NewModelBackend(srv.URL, nil, nil)
	_, err := b.Execute(context.Background(), &model.Request{})

	var be *model.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("error = %v, want BackendError", err)
	}
	if be.Name != "NetworkError" || be.StatusCode != 0 {
		t.Errorf("error = {Name:%q StatusCode:%d}, want NetworkError with no status", be.Name, be.StatusCode)
	}
}

func TestModelBackendContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	b := NewModelBackend(srv.URL, srv.Client(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Execute(ctx, &model.Request{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded surfaced raw", err)
	}
}

func TestModelBackendValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"incomplete":true}`))
	}))
	defer srv.Close()

	b := NewModelBackend(srv.URL, srv.Client(), func(output []byte) error {
		return &model.ValidationError{Message: "schema mismatch", Fields: []string{"name", "age"}}
	})

	_, err := b.Execute(context.Background(), &model.Request{})
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if len(ve.Fields) != 2 {
		t.Errorf("fields = %v, want the failing fields named", ve.Fields)
	}
	if !strings.Contains(ve.Error(), "name, age") {
		t.Errorf("message = %q, fields not listed", ve.Error())
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"0", 0},
		{"-1", 0},
		{"Wed, 21 Oct 2026 07:28:00 GMT", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
