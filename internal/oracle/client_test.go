package oracle

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

type verifyResponse struct {
	Score float64 `json:"score"`
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestNewClient_MissingBaseURL(t *testing.T) {
	_, err := NewClient("")
	if !errors.Is(err, ErrBaseURLRequired) {
		t.Errorf("expected ErrBaseURLRequired, got %v", err)
	}
}

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient("http://voice:8000/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.BaseURL() != "http://voice:8000" {
		t.Errorf("expected trailing slash trimmed, got %s", client.BaseURL())
	}
	if client.maxRetries != 0 {
		t.Errorf("expected no retries by default, got %d", client.maxRetries)
	}
	if client.httpClient.Timeout != 0 {
		t.Errorf("expected no client timeout, got %v", client.httpClient.Timeout)
	}
}

func TestWithHTTPClient(t *testing.T) {
	customClient := &http.Client{Timeout: 60 * time.Second}
	client, err := NewClient("http://face:8000", WithHTTPClient(customClient))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.httpClient != customClient {
		t.Error("expected custom HTTP client to be set")
	}
}

func TestPostMultipart_Success(t *testing.T) {
	ref := writeTemp(t, "ref.wav", "reference-bytes")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/verify" {
			t.Errorf("expected /verify, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected Bearer test-key, got %s", r.Header.Get("Authorization"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		if got := r.FormValue("model_name"); got != "Facenet512" {
			t.Errorf("model_name = %q", got)
		}
		f, hdr, err := r.FormFile("reference")
		if err != nil {
			t.Errorf("missing reference file: %v", err)
			return
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		if string(body) != "reference-bytes" || hdr.Filename != "ref.wav" {
			t.Errorf("unexpected upload %q (%s)", body, hdr.Filename)
		}

		_ = json.NewEncoder(w).Encode(verifyResponse{Score: 0.91})
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, WithAPIKey("test-key"))

	var resp verifyResponse
	err := client.PostMultipart(context.Background(), "/verify",
		[]Part{File("reference", ref), Field("model_name", "Facenet512")}, &resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Score != 0.91 {
		t.Errorf("expected score 0.91, got %v", resp.Score)
	}
}

func TestPostMultipart_NoAuthHeaderWithoutKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h := r.Header.Get("Authorization"); h != "" {
			t.Errorf("unexpected Authorization header %q", h)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, _ := NewClient(server.URL)
	if err := client.PostMultipart(context.Background(), "/verify", nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPostMultipart_MissingFile(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
	}))
	defer server.Close()

	client, _ := NewClient(server.URL)
	err := client.PostMultipart(context.Background(), "/verify",
		[]Part{File("candidate", "/nonexistent/clip.wav")}, nil)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
	if atomic.LoadInt32(&attempts) != 0 {
		t.Error("request should not be sent when an upload is missing")
	}
}

func TestPostMultipart_BadJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	client, _ := NewClient(server.URL)
	var resp verifyResponse
	if err := client.PostMultipart(context.Background(), "/verify", nil, &resp); err == nil {
		t.Error("expected unmarshal error")
	}
}

func TestPostMultipart_ContextDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second): // Simulate slow response
		}
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, WithMaxRetries(3), WithBaseBackoff(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := client.PostMultipart(ctx, "/verify", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestStreamMultipart(t *testing.T) {
	audio := writeTemp(t, "rec.wav", "pcm")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/diarize" {
			t.Errorf("expected /diarize, got %s", r.URL.Path)
		}
		flusher, _ := w.(http.Flusher)
		for i := range 3 {
			fmt.Fprintf(w, "{\"start\":%d,\"end\":%d,\"speaker\":\"S%d\"}\n", i, i+1, i)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer server.Close()

	client, _ := NewClient(server.URL)
	body, err := client.StreamMultipart(context.Background(), "/diarize", []Part{File("audio", audio)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer body.Close()

	var lines int
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		lines++
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if lines != 3 {
		t.Errorf("expected 3 lines, got %d", lines)
	}
}

func TestRetry_TransientFailure(t *testing.T) {
	ref := writeTemp(t, "ref.wav", "bytes")
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := atomic.AddInt32(&attempts, 1)

		// Every attempt must carry the full upload.
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("attempt %d: parse multipart: %v", count, err)
		}

		if count < 3 {
			// First two attempts fail with 503
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("service unavailable"))
			return
		}
		_ = json.NewEncoder(w).Encode(verifyResponse{Score: 0.5})
	}))
	defer server.Close()

	client, _ := NewClient(server.URL,
		WithMaxRetries(3),
		WithBaseBackoff(10*time.Millisecond),
	)

	var resp verifyResponse
	err := client.PostMultipart(context.Background(), "/verify", []Part{File("reference", ref)}, &resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Score != 0.5 {
		t.Errorf("expected score 0.5, got %v", resp.Score)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_DisabledByDefault(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, _ := NewClient(server.URL)

	err := client.PostMultipart(context.Background(), "/verify", nil, nil)
	if !errors.Is(err, ErrServerError) {
		t.Errorf("expected ErrServerError, got %v", err)
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("service unavailable"))
	}))
	defer server.Close()

	client, _ := NewClient(server.URL,
		WithMaxRetries(2),
		WithBaseBackoff(10*time.Millisecond),
	)

	err := client.PostMultipart(context.Background(), "/verify", nil, nil)
	if !errors.Is(err, ErrServerError) {
		t.Errorf("expected wrapped ErrServerError after max retries, got %v", err)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnprocessableEntity) // 4xx is not retryable
		_, _ = w.Write([]byte("no speech in candidate"))
	}))
	defer server.Close()

	client, _ := NewClient(server.URL,
		WithMaxRetries(3),
		WithBaseBackoff(10*time.Millisecond),
	)

	err := client.PostMultipart(context.Background(), "/verify", nil, nil)
	if !errors.Is(err, ErrRequestFailed) {
		t.Errorf("expected ErrRequestFailed, got %v", err)
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("expected 1 attempt (no retries for 422), got %d", attempts)
	}
}

func TestRetry_RateLimited(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := atomic.AddInt32(&attempts, 1)
		if count < 2 {
			w.WriteHeader(http.StatusTooManyRequests) // 429 is retryable
			_, _ = w.Write([]byte("rate limited"))
			return
		}
		_, _ = w.Write([]byte(`{"score":1}`))
	}))
	defer server.Close()

	client, _ := NewClient(server.URL,
		WithMaxRetries(3),
		WithBaseBackoff(10*time.Millisecond),
	)

	var resp verifyResponse
	if err := client.PostMultipart(context.Background(), "/verify", nil, &resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Score != 1 {
		t.Errorf("expected score 1, got %v", resp.Score)
	}
}
