package embeddings

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func embedServer(t *testing.T, hits *atomic.Int64, vec []float32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.Model != "embed-test" {
			t.Errorf("unexpected model %q", req.Model)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": vec}},
		})
	}))
}

func TestEmbed_FetchAndCache(t *testing.T) {
	var hits atomic.Int64
	srv := embedServer(t, &hits, []float32{0.1, 0.2, 0.3})
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "embed-test"}, discardLogger())

	vec, err := c.Embed(context.Background(), "pizza")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("unexpected vector: %v", vec)
	}

	// Same text, different casing and spacing, still one upstream call.
	for _, q := range []string{"pizza", "  PIZZA ", "Pizza"} {
		if _, err := c.Embed(context.Background(), q); err != nil {
			t.Fatalf("cached embed failed: %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 upstream call, got %d", hits.Load())
	}
}

func TestEmbed_CacheExpiry(t *testing.T) {
	var hits atomic.Int64
	srv := embedServer(t, &hits, []float32{1})
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "embed-test", CacheTTL: time.Minute}, discardLogger())

	base := time.Now()
	c.now = func() time.Time { return base }
	if _, err := c.Embed(context.Background(), "pizza"); err != nil {
		t.Fatal(err)
	}

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := c.Embed(context.Background(), "pizza"); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 2 {
		t.Errorf("expired entry must re-fetch, got %d calls", hits.Load())
	}
}

func TestEmbed_EmptyInput(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://unused"}, discardLogger())
	if _, err := c.Embed(context.Background(), "   "); err == nil {
		t.Error("blank input must fail before any HTTP call")
	}
}

func TestEmbed_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"model overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "m"}, discardLogger())
	if _, err := c.Embed(context.Background(), "pizza"); err == nil {
		t.Error("expected error on 503")
	}
}

func TestEmbed_EmptyVectorRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "m"}, discardLogger())
	if _, err := c.Embed(context.Background(), "pizza"); err == nil {
		t.Error("empty vector payload must be rejected")
	}
}

func TestSweep(t *testing.T) {
	var hits atomic.Int64
	srv := embedServer(t, &hits, []float32{1})
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "embed-test", CacheTTL: time.Minute}, discardLogger())
	base := time.Now()
	c.now = func() time.Time { return base }

	for _, q := range []string{"pizza", "koshary", "burger"} {
		if _, err := c.Embed(context.Background(), q); err != nil {
			t.Fatal(err)
		}
	}

	if removed := c.Sweep(); removed != 0 {
		t.Errorf("nothing expired yet, swept %d", removed)
	}

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	if removed := c.Sweep(); removed != 3 {
		t.Errorf("expected 3 swept entries, got %d", removed)
	}
}

func TestCosine(t *testing.T) {
	cases := []struct {
		a, b []float32
		want float64
	}{
		{[]float32{1, 0}, []float32{1, 0}, 1},
		{[]float32{1, 0}, []float32{0, 1}, 0},
		{[]float32{1, 0}, []float32{-1, 0}, -1},
		{[]float32{1, 2}, []float32{1, 2, 3}, 0}, // dimension mismatch
		{[]float32{0, 0}, []float32{1, 1}, 0},    // zero vector
		{nil, nil, 0},
	}
	for _, c := range cases {
		if got := Cosine(c.a, c.b); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("Cosine(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}
