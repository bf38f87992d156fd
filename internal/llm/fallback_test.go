package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type stubProvider struct {
	name  string
	resp  *Response
	err   error
	calls int
}

func (s *stubProvider) SendMessage(context.Context, *Request) (*Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func (s *stubProvider) Name() string { return s.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFallback_PrimaryAnswers(t *testing.T) {
	primary := &stubProvider{name: "anthropic", resp: &Response{Content: "hi"}}
	secondary := &stubProvider{name: "gemini", resp: &Response{Content: "nope"}}
	f := NewFallbackProvider([]Provider{primary, secondary}, discardLogger())

	resp, err := f.SendMessage(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hi" {
		t.Errorf("expected primary response, got %q", resp.Content)
	}
	if secondary.calls != 0 {
		t.Error("secondary must not be called when the primary answers")
	}
}

func TestFallback_SecondaryAnswersAfterPrimaryFails(t *testing.T) {
	primary := &stubProvider{name: "anthropic", err: errors.New("overloaded")}
	secondary := &stubProvider{name: "gemini", resp: &Response{Content: "hi"}}
	f := NewFallbackProvider([]Provider{primary, secondary}, discardLogger())

	resp, err := f.SendMessage(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hi" {
		t.Errorf("expected secondary response, got %q", resp.Content)
	}
}

func TestFallback_AllFail(t *testing.T) {
	primary := &stubProvider{name: "anthropic", err: errors.New("overloaded")}
	secondary := &stubProvider{name: "gemini", err: errors.New("quota")}
	f := NewFallbackProvider([]Provider{primary, secondary}, discardLogger())

	_, err := f.SendMessage(context.Background(), &Request{})
	if err == nil {
		t.Fatal("expected error when the whole chain fails")
	}
	// Both vendors' failures show up in the joined error.
	if !strings.Contains(err.Error(), "anthropic") || !strings.Contains(err.Error(), "gemini") {
		t.Errorf("joined error missing vendor names: %v", err)
	}
}

func TestFallback_Name(t *testing.T) {
	f := NewFallbackProvider([]Provider{
		&stubProvider{name: "anthropic"},
		&stubProvider{name: "gemini"},
	}, discardLogger())
	if f.Name() != "anthropic+gemini" {
		t.Errorf("unexpected chain name: %q", f.Name())
	}
}
