package service

import (
	"context"
	"encoding/json"
	"gradeglide_backend/internal/config"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewModelClientWithoutKey(t *testing.T) {
	client, err := NewModelClient(context.Background(), config.AIConfig{Provider: "gemini"})
	if err != nil || client != nil {
		t.Fatalf("want nil client without api key, got %v err=%v", client, err)
	}
	if _, err := NewModelClient(context.Background(), config.AIConfig{Provider: "llama", APIKey: "k"}); err == nil {
		t.Fatalf("unknown provider should fail")
	}
}

func TestOpenAICompatibleGenerate(t *testing.T) {
	var got ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"obtained_marks\": 1}"}}]}`))
	}))
	defer srv.Close()

	client, err := NewModelClient(context.Background(), config.AIConfig{
		Provider: "openai",
		BaseURL:  srv.URL + "/v1/",
		APIKey:   "secret",
		Model:    "grader-mini",
	})
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	out, err := client.Generate(context.Background(), "grade this", ImagePart{MIMEType: "image/jpeg", Data: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != `{"obtained_marks": 1}` {
		t.Fatalf("content: got %q", out)
	}
	if got.Model != "grader-mini" || len(got.Messages) != 2 {
		t.Fatalf("request: got %+v", got)
	}
	parts, ok := got.Messages[1].Content.([]interface{})
	if !ok || len(parts) != 2 {
		t.Fatalf("user message should carry text and image parts, got %#v", got.Messages[1].Content)
	}
}

func TestOpenAICompatibleErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewAIService(config.AIConfig{BaseURL: srv.URL, APIKey: "k"})
	if _, err := client.Generate(context.Background(), "x"); err == nil {
		t.Fatalf("want error on 429")
	}
}

func TestModelProviderSwap(t *testing.T) {
	p := NewModelProvider(nil, time.Second)
	c, _, release := p.Acquire()
	release()
	if c != nil {
		t.Fatalf("want nil client initially")
	}

	m := &fakeModel{reply: "ok"}
	p.Swap(m, 3*time.Second)
	c, timeout, release := p.Acquire()
	release()
	if c != m || timeout != 3*time.Second {
		t.Fatalf("swap not applied: %v %v", c, timeout)
	}

	if err := p.Reload(context.Background(), config.AIConfig{}); err != nil {
		t.Fatalf("reload: %v", err)
	}
	c, _, release = p.Acquire()
	release()
	if c != nil {
		t.Fatalf("reload without key should clear the client")
	}
}

type closableModel struct {
	fakeModel
	closed chan struct{}
}

func (m *closableModel) Close() error {
	close(m.closed)
	return nil
}

func TestModelProviderSwapWaitsForInFlightCalls(t *testing.T) {
	old := &closableModel{closed: make(chan struct{})}
	p := NewModelProvider(old, time.Second)

	c, _, release := p.Acquire()
	if c != old {
		t.Fatalf("acquire: want old client got %v", c)
	}
	p.Swap(&fakeModel{reply: "new"}, time.Second)

	select {
	case <-old.closed:
		t.Fatalf("old client closed while a call was still using it")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-old.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("old client was never closed after the call finished")
	}
}
