package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Rectify/internal/apperr"
	"Rectify/internal/cache"
	"Rectify/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTPServiceBackends(t *testing.T) {
	tests := []struct {
		backend string
		path    string
		reply   string
		check   func(t *testing.T, r *http.Request, body map[string]interface{})
	}{
		{
			backend: config.BackendAnthropic,
			path:    "/v1/messages",
			reply:   `{"content":[{"type":"text","text":"{\"text\":\"hello\"}"}],"usage":{"input_tokens":10,"output_tokens":5}}`,
			check: func(t *testing.T, r *http.Request, body map[string]interface{}) {
				assert.Equal(t, "key", r.Header.Get("x-api-key"))
				assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
				assert.Equal(t, 0.8, body["temperature"])
				assert.EqualValues(t, 256, body["max_tokens"])
			},
		},
		{
			backend: config.BackendOpenAI,
			path:    "/v1/chat/completions",
			reply:   `{"choices":[{"message":{"role":"assistant","content":"{\"text\":\"hello\"}"}}],"usage":{"total_tokens":15}}`,
			check: func(t *testing.T, r *http.Request, body map[string]interface{}) {
				assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
				assert.Len(t, body["messages"], 2)
			},
		},
		{
			backend: config.BackendGrok,
			path:    "/v1/chat/completions",
			reply:   `{"choices":[{"message":{"role":"assistant","content":"{\"text\":\"hello\"}"}}]}`,
			check: func(t *testing.T, r *http.Request, body map[string]interface{}) {
				assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
			},
		},
		{
			backend: config.BackendOllama,
			path:    "/api/chat",
			reply:   `{"message":{"role":"assistant","content":"{\"text\":\"hello\"}"},"done":true,"eval_count":7}`,
			check: func(t *testing.T, r *http.Request, body map[string]interface{}) {
				assert.Equal(t, false, body["stream"])
				opts := body["options"].(map[string]interface{})
				assert.Equal(t, 0.8, opts["temperature"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.path, r.URL.Path)
				var body map[string]interface{}
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				tt.check(t, r, body)
				w.Write([]byte(tt.reply))
			}))
			defer srv.Close()

			svc, err := NewHTTPService(Options{Backend: tt.backend, BaseURL: srv.URL, APIKey: "key", Logger: discardLogger()})
			require.NoError(t, err)

			resp, err := svc.Generate(context.Background(), Request{Prompt: "p", TaskType: TaskQuestion, MaxTokens: 256, Temperature: 0.8})
			require.NoError(t, err)
			assert.Equal(t, `{"text":"hello"}`, resp.Content)
		})
	}
}

func TestHTTPServiceErrors(t *testing.T) {
	_, err := NewHTTPService(Options{Backend: config.BackendAnthropic})
	assert.ErrorIs(t, err, apperr.ErrGenerationUnavailable)

	_, err = NewHTTPService(Options{Backend: "palm", APIKey: "k"})
	assert.ErrorIs(t, err, apperr.ErrGenerationUnavailable)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	svc, err := NewHTTPService(Options{Backend: config.BackendOllama, BaseURL: srv.URL, Logger: discardLogger()})
	require.NoError(t, err)
	_, err = WithTimeout(svc, time.Second).Generate(context.Background(), Request{Prompt: "p"})
	assert.ErrorIs(t, err, apperr.ErrGenerationFailed)
	assert.ErrorContains(t, err, "503")
}

type slowService struct{}

func (slowService) Generate(ctx context.Context, req Request) (Response, error) {
	<-ctx.Done()
	return Response{}, ctx.Err()
}

func TestTimeoutService(t *testing.T) {
	_, err := WithTimeout(slowService{}, 20*time.Millisecond).Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, apperr.ErrGenerationTimeout)

	_, err = WithTimeout(&StaticService{Responses: []string{"  "}}, time.Second).Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, apperr.ErrGenerationFailed)

	unavailable := apperr.New(apperr.KindGenerationUnavailable, "no key")
	_, err = WithTimeout(&StaticService{Err: unavailable}, time.Second).Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, apperr.ErrGenerationUnavailable)

	_, err = WithTimeout(&StaticService{Err: errors.New("boom")}, time.Second).Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, apperr.ErrGenerationFailed)
}

func TestCachingService(t *testing.T) {
	inner := &StaticService{Responses: []string{"first", "second"}}
	svc := WithCache(inner, "ollama", cache.NewResponses(8, time.Hour), discardLogger())
	ctx := context.Background()

	resp, err := svc.Generate(ctx, Request{Prompt: "p", TaskType: TaskQuestion, Temperature: 0.7})
	require.NoError(t, err)
	assert.False(t, resp.Cached)

	resp, err = svc.Generate(ctx, Request{Prompt: "p", TaskType: TaskQuestion, Temperature: 0.7})
	require.NoError(t, err)
	assert.True(t, resp.Cached)
	assert.Equal(t, "first", resp.Content)

	resp, err = svc.Generate(ctx, Request{Prompt: "p", TaskType: TaskQuestion, Temperature: 0.8})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)
	assert.Len(t, inner.Calls, 2)
}

func TestStaticServiceRepeatsLast(t *testing.T) {
	s := &StaticService{Responses: []string{"a", "b"}}
	for _, want := range []string{"a", "b", "b"} {
		resp, err := s.Generate(context.Background(), Request{})
		require.NoError(t, err)
		assert.Equal(t, want, resp.Content)
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = config.BackendNone
	svc, cleanup, err := NewFromConfig(context.Background(), cfg, discardLogger(), nil, nil)
	require.NoError(t, err)
	defer cleanup()
	assert.Nil(t, svc)

	cfg.Backend = config.BackendOpenAI
	cfg.OpenAIAPIKey = ""
	_, _, err = NewFromConfig(context.Background(), cfg, discardLogger(), nil, nil)
	assert.ErrorIs(t, err, apperr.ErrGenerationUnavailable)

	cfg.Backend = config.BackendGemini
	cfg.GeminiAPIKey = ""
	_, _, err = NewFromConfig(context.Background(), cfg, discardLogger(), nil, nil)
	assert.ErrorIs(t, err, apperr.ErrGenerationUnavailable)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"content":"ok"}}`))
	}))
	defer srv.Close()
	cfg.Backend = config.BackendOllama
	cfg.OllamaURL = srv.URL
	svc, _, err = NewFromConfig(context.Background(), cfg, discardLogger(), nil, nil)
	require.NoError(t, err)
	resp, err := svc.Generate(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	resp, err = svc.Generate(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.True(t, resp.Cached)
}
