package explain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaExplainer_Explain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "llama3.2", body["model"])
		assert.Contains(t, body["prompt"], "Question: grace period?")

		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		_ = enc.Encode(map[string]any{"model": "llama3.2", "response": "Thirty ", "done": false})
		_ = enc.Encode(map[string]any{"model": "llama3.2", "response": "days.", "done": false})
		_ = enc.Encode(map[string]any{"model": "llama3.2", "response": "", "done": true, "prompt_eval_count": 120, "eval_count": 8})
	}))
	defer srv.Close()

	e, err := NewOllamaExplainer(srv.URL, "llama3.2")
	require.NoError(t, err)

	exp, err := e.Explain(context.Background(), sampleRequest("grace period?"))
	require.NoError(t, err)
	assert.Equal(t, "Thirty days.", exp.Text)
	assert.Equal(t, 128, exp.TokensUsed)
}

func TestOllamaExplainer_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model crashed"}`))
	}))
	defer srv.Close()

	e, err := NewOllamaExplainer(srv.URL, "llama3.2")
	require.NoError(t, err)

	_, err = e.Explain(context.Background(), sampleRequest("q"))
	assert.ErrorContains(t, err, "ollama generate")
}

func TestOllamaExplainer_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"  ","done":true}` + "\n"))
	}))
	defer srv.Close()

	e, err := NewOllamaExplainer(srv.URL, "llama3.2")
	require.NoError(t, err)

	_, err = e.Explain(context.Background(), sampleRequest("q"))
	assert.ErrorContains(t, err, "no text")
}

func TestNewOllamaExplainer_RequiresModel(t *testing.T) {
	_, err := NewOllamaExplainer("http://localhost:11434", "")
	assert.Error(t, err)
}
