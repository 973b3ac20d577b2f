package classifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestSimpleClassifier_Digest(t *testing.T) {
	c := NewSimpleClassifier(3)

	d := c.Digest(context.Background(), []string{
		"When is the giveaway? #Launch",
		"the airdrop form has an error",
		"thanks, great community",
		"#launch party tonight",
	})

	assert.Equal(t, []string{"giveaway", "launch", "feedback"}, d.Topics)
	assert.Equal(t, "4 messages, mostly about giveaway, launch, feedback", d.Summary)
}

func TestSimpleClassifier_NoTopics(t *testing.T) {
	d := NewSimpleClassifier(0).Digest(context.Background(), []string{"ok"})
	assert.Empty(t, d.Topics)
	assert.Equal(t, "1 message", d.Summary)
}

func chatCompletionServer(t *testing.T, content string, status int) (*httptest.Server, *string) {
	t.Helper()
	var prompt string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		prompt = string(body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &prompt
}

func newTestGPT(t *testing.T, srv *httptest.Server) *GPTClassifier {
	return NewGPTClassifier(GPTConfig{
		APIKey:    "test",
		BaseURL:   srv.URL + "/v1",
		Model:     "gpt-4o-mini",
		MaxTokens: 200,
		MaxTopics: 2,
	}, zaptest.NewLogger(t))
}

func TestGPTClassifier_Digest(t *testing.T) {
	srv, prompt := chatCompletionServer(t, "```json\n{\"topics\":[\"Giveaway\",\"support\",\"extra\"],\"summary\":\"Members ask about the giveaway.\"}\n```", http.StatusOK)

	d := newTestGPT(t, srv).Digest(context.Background(), []string{"when giveaway", "help me"})

	assert.Equal(t, []string{"giveaway", "support"}, d.Topics)
	assert.Equal(t, "Members ask about the giveaway.", d.Summary)
	assert.True(t, strings.Contains(*prompt, "when giveaway"))
}

func TestGPTClassifier_FallsBack(t *testing.T) {
	messages := []string{"thanks, great stuff"}
	want := NewSimpleClassifier(2).Digest(context.Background(), messages)

	srv, _ := chatCompletionServer(t, "not json", http.StatusOK)
	assert.Equal(t, want, newTestGPT(t, srv).Digest(context.Background(), messages))

	srv, _ = chatCompletionServer(t, "", http.StatusInternalServerError)
	assert.Equal(t, want, newTestGPT(t, srv).Digest(context.Background(), messages))
}
