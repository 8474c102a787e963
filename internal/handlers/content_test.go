package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/leadflow/pkg/schema"
)

func TestContent_TemplateFallback(t *testing.T) {
	h, err := NewContentFactory()(nil, "")
	require.NoError(t, err)

	out, err := h.Execute(context.Background(), Input{
		Values: map[string]any{
			"ranked_leads": []map[string]any{
				{
					"email": "ada@acme.io", "name": "Ada Lovelace",
					"company": "Acme", "title": "VP Engineering", "score": 0.9,
				},
			},
		},
		WorkflowConfig: map[string]any{
			"outreach": map[string]any{
				"value_proposition": "We cut onboarding time in half.",
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, out["generated_count"])
	assert.Equal(t, 0, out["failed_count"])

	messages := out["messages"].([]map[string]any)
	require.Len(t, messages, 1)
	msg := messages[0]
	assert.Equal(t, "ada@acme.io", msg["lead_email"])
	assert.Equal(t, "Quick question about Acme", msg["subject"])
	body := msg["body"].(string)
	assert.Contains(t, body, "Hi Ada,")
	assert.Contains(t, body, "VP Engineering")
	assert.Contains(t, body, "We cut onboarding time in half.")
	assert.Equal(t, 0.9, msg["score"])
}

func TestContent_LLMGeneration(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "gpt-4o-mini", body["model"])
		msgs := body["messages"].([]any)
		gotPrompt = msgs[0].(map[string]any)["content"].(string)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{
					"content": "Scaling engineering at Acme\n\nHi Ada, saw your team is growing.",
				}},
			},
		})
	}))
	defer srv.Close()

	h, err := NewContentFactory()(map[string]any{
		"api_key": "sk-test", "base_url": srv.URL,
	}, "Mention the hiring spike.")
	require.NoError(t, err)

	out, err := h.Execute(context.Background(), Input{
		Values: map[string]any{
			"leads": []map[string]any{
				{"email": "ada@acme.io", "name": "Ada Lovelace", "company": "Acme", "title": "VP Engineering"},
			},
		},
		WorkflowConfig: map[string]any{
			"outreach": map[string]any{"persona": "a founder", "tone": "warm"},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, gotPrompt, "a founder")
	assert.Contains(t, gotPrompt, "warm")
	assert.Contains(t, gotPrompt, "Mention the hiring spike.")

	messages := out["messages"].([]map[string]any)
	require.Len(t, messages, 1)
	assert.Equal(t, "Scaling engineering at Acme", messages[0]["subject"])
	assert.Equal(t, "Hi Ada, saw your team is growing.", messages[0]["body"])
}

func TestContent_LLMFailureCountsAsFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h, err := NewContentFactory()(map[string]any{
		"api_key": "sk", "base_url": srv.URL,
	}, "")
	require.NoError(t, err)

	out, err := h.Execute(context.Background(), Input{
		Values: map[string]any{
			"leads": []map[string]any{
				{"email": "a@x.io", "name": "A", "company": "X"},
			},
		},
	})
	require.NoError(t, err, "per-lead drafting failures must not fail the step")
	assert.Equal(t, 0, out["generated_count"])
	assert.Equal(t, 1, out["failed_count"])
}

func TestContent_SkipsLeadsWithoutEmailAndCapsBatch(t *testing.T) {
	h, err := NewContentFactory()(map[string]any{"max_leads": 2}, "")
	require.NoError(t, err)

	out, err := h.Execute(context.Background(), Input{
		Values: map[string]any{
			"leads": []map[string]any{
				{"name": "No Email", "company": "X"},
				{"email": "a@x.io", "name": "A", "company": "X"},
				{"email": "b@x.io", "name": "B", "company": "X"},
			},
		},
	})
	require.NoError(t, err)

	// The cap truncates before drafting, then the lead without an email is
	// skipped.
	assert.Equal(t, 1, out["generated_count"])
}

func TestContent_MissingLeads(t *testing.T) {
	h, err := NewContentFactory()(nil, "")
	require.NoError(t, err)

	_, err = h.Execute(context.Background(), Input{})
	requireFlowCode(t, err, schema.ErrCodeValidation)
}

func TestSplitSubjectBody(t *testing.T) {
	subject, body, err := splitSubjectBody("Subject: Hello\n\nFirst line.\nSecond line.")
	require.NoError(t, err)
	assert.Equal(t, "Hello", subject)
	assert.Equal(t, "First line.\nSecond line.", body)

	subject, body, err = splitSubjectBody("Only a subject")
	require.NoError(t, err)
	assert.Equal(t, "Only a subject", subject)
	assert.Empty(t, body)
}

func TestFirstName(t *testing.T) {
	assert.Equal(t, "Ada", firstName("Ada Lovelace"))
	assert.Equal(t, "there", firstName(""))
	assert.Equal(t, "Grace", firstName("  Grace Hopper "))
}
