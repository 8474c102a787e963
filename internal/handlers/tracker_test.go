package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/leadflow/internal/expressions"
	"github.com/rendis/leadflow/pkg/schema"
)

func TestTrackerFactory_RequiresAPIKey(t *testing.T) {
	_, err := NewTrackerFactory(expressions.NewGoJQEngine())(map[string]any{}, "")
	requireFlowCode(t, err, schema.ErrCodeValidation)
}

func TestTracker_JoinsActivityWithSent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/emailer_messages/search", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"emailer_messages": []map[string]any{
				{"to_email": "ada@acme.io", "opened_at": "2026-08-20T10:00:00Z", "replied_at": "2026-08-21T09:00:00Z"},
				{"to_email": "bob@x.io", "opened_at": "2026-08-20T11:00:00Z", "replied_at": nil},
				{"to_email": "unrelated@y.io", "opened_at": nil, "replied_at": nil},
			},
		})
	}))
	defer srv.Close()

	h, err := NewTrackerFactory(expressions.NewGoJQEngine())(map[string]any{
		"api_key": "k", "base_url": srv.URL,
	}, "")
	require.NoError(t, err)

	out, err := h.Execute(context.Background(), Input{
		Values: map[string]any{
			"sent": []map[string]any{
				{"lead_email": "ada@acme.io"},
				{"lead_email": "bob@x.io"},
				{"lead_email": "ghost@z.io"}, // no activity reported
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, out["tracked_count"])
	assert.InDelta(t, 2.0/3.0, out["open_rate"].(float64), 0.001)
	assert.InDelta(t, 1.0/3.0, out["reply_rate"].(float64), 0.001)

	responses := out["responses"].([]map[string]any)
	require.Len(t, responses, 3)
	assert.Equal(t, true, responses[0]["opened"])
	assert.Equal(t, true, responses[0]["replied"])
	assert.Equal(t, true, responses[1]["opened"])
	assert.Equal(t, false, responses[1]["replied"])
	assert.Equal(t, false, responses[2]["opened"], "no activity means not opened")
}

func TestTracker_EmptySentShortCircuits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no API call expected for an empty sent list")
	}))
	defer srv.Close()

	h, err := NewTrackerFactory(expressions.NewGoJQEngine())(map[string]any{
		"api_key": "k", "base_url": srv.URL,
	}, "")
	require.NoError(t, err)

	out, err := h.Execute(context.Background(), Input{
		Values: map[string]any{"sent": []map[string]any{}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, out["tracked_count"])
	assert.Equal(t, 0.0, out["open_rate"])
}

func TestTracker_MissingSentInput(t *testing.T) {
	h, err := NewTrackerFactory(expressions.NewGoJQEngine())(map[string]any{"api_key": "k"}, "")
	require.NoError(t, err)

	_, err = h.Execute(context.Background(), Input{})
	requireFlowCode(t, err, schema.ErrCodeValidation)
}
