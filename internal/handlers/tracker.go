package handlers

import (
	"context"
	"time"

	"github.com/rendis/leadflow/internal/expressions"
)

// TrackerHandler collects engagement stats for sent outreach from the
// Apollo email accounts activity endpoint and reduces them to rates.
type TrackerHandler struct {
	client *apiClient
	jq     *expressions.GoJQEngine
}

// NewTrackerFactory builds response tracking handlers. Config keys:
// api_key (required), base_url, timeout_seconds.
func NewTrackerFactory(jq *expressions.GoJQEngine) Factory {
	return func(config map[string]any, instructions string) (Handler, error) {
		apiKey := stringParam(config, "api_key", "")
		if apiKey == "" {
			return nil, missingConfig("track_responses", "api_key")
		}
		base := stringParam(config, "base_url", apolloBaseURL)
		timeout := time.Duration(intParam(config, "timeout_seconds", 30)) * time.Second
		return &TrackerHandler{
			client: newAPIClient(base, timeout, map[string]string{"X-Api-Key": apiKey}),
			jq:     jq,
		}, nil
	}
}

func (h *TrackerHandler) Execute(ctx context.Context, input Input) (map[string]any, error) {
	sent := leadList(input.Value("sent"))
	if sent == nil {
		return nil, missingInput("track_responses", "sent")
	}
	if len(sent) == 0 {
		return map[string]any{
			"responses": []map[string]any{}, "tracked_count": 0,
			"open_rate": 0.0, "reply_rate": 0.0,
		}, nil
	}

	resp, err := h.client.postJSON(ctx, "/v1/emailer_messages/search", map[string]any{
		"emailer_message_stats": true,
		"per_page":              len(sent),
	})
	if err != nil {
		return nil, err
	}

	// Index activity by recipient so stats line up with what we sent.
	extracted, err := h.jq.Evaluate(ctx,
		`[.emailer_messages[]? | {email: .to_email, opened: (.opened_at != null), replied: (.replied_at != null), bounced: (.bounced == true)}]`,
		resp)
	if err != nil {
		return nil, err
	}
	byEmail := make(map[string]map[string]any)
	for _, item := range leadList(extracted) {
		byEmail[fmtVal(item["email"])] = item
	}

	responses := make([]map[string]any, 0, len(sent))
	var opened, replied int
	for _, msg := range sent {
		email := fmtVal(msg["lead_email"])
		r := map[string]any{"lead_email": email, "opened": false, "replied": false}
		if activity, ok := byEmail[email]; ok {
			r["opened"] = activity["opened"] == true
			r["replied"] = activity["replied"] == true
			r["bounced"] = activity["bounced"] == true
		}
		if r["opened"] == true {
			opened++
		}
		if r["replied"] == true {
			replied++
		}
		responses = append(responses, r)
	}

	n := float64(len(sent))
	return map[string]any{
		"responses":     responses,
		"tracked_count": len(responses),
		"open_rate":     float64(opened) / n,
		"reply_rate":    float64(replied) / n,
	}, nil
}
