package handlers

import (
	"context"
	"time"

	"github.com/rendis/leadflow/internal/expressions"
)

const sendgridBaseURL = "https://api.sendgrid.com"

// SendHandler delivers drafted messages through SendGrid. An optional
// suppression guard (CEL, workflow config sending.suppress_when) is
// evaluated per message with `lead`, `message` and `config` in scope;
// a true result withholds the send.
type SendHandler struct {
	client    *apiClient
	cel       *expressions.CELEngine
	fromEmail string
	fromName  string
	dryRun    bool
}

// NewSendFactory builds send handlers. Config keys: api_key (required
// unless dry_run), from_email (required), from_name, dry_run, base_url,
// timeout_seconds.
func NewSendFactory(cel *expressions.CELEngine) Factory {
	return func(config map[string]any, instructions string) (Handler, error) {
		h := &SendHandler{
			cel:       cel,
			fromEmail: stringParam(config, "from_email", ""),
			fromName:  stringParam(config, "from_name", ""),
			dryRun:    boolParam(config, "dry_run", false),
		}
		if h.fromEmail == "" {
			return nil, missingConfig("send", "from_email")
		}
		apiKey := stringParam(config, "api_key", "")
		if apiKey == "" && !h.dryRun {
			return nil, missingConfig("send", "api_key")
		}
		if apiKey != "" {
			timeout := time.Duration(intParam(config, "timeout_seconds", 30)) * time.Second
			base := stringParam(config, "base_url", sendgridBaseURL)
			h.client = newAPIClient(base, timeout, map[string]string{
				"Authorization": "Bearer " + apiKey,
			})
		}
		return h, nil
	}
}

func (h *SendHandler) Execute(ctx context.Context, input Input) (map[string]any, error) {
	messages := leadList(input.Value("messages"))
	if messages == nil {
		return nil, missingInput("send", "messages")
	}

	sending := mapParam(input.WorkflowConfig, "sending")
	suppressExpr := stringParam(sending, "suppress_when", "")

	sent := make([]map[string]any, 0, len(messages))
	var suppressed, failed int
	for _, msg := range messages {
		to := fmtVal(msg["lead_email"])
		if to == "" {
			failed++
			continue
		}

		if suppressExpr != "" {
			hold, err := h.cel.EvaluateBool(ctx, suppressExpr, map[string]any{
				"lead":    map[string]any{"email": to, "name": msg["lead_name"], "company": msg["company"], "score": msg["score"]},
				"message": msg,
				"config":  input.WorkflowConfig,
			})
			if err != nil {
				return nil, err
			}
			if hold {
				suppressed++
				continue
			}
		}

		if err := h.deliver(ctx, to, fmtVal(msg["subject"]), fmtVal(msg["body"])); err != nil {
			failed++
			continue
		}
		sent = append(sent, map[string]any{
			"lead_email": to,
			"subject":    msg["subject"],
			"sent_at":    time.Now().UTC().Format(time.RFC3339),
		})
	}

	return map[string]any{
		"sent":             sent,
		"sent_count":       len(sent),
		"suppressed_count": suppressed,
		"failed_count":     failed,
		"dry_run":          h.dryRun,
	}, nil
}

func (h *SendHandler) deliver(ctx context.Context, to, subject, body string) error {
	if h.dryRun || h.client == nil {
		return nil
	}
	_, err := h.client.postJSON(ctx, "/v3/mail/send", map[string]any{
		"personalizations": []map[string]any{
			{"to": []map[string]any{{"email": to}}},
		},
		"from":    map[string]any{"email": h.fromEmail, "name": h.fromName},
		"subject": subject,
		"content": []map[string]any{
			{"type": "text/plain", "value": body},
		},
	})
	return err
}
