package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const openaiBaseURL = "https://api.openai.com"

// ContentHandler drafts a personalized outreach email per lead. With an
// OpenAI key configured it calls chat completions; without one it falls
// back to a deterministic template so pipelines stay runnable offline.
type ContentHandler struct {
	client       *apiClient
	model        string
	maxLeads     int
	instructions string
}

// NewContentFactory builds content handlers. Config keys: api_key
// (optional, enables LLM generation), model, base_url, max_leads,
// timeout_seconds.
func NewContentFactory() Factory {
	return func(config map[string]any, instructions string) (Handler, error) {
		h := &ContentHandler{
			model:        stringParam(config, "model", "gpt-4o-mini"),
			maxLeads:     intParam(config, "max_leads", 20),
			instructions: instructions,
		}
		if apiKey := stringParam(config, "api_key", ""); apiKey != "" {
			base := stringParam(config, "base_url", openaiBaseURL)
			timeout := time.Duration(intParam(config, "timeout_seconds", 60)) * time.Second
			h.client = newAPIClient(base, timeout, map[string]string{
				"Authorization": "Bearer " + apiKey,
			})
		}
		return h, nil
	}
}

func (h *ContentHandler) Execute(ctx context.Context, input Input) (map[string]any, error) {
	leads := leadList(input.Value("leads"))
	if leads == nil {
		leads = leadList(input.Value("ranked_leads"))
	}
	if leads == nil {
		return nil, missingInput("content", "leads")
	}
	if len(leads) > h.maxLeads {
		leads = leads[:h.maxLeads]
	}

	outreach := mapParam(input.WorkflowConfig, "outreach")
	persona := stringParam(outreach, "persona", "a sales representative")
	tone := stringParam(outreach, "tone", "professional and concise")
	valueProp := stringParam(outreach, "value_proposition", "")

	messages := make([]map[string]any, 0, len(leads))
	var failures int
	for _, lead := range leads {
		email := fmtVal(lead["email"])
		if email == "" {
			continue
		}
		subject, body, err := h.draft(ctx, lead, persona, tone, valueProp)
		if err != nil {
			failures++
			continue
		}
		messages = append(messages, map[string]any{
			"lead_email": email,
			"lead_name":  fmtVal(lead["name"]),
			"company":    fmtVal(lead["company"]),
			"score":      lead["score"],
			"subject":    subject,
			"body":       body,
		})
	}

	return map[string]any{
		"messages":        messages,
		"generated_count": len(messages),
		"failed_count":    failures,
	}, nil
}

func (h *ContentHandler) draft(ctx context.Context, lead map[string]any, persona, tone, valueProp string) (string, string, error) {
	if h.client == nil {
		return h.template(lead, valueProp)
	}

	prompt := fmt.Sprintf(
		"Write a cold outreach email as %s. Tone: %s.\nLead: %s, %s at %s (industry: %s).",
		persona, tone,
		fmtVal(lead["name"]), fmtVal(lead["title"]), fmtVal(lead["company"]), fmtVal(lead["industry"]),
	)
	if valueProp != "" {
		prompt += "\nValue proposition: " + valueProp
	}
	if h.instructions != "" {
		prompt += "\nAdditional guidance: " + h.instructions
	}
	prompt += "\nReply with the subject on the first line, then a blank line, then the body."

	resp, err := h.client.postJSON(ctx, "/v1/chat/completions", map[string]any{
		"model":    h.model,
		"messages": []map[string]any{{"role": "user", "content": prompt}},
	})
	if err != nil {
		return "", "", err
	}

	choices, _ := resp["choices"].([]any)
	if len(choices) == 0 {
		return h.template(lead, valueProp)
	}
	choice, _ := choices[0].(map[string]any)
	content := fmtVal(mapParam(choice, "message")["content"])
	if content == "" {
		return h.template(lead, valueProp)
	}
	return splitSubjectBody(content)
}

func (h *ContentHandler) template(lead map[string]any, valueProp string) (string, string, error) {
	name := firstName(fmtVal(lead["name"]))
	company := fmtVal(lead["company"])
	subject := fmt.Sprintf("Quick question about %s", company)
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", name)
	fmt.Fprintf(&b, "I came across %s and noticed your work as %s.\n\n", company, fmtVal(lead["title"]))
	if valueProp != "" {
		fmt.Fprintf(&b, "%s\n\n", valueProp)
	}
	b.WriteString("Would you be open to a brief call next week?\n")
	return subject, b.String(), nil
}

func splitSubjectBody(content string) (string, string, error) {
	parts := strings.SplitN(strings.TrimSpace(content), "\n", 2)
	subject := strings.TrimSpace(strings.TrimPrefix(parts[0], "Subject:"))
	body := ""
	if len(parts) == 2 {
		body = strings.TrimSpace(parts[1])
	}
	return subject, body, nil
}

func firstName(full string) string {
	if full == "" {
		return "there"
	}
	fields := strings.Fields(full)
	return fields[0]
}
