package handlers

import (
	"context"
	"time"
)

const apolloBaseURL = "https://api.apollo.io"

// ProspectSearchHandler finds leads matching an ideal customer profile via
// the Apollo people search API.
type ProspectSearchHandler struct {
	client       *apiClient
	instructions string
	defaultLimit int
}

// NewProspectSearchFactory builds prospect_search handlers. Config keys:
// api_key (required), base_url, timeout_seconds, limit.
func NewProspectSearchFactory() Factory {
	return func(config map[string]any, instructions string) (Handler, error) {
		apiKey := stringParam(config, "api_key", "")
		if apiKey == "" {
			return nil, missingConfig("prospect_search", "api_key")
		}
		base := stringParam(config, "base_url", apolloBaseURL)
		timeout := time.Duration(intParam(config, "timeout_seconds", 30)) * time.Second
		return &ProspectSearchHandler{
			client: newAPIClient(base, timeout, map[string]string{
				"X-Api-Key":     apiKey,
				"Cache-Control": "no-cache",
			}),
			instructions: instructions,
			defaultLimit: intParam(config, "limit", 25),
		}, nil
	}
}

func (h *ProspectSearchHandler) Execute(ctx context.Context, input Input) (map[string]any, error) {
	icp := mapParam(input.Values, "icp")
	if icp == nil {
		icp = mapParam(input.WorkflowConfig, "icp")
	}
	if icp == nil {
		return nil, missingInput("prospect_search", "icp")
	}

	limit := intParam(input.Values, "limit", h.defaultLimit)
	body := map[string]any{
		"page":     1,
		"per_page": limit,
	}
	if titles := stringSlice(icp["titles"]); len(titles) > 0 {
		body["person_titles"] = titles
	}
	if industries := stringSlice(icp["industries"]); len(industries) > 0 {
		body["organization_industries"] = industries
	}
	if locations := stringSlice(icp["locations"]); len(locations) > 0 {
		body["person_locations"] = locations
	}
	if sizes := stringSlice(icp["company_size"]); len(sizes) > 0 {
		body["organization_num_employees_ranges"] = sizes
	}

	resp, err := h.client.postJSON(ctx, "/v1/mixed_people/search", body)
	if err != nil {
		return nil, err
	}

	leads := make([]map[string]any, 0, limit)
	for _, person := range leadList(resp["people"]) {
		org := mapParam(person, "organization")
		lead := map[string]any{
			"name":         fmtVal(person["name"]),
			"title":        fmtVal(person["title"]),
			"email":        fmtVal(person["email"]),
			"linkedin_url": fmtVal(person["linkedin_url"]),
		}
		if org != nil {
			lead["company"] = fmtVal(org["name"])
			lead["company_domain"] = fmtVal(org["primary_domain"])
			lead["industry"] = fmtVal(org["industry"])
		}
		leads = append(leads, lead)
	}

	return map[string]any{
		"leads":  leads,
		"count":  len(leads),
		"source": "apollo",
	}, nil
}

func stringSlice(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
