package handlers

import (
	"context"
	"net/url"
	"time"

	"github.com/rendis/leadflow/internal/expressions"
)

const (
	pdlBaseURL       = "https://api.peopledatalabs.com"
	builtwithBaseURL = "https://api.builtwith.com"
)

// Firmographic fields pulled out of the PDL company enrich response.
// jq keeps the extraction declarative; the API nests these unevenly.
var pdlExtractions = map[string]string{
	"employee_count": ".employee_count",
	"industry":       ".industry",
	"founded":        ".founded",
	"country":        ".location.country",
	"funding_total":  ".total_funding_raised",
}

// EnrichmentHandler augments leads with firmographic data from
// PeopleDataLabs and a technology stack lookup from BuiltWith.
type EnrichmentHandler struct {
	pdl       *apiClient
	builtwith *apiClient
	bwKey     string
	jq        *expressions.GoJQEngine
}

// NewEnrichmentFactory builds enrichment handlers. Config keys:
// pdl_api_key (required), builtwith_api_key (optional, skips tech lookup
// when absent), pdl_base_url, builtwith_base_url, timeout_seconds.
func NewEnrichmentFactory(jq *expressions.GoJQEngine) Factory {
	return func(config map[string]any, instructions string) (Handler, error) {
		pdlKey := stringParam(config, "pdl_api_key", "")
		if pdlKey == "" {
			return nil, missingConfig("enrichment", "pdl_api_key")
		}
		timeout := time.Duration(intParam(config, "timeout_seconds", 30)) * time.Second
		pdlBase := stringParam(config, "pdl_base_url", pdlBaseURL)
		h := &EnrichmentHandler{
			pdl:   newAPIClient(pdlBase, timeout, map[string]string{"X-Api-Key": pdlKey}),
			jq:    jq,
			bwKey: stringParam(config, "builtwith_api_key", ""),
		}
		if h.bwKey != "" {
			bwBase := stringParam(config, "builtwith_base_url", builtwithBaseURL)
			h.builtwith = newAPIClient(bwBase, timeout, nil)
		}
		return h, nil
	}
}

func (h *EnrichmentHandler) Execute(ctx context.Context, input Input) (map[string]any, error) {
	leads := leadList(input.Value("leads"))
	if leads == nil {
		return nil, missingInput("enrichment", "leads")
	}

	enriched := make([]map[string]any, 0, len(leads))
	var failures int
	for _, lead := range leads {
		out := cloneLead(lead)
		domain := fmtVal(lead["company_domain"])
		if domain == "" {
			out["enrichment_status"] = "skipped_no_domain"
			enriched = append(enriched, out)
			continue
		}
		if err := h.enrichFirmographics(ctx, domain, out); err != nil {
			failures++
			out["enrichment_status"] = "failed"
			enriched = append(enriched, out)
			continue
		}
		if h.builtwith != nil {
			// Tech lookup failure is not fatal: firmographics already landed.
			h.enrichTechnologies(ctx, domain, out)
		}
		out["enrichment_status"] = "enriched"
		enriched = append(enriched, out)
	}

	return map[string]any{
		"enriched_leads": enriched,
		"enriched_count": len(enriched) - failures,
		"failed_count":   failures,
	}, nil
}

func (h *EnrichmentHandler) enrichFirmographics(ctx context.Context, domain string, lead map[string]any) error {
	resp, err := h.pdl.getJSON(ctx, "/v5/company/enrich", url.Values{"website": {domain}})
	if err != nil {
		return err
	}
	for field, expr := range pdlExtractions {
		v, err := h.jq.Evaluate(ctx, expr, resp)
		if err != nil || v == nil {
			continue
		}
		lead[field] = v
	}
	return nil
}

func (h *EnrichmentHandler) enrichTechnologies(ctx context.Context, domain string, lead map[string]any) {
	resp, err := h.builtwith.getJSON(ctx, "/free1/api.json", url.Values{
		"KEY":    {h.bwKey},
		"LOOKUP": {domain},
	})
	if err != nil {
		return
	}
	names, err := h.jq.Evaluate(ctx, "[.groups[]?.name] | unique", resp)
	if err != nil {
		return
	}
	if techs := stringSlice(names); len(techs) > 0 {
		lead["technologies"] = techs
	}
}

func cloneLead(lead map[string]any) map[string]any {
	out := make(map[string]any, len(lead)+6)
	for k, v := range lead {
		out[k] = v
	}
	return out
}
