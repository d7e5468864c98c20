package crawler

import (
	"encoding/json"
	"fmt"

	"github.com/opsforge-io/harrier/internal/util"
)

// Payload is the crawl strategy's view of the opaque job payload. The queue
// never reads these fields; they belong to this package and to the pipeline
// consuming crawl output. Unknown fields pass through the queue untouched.
type Payload struct {
	URL                 string   `json:"url"`
	MaxDepth            int      `json:"max_depth,omitempty"`
	MaxConcurrent       int      `json:"max_concurrent,omitempty"`
	UseSitemap          bool     `json:"use_sitemap,omitempty"`
	ExtractCodeExamples bool     `json:"extract_code_examples,omitempty"`
	KnowledgeType       string   `json:"knowledge_type,omitempty"`
	Tags                []string `json:"tags,omitempty"`
	GenerateSummary     bool     `json:"generate_summary,omitempty"`
}

// ParsePayload decodes and validates a job payload. Only url is required;
// everything else falls back to strategy defaults.
func ParsePayload(raw json.RawMessage) (*Payload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	p.URL = util.NormaliseURL(p.URL)
	if p.URL == "" {
		return nil, fmt.Errorf("payload requires a valid url")
	}
	if p.MaxDepth < 0 {
		return nil, fmt.Errorf("max_depth cannot be negative")
	}
	if p.MaxConcurrent < 0 {
		return nil, fmt.Errorf("max_concurrent cannot be negative")
	}

	return &p, nil
}
