package llm

import (
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ModelPrice is dollars per million tokens.
type ModelPrice struct {
	InputPerMTok  float64 `yaml:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok"`
}

// defaultPricing is the hardcoded fallback when no pricing YAML is supplied.
var defaultPricing = map[string]ModelPrice{
	"gpt-5.2":                {InputPerMTok: 1.25, OutputPerMTok: 10.00},
	"gpt-5-mini":             {InputPerMTok: 0.25, OutputPerMTok: 2.00},
	"gpt-4o":                 {InputPerMTok: 2.50, OutputPerMTok: 10.00},
	"gpt-4o-mini":            {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4o-mini-tts":        {InputPerMTok: 0.60, OutputPerMTok: 12.00},
	"text-embedding-3-small": {InputPerMTok: 0.02, OutputPerMTok: 0},
}

type CostRecord struct {
	At           time.Time `json:"at"`
	Model        string    `json:"model"`
	Scope        string    `json:"scope,omitempty"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Dollars      float64   `json:"dollars"`
}

type CostSummary struct {
	Calls        int                `json:"calls"`
	InputTokens  int                `json:"input_tokens"`
	OutputTokens int                `json:"output_tokens"`
	Dollars      float64            `json:"dollars"`
	ByModel      map[string]float64 `json:"by_model"`
}

// CostStore is the process-wide append-only record of gateway spend.
// Writes are serialized; Snapshot copies under the same lock so callers can
// read freely.
type CostStore struct {
	mu      sync.Mutex
	records []CostRecord
	pricing map[string]ModelPrice
}

func NewCostStore() *CostStore {
	pricing := make(map[string]ModelPrice, len(defaultPricing))
	for k, v := range defaultPricing {
		pricing[k] = v
	}
	return &CostStore{pricing: pricing}
}

// LoadPricing merges a YAML pricing table (model -> price) over the defaults.
func (s *CostStore) LoadPricing(data []byte) error {
	var table map[string]ModelPrice
	if err := yaml.Unmarshal(data, &table); err != nil {
		return err
	}
	s.mu.Lock()
	for k, v := range table {
		s.pricing[strings.ToLower(strings.TrimSpace(k))] = v
	}
	s.mu.Unlock()
	return nil
}

func (s *CostStore) priceFor(model string) ModelPrice {
	m := strings.ToLower(strings.TrimSpace(model))
	if p, ok := s.pricing[m]; ok {
		return p
	}
	// Prefix match covers dated snapshots like gpt-4o-2024-11-20.
	for k, p := range s.pricing {
		if strings.HasPrefix(m, k) {
			return p
		}
	}
	return ModelPrice{}
}

func (s *CostStore) Append(model, scope string, inputTokens, outputTokens int) CostRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.priceFor(model)
	rec := CostRecord{
		At:           time.Now().UTC(),
		Model:        model,
		Scope:        scope,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Dollars:      float64(inputTokens)/1e6*p.InputPerMTok + float64(outputTokens)/1e6*p.OutputPerMTok,
	}
	s.records = append(s.records, rec)
	return rec
}

func (s *CostStore) Snapshot() []CostRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CostRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Summary aggregates records whose scope starts with the given prefix.
// An empty prefix aggregates everything.
func (s *CostStore) Summary(scopePrefix string) CostSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := CostSummary{ByModel: map[string]float64{}}
	for _, r := range s.records {
		if scopePrefix != "" && !strings.HasPrefix(r.Scope, scopePrefix) {
			continue
		}
		sum.Calls++
		sum.InputTokens += r.InputTokens
		sum.OutputTokens += r.OutputTokens
		sum.Dollars += r.Dollars
		sum.ByModel[r.Model] += r.Dollars
	}
	return sum
}

// Reset drops all records. Explicit lifecycle call, mainly for tests.
func (s *CostStore) Reset() {
	s.mu.Lock()
	s.records = nil
	s.mu.Unlock()
}
