package llm

import "testing"

func TestCostAppendPricesKnownModel(t *testing.T) {
	s := NewCostStore()
	rec := s.Append("gpt-4o", "section_0/plan", 1_000_000, 100_000)
	want := 2.50 + 0.1*10.00
	if diff := rec.Dollars - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("dollars = %v, want %v", rec.Dollars, want)
	}
}

func TestCostPrefixMatchForDatedSnapshots(t *testing.T) {
	s := NewCostStore()
	rec := s.Append("gpt-4o-2024-11-20", "", 1_000_000, 0)
	if rec.Dollars <= 0 {
		t.Fatalf("dated snapshot not priced: %v", rec.Dollars)
	}
}

func TestCostUnknownModelIsFree(t *testing.T) {
	s := NewCostStore()
	rec := s.Append("mystery-model", "", 1_000_000, 1_000_000)
	if rec.Dollars != 0 {
		t.Fatalf("unknown model priced at %v", rec.Dollars)
	}
}

func TestCostTotalsNeverDecrease(t *testing.T) {
	s := NewCostStore()
	prev := 0.0
	for i := 0; i < 20; i++ {
		s.Append("gpt-4o-mini", "loop", 1000*i, 500*i)
		cur := s.Summary("").Dollars
		if cur < prev {
			t.Fatalf("total decreased from %v to %v at call %d", prev, cur, i)
		}
		prev = cur
	}
	if got := s.Summary("").Calls; got != 20 {
		t.Fatalf("calls = %d", got)
	}
}

func TestCostSummaryScopePrefix(t *testing.T) {
	s := NewCostStore()
	s.Append("gpt-4o", "section_0/plan", 100, 100)
	s.Append("gpt-4o", "section_0/refine_1", 100, 100)
	s.Append("gpt-4o", "section_1/plan", 100, 100)
	s.Append("gpt-4o-mini", "overview", 100, 100)

	if got := s.Summary("section_0").Calls; got != 2 {
		t.Fatalf("section_0 calls = %d, want 2", got)
	}
	all := s.Summary("")
	if all.Calls != 4 {
		t.Fatalf("all calls = %d", all.Calls)
	}
	if len(all.ByModel) != 2 {
		t.Fatalf("by_model = %+v", all.ByModel)
	}
}

func TestCostLoadPricingOverridesDefaults(t *testing.T) {
	s := NewCostStore()
	yaml := []byte("my-model:\n  input_per_mtok: 3.0\n  output_per_mtok: 6.0\ngpt-4o:\n  input_per_mtok: 1.0\n  output_per_mtok: 1.0\n")
	if err := s.LoadPricing(yaml); err != nil {
		t.Fatalf("LoadPricing: %v", err)
	}
	if rec := s.Append("my-model", "", 1_000_000, 0); rec.Dollars != 3.0 {
		t.Fatalf("custom model dollars = %v", rec.Dollars)
	}
	if rec := s.Append("gpt-4o", "", 1_000_000, 0); rec.Dollars != 1.0 {
		t.Fatalf("override dollars = %v", rec.Dollars)
	}
}

func TestCostLoadPricingRejectsBadYAML(t *testing.T) {
	s := NewCostStore()
	if err := s.LoadPricing([]byte(":\n  - nope")); err == nil {
		t.Fatal("expected yaml error")
	}
}
