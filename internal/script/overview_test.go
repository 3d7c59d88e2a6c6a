package script

import "testing"

func TestNormalizeSectionIDs(t *testing.T) {
	sc := &Script{Sections: []Section{
		{ID: "Intro: The Cell!"},
		{ID: ""},
		{ID: "intro"},
		{ID: "intro"},
	}}
	normalizeSectionIDs(sc)

	if sc.Sections[0].ID != "Intro_The_Cell" {
		t.Fatalf("sanitized id = %q", sc.Sections[0].ID)
	}
	if sc.Sections[1].ID != "section_1" {
		t.Fatalf("empty id = %q", sc.Sections[1].ID)
	}
	seen := map[string]bool{}
	for i, sec := range sc.Sections {
		if !sectionIDPattern.MatchString(sec.ID) {
			t.Fatalf("section %d id %q unsafe", i, sec.ID)
		}
		if seen[sec.ID] {
			t.Fatalf("duplicate id %q survived", sec.ID)
		}
		seen[sec.ID] = true
	}
}

func TestNormalizeSectionIDsIdempotent(t *testing.T) {
	sc := &Script{Sections: []Section{{ID: "alpha"}, {ID: "beta_2"}}}
	normalizeSectionIDs(sc)
	if sc.Sections[0].ID != "alpha" || sc.Sections[1].ID != "beta_2" {
		t.Fatalf("safe ids changed: %q %q", sc.Sections[0].ID, sc.Sections[1].ID)
	}
}

func TestRewriteExternalReferences(t *testing.T) {
	sc := &Script{Sections: []Section{
		{
			ID:        "s0",
			Narration: "Energy flows through the cell. As shown in the figure on page 3, mitochondria produce ATP.",
		},
		{
			ID:        "s1",
			Narration: "Photosynthesis converts light into chemical energy.",
		},
	}}
	rewriteExternalReferences(sc)

	if len(sc.Sections[0].SupportingData) != 1 {
		t.Fatalf("supporting data = %+v", sc.Sections[0].SupportingData)
	}
	item := sc.Sections[0].SupportingData[0]
	if item.Kind != "referenced_content" || !item.RecreateInVideo {
		t.Fatalf("item = %+v", item)
	}
	if len(sc.Sections[1].SupportingData) != 0 {
		t.Fatalf("clean narration flagged: %+v", sc.Sections[1].SupportingData)
	}
}

func TestOverviewViolations(t *testing.T) {
	cfg := Config{
		OverviewMinSections:     3,
		OverviewMaxSections:     7,
		OverviewSectionMinWords: 3,
		OverviewSectionMaxWords: 10,
		OverviewMinDuration:     1,
		OverviewMaxDuration:     600,
	}
	p := &Pipeline{cfg: cfg.withDefaults()}

	good := &Script{Sections: []Section{
		{ID: "a", Narration: "one two three four five"},
		{ID: "b", Narration: "one two three four five"},
		{ID: "c", Narration: "one two three four five"},
	}}
	if v := p.overviewViolations(good); len(v) != 0 {
		t.Fatalf("unexpected violations: %v", v)
	}

	bad := &Script{Sections: []Section{
		{ID: "a", Narration: "too short"},
	}}
	v := p.overviewViolations(bad)
	if len(v) < 2 {
		t.Fatalf("violations = %v, want section count and word count reports", v)
	}
}
