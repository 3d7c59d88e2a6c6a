package script

import (
	"strings"
	"testing"
)

const passageSource = `Mitochondria are the power plants of the cell. They produce ATP through oxidative phosphorylation.

The cell membrane is a lipid bilayer. It controls what enters and leaves the cell.

Ribosomes assemble proteins from amino acids. Translation happens on the rough endoplasmic reticulum.

The nucleus stores genetic material. DNA is organized into chromosomes.`

func TestSelectPassagesScoresByOverlap(t *testing.T) {
	got := SelectPassages(passageSource, "mitochondria ATP energy production", 0, 4, 200)
	if !strings.Contains(got, "Mitochondria") {
		t.Fatalf("relevant paragraph missing:\n%s", got)
	}
	if strings.Contains(got, "Ribosomes") {
		t.Fatalf("irrelevant paragraph included:\n%s", got)
	}
}

func TestSelectPassagesKeepsDocumentOrder(t *testing.T) {
	got := SelectPassages(passageSource, "cell membrane mitochondria nucleus chromosomes", 0, 4, 10_000)
	iMito := strings.Index(got, "Mitochondria")
	iNucleus := strings.Index(got, "nucleus")
	if iMito < 0 || iNucleus < 0 {
		t.Fatalf("expected paragraphs missing:\n%s", got)
	}
	if iMito > iNucleus {
		t.Fatal("selected passages reordered")
	}
}

func TestSelectPassagesFallsBackToWindow(t *testing.T) {
	got := SelectPassages(passageSource, "zzz qqq xxx", 1, 2, 100)
	if got == "" {
		t.Fatal("fallback window empty")
	}
	if len(got) > 100 {
		t.Fatalf("window %d chars, want <= 100", len(got))
	}
}

func TestSelectPassagesEmptySource(t *testing.T) {
	if got := SelectPassages("   ", "query", 0, 1, 100); got != "" {
		t.Fatalf("got %q for empty source", got)
	}
}

func TestSelectPassagesRespectsBudget(t *testing.T) {
	got := SelectPassages(passageSource, "cell", 0, 4, 120)
	if len(got) > 240 {
		t.Fatalf("selection far over budget: %d chars", len(got))
	}
}
