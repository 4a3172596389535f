package rotation

import (
	"errors"
	"testing"
)

func recencySet(assetIDs ...string) map[string]struct{} {
	recent := make(map[string]struct{}, len(assetIDs))
	for _, assetID := range assetIDs {
		recent[assetID] = struct{}{}
	}
	return recent
}

func TestSelectNextEmptyCatalogFails(t *testing.T) {
	_, err := SelectNext(nil, recencySet())
	if !errors.Is(err, ErrEmptyCatalog) {
		t.Fatalf("expected ErrEmptyCatalog, got %v", err)
	}
}

func TestSelectNextReturnsFirstUnseenCandidate(t *testing.T) {
	selected, err := SelectNext([]string{"a", "b", "c"}, recencySet("a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if selected != "b" {
		t.Fatalf("expected first unseen candidate b, got %q", selected)
	}
}

func TestSelectNextEmptyRecencyReturnsHead(t *testing.T) {
	selected, err := SelectNext([]string{"a", "b", "c"}, recencySet())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if selected != "a" {
		t.Fatalf("expected head of catalog, got %q", selected)
	}
}

func TestSelectNextExhaustedCatalogDegradesToHead(t *testing.T) {
	selected, err := SelectNext([]string{"a", "b", "c"}, recencySet("a", "b", "c"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if selected != "a" {
		t.Fatalf("expected fallback to first candidate, got %q", selected)
	}
}

func TestSelectNextIsIdempotentPerFixedInputs(t *testing.T) {
	candidates := []string{"a", "b", "c"}
	recent := recencySet("a", "b", "c")

	first, err := SelectNext(candidates, recent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := SelectNext(candidates, recent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical selection for identical inputs, got %q then %q", first, second)
	}
}

func TestSelectNextProperSubsetSkipsRecent(t *testing.T) {
	cases := []struct {
		name     string
		recent   map[string]struct{}
		expected string
	}{
		{name: "none recent", recent: recencySet(), expected: "a"},
		{name: "head recent", recent: recencySet("a"), expected: "b"},
		{name: "middle recent", recent: recencySet("b"), expected: "a"},
		{name: "two recent", recent: recencySet("a", "b"), expected: "c"},
	}

	for _, testCase := range cases {
		selected, err := SelectNext([]string{"a", "b", "c"}, testCase.recent)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", testCase.name, err)
		}
		if selected != testCase.expected {
			t.Fatalf("%s: expected %q, got %q", testCase.name, testCase.expected, selected)
		}
	}
}
