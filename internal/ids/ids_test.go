package ids

import "testing"

func TestGenerateShape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id := Generate()
		if len(id) != Length {
			t.Fatalf("expected %d characters, got %q", Length, id)
		}
		for _, r := range id {
			if r < 'a' || r > 'z' {
				t.Fatalf("expected lowercase letters only, got %q", id)
			}
		}
		seen[id] = true
	}
	if len(seen) < 190 {
		t.Fatalf("expected mostly distinct ids, got %d distinct of 200", len(seen))
	}
}

func TestGenerateUnusedRedraws(t *testing.T) {
	rejected := 0
	id := GenerateUnused(func(string) bool {
		rejected++
		return rejected <= 3
	})
	if id == "" {
		t.Fatal("expected an id")
	}
	if rejected != 4 {
		t.Fatalf("expected 4 draws, got %d", rejected)
	}
}
