package filter

import (
	"errors"
	"testing"
)

// TestPatternDetector tests phase detection from page URLs.
func TestPatternDetector(t *testing.T) {
	t.Parallel()

	t.Run("landing pattern decides on its own", func(t *testing.T) {
		t.Parallel()

		d, err := NewPatternDetector(`^https://shop\.example\.com/?(\?.*)?$`, `/search`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		tests := map[string]Phase{
			"https://shop.example.com/":             PhaseLanding,
			"https://shop.example.com/?ref=ad":      PhaseLanding,
			"https://shop.example.com/search?q=tea": PhaseTarget,
			"https://shop.example.com/item/42":      PhaseTarget,
			"":                                      PhaseLanding,
			"about:blank":                           PhaseLanding,
		}
		for u, want := range tests {
			if got := d.Detect(u); got != want {
				t.Errorf("Detect(%q): expected %s, got %s", u, want, got)
			}
		}
	})

	t.Run("target pattern alone requires a match", func(t *testing.T) {
		t.Parallel()

		d, err := NewPatternDetector("", `/search`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d.Detect("https://shop.example.com/item/42") != PhaseLanding {
			t.Error("expected non-search page to stay landing")
		}
		if d.Detect("https://shop.example.com/search?q=tea") != PhaseTarget {
			t.Error("expected search page to be target")
		}
	})

	t.Run("target match wins over a matching landing pattern", func(t *testing.T) {
		t.Parallel()

		d, err := NewPatternDetector(`^https://shop\.example\.com/?(\?.*)?$`, `^https://shop\.example\.com/\?s=`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d.Detect("https://shop.example.com/?s=green+tea") != PhaseTarget {
			t.Error("expected root path results page to be target")
		}
		if d.Detect("https://shop.example.com/?ref=ad") != PhaseLanding {
			t.Error("expected landing page with query to stay landing")
		}
	})

	t.Run("no patterns is an error", func(t *testing.T) {
		t.Parallel()

		if _, err := NewPatternDetector("", ""); !errors.Is(err, ErrNoPattern) {
			t.Errorf("expected ErrNoPattern, got %v", err)
		}
	})

	t.Run("invalid patterns are reported", func(t *testing.T) {
		t.Parallel()

		if _, err := NewPatternDetector("(", ""); err == nil {
			t.Error("expected error for invalid landing pattern")
		}
		if _, err := NewPatternDetector("", "["); err == nil {
			t.Error("expected error for invalid target pattern")
		}
	})
}

// TestDetectorFunc tests the function adapter.
func TestDetectorFunc(t *testing.T) {
	t.Parallel()

	d := DetectorFunc(func(string) Phase { return PhaseTarget })
	if d.Detect("anything") != PhaseTarget {
		t.Error("expected adapter to return the function's result")
	}
}

// TestStateAndPhaseNames tests the textual forms used in reports.
func TestStateAndPhaseNames(t *testing.T) {
	t.Parallel()

	if StateOptimizing.String() != "optimizing" || StatePassthrough.String() != "passthrough" {
		t.Error("unexpected state names")
	}
	if PhaseLanding.String() != "landing" || PhaseTarget.String() != "target" {
		t.Error("unexpected phase names")
	}
	b, err := StatePassthrough.MarshalText()
	if err != nil || string(b) != "passthrough" {
		t.Errorf("expected passthrough, got %q (%v)", b, err)
	}

	var s State
	if err := s.UnmarshalText([]byte("passthrough")); err != nil || s != StatePassthrough {
		t.Errorf("expected passthrough to parse, got %s (%v)", s, err)
	}
	if err := s.UnmarshalText([]byte("paused")); err == nil {
		t.Error("expected unknown state to fail")
	}

	var p Phase
	if err := p.UnmarshalText([]byte("target")); err != nil || p != PhaseTarget {
		t.Errorf("expected target to parse, got %s (%v)", p, err)
	}
	if err := p.UnmarshalText([]byte("checkout")); err == nil {
		t.Error("expected unknown phase to fail")
	}
}
