package registry

import (
	"errors"
	"testing"

	"github.com/farescout/farescout/core"
)

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"Alibaba":        "alibaba",
		"fly-today":      "fly_today",
		"Safar 724":      "safar_724",
		"  MrBilit  ":    "mrbilit",
		"charter.flight": "charter_flight",
	}
	for input, want := range cases {
		if got := NormalizeName(input); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Metadata{Name: "Alibaba", Active: true}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	meta, ok := r.Get("alibaba")
	if !ok {
		t.Fatal("registered adapter not found")
	}
	if meta.Strategy != "direct" {
		t.Errorf("default strategy: got %q", meta.Strategy)
	}

	err := r.Register(Metadata{
		Name:     "FlyToday",
		Kind:     "persian",
		BaseURL:  "https://flytoday.test",
		Currency: "IRR",
		Features: []string{"round_trip"},
		Active:   true,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	meta, _ = r.Get("flytoday")
	if meta.Kind != "persian" || meta.BaseURL != "https://flytoday.test" || meta.Currency != "IRR" {
		t.Errorf("site metadata not retained: %+v", meta)
	}
	if len(meta.Features) != 1 || meta.Features[0] != "round_trip" {
		t.Errorf("features not retained: %v", meta.Features)
	}

	// Any spelling that normalizes the same resolves.
	if _, ok := r.Get("ALIBABA"); !ok {
		t.Error("case-insensitive lookup failed")
	}

	if err := r.Register(Metadata{Name: "ali-baba"}); err != nil {
		t.Fatalf("Register distinct name: %v", err)
	}
	if err := r.Register(Metadata{Name: "Alibaba"}); !errors.Is(err, core.ErrAdapterExists) {
		t.Errorf("duplicate registration: got %v", err)
	}
}

func TestRegisterRejectsBadMetadata(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Metadata{}); !errors.Is(err, core.ErrMissingConfiguration) {
		t.Errorf("empty name: got %v", err)
	}
	if err := r.Register(Metadata{Name: "x", Strategy: "plugin"}); !errors.Is(err, core.ErrInvalidConfiguration) {
		t.Errorf("unknown strategy: got %v", err)
	}
}

func TestModuleStrategyDefaultsModuleName(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Metadata{Name: "FlyToday", Strategy: "module"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	meta, _ := r.Get("flytoday")
	if meta.Module != "flytoday" {
		t.Errorf("module default: got %q", meta.Module)
	}
}

func TestSuggest(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"alibaba", "flytoday", "safar724", "mrbilit"} {
		if err := r.Register(Metadata{Name: name}); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}

	// One trailing character off: edit distance 1.
	suggestions := r.Suggest("alibabaa")
	if len(suggestions) == 0 || suggestions[0] != "alibaba" {
		t.Errorf("typo suggestions: got %v", suggestions)
	}

	// Substring match.
	suggestions = r.Suggest("bilit")
	if len(suggestions) != 1 || suggestions[0] != "mrbilit" {
		t.Errorf("substring suggestions: got %v", suggestions)
	}

	if suggestions := r.Suggest("zzzzzzzzz"); len(suggestions) != 0 {
		t.Errorf("unrelated query suggested %v", suggestions)
	}
}

func TestEditDistance(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"alibaba", "alibaba", 0},
		{"alibaba", "alibabaa", 1},
		{"flytoday", "flytody", 1},
		{"abc", "xyz", 3},
		{"", "ab", 2},
	}
	for _, tc := range cases {
		if got := editDistance(tc.a, tc.b); got != tc.want {
			t.Errorf("editDistance(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestNotFoundErrorMessage(t *testing.T) {
	err := &NotFoundError{Name: "alibabaa", Suggestions: []string{"alibaba"}}
	if !errors.Is(err, core.ErrAdapterNotFound) {
		t.Error("NotFoundError must unwrap to the sentinel")
	}
	if msg := err.Error(); msg == "" || msg == "adapter \"alibabaa\" not found" {
		t.Errorf("suggestions missing from message: %q", msg)
	}
}
