package textproc

import (
	"math"
	"strings"
	"testing"
)

// Expected values were recorded from difflib.SequenceMatcher(None, a.lower(), b.lower()).ratio().
func TestRatio_GoldenVectors(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"This is a test", "This is a test", 1.0},
		{"This is a test extra words", "This is a test", 0.7},
		{"hello world", "HELLO WORLD", 1.0},
		{"abcd", "bcde", 0.75},
		{"the quick brown fox", "the quick brown dog", 0.8947368421052632},
		{"caption line one", "completely different", 0.2777777777777778},
		{"", "", 1.0},
		{"abc", "", 0.0},
		{"private", "privately", 0.875},
		{"meeting notes today", "meeting notes tomorrow", 0.7804878048780488},
		{"Good morning everyone", "Today we discuss the budget", 0.16666666666666666},
		{"Questions are welcome at the end", "Today we discuss the budget", 0.4406779661016949},
		// Long inputs exercise the auto-junk heuristic.
		{strings.Repeat("ab", 150), strings.Repeat("ba", 150), 0.0},
		{strings.Repeat("the cat sat on the mat and ", 10), strings.Repeat("a dog sat on a log and ", 10), 0.0},
		{"x" + strings.Repeat("ab", 150), "x" + strings.Repeat("ba", 150), 0.0033222591362126247},
		{"xy" + strings.Repeat("ab", 150), "xy" + strings.Repeat("ab", 150), 1.0},
		{strings.Repeat("ab", 150) + "z", strings.Repeat("ab", 150) + "z", 1.0},
	}

	for _, tt := range tests {
		got := Ratio(tt.a, tt.b)
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Ratio(%.20q, %.20q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestRatio_Bounds(t *testing.T) {
	inputs := []string{"", "a", "caption", "Xin chào các bạn", "the quick brown fox jumps"}
	for _, a := range inputs {
		for _, b := range inputs {
			r := Ratio(a, b)
			if r < 0 || r > 1 {
				t.Errorf("Ratio(%q, %q) = %v, outside [0,1]", a, b, r)
			}
		}
	}
}

func TestRatio_CountsRunes(t *testing.T) {
	// Four runes each, one shared suffix block of three: 2*3/8.
	if got := Ratio("chào", "xhào"); math.Abs(got-0.75) > 1e-12 {
		t.Errorf("Ratio = %v, want 0.75", got)
	}
}

func TestJaroWinkler_CaseInsensitive(t *testing.T) {
	if got := JaroWinkler("Hello World", "hello world"); got != 1.0 {
		t.Errorf("JaroWinkler = %v, want 1.0", got)
	}
	if got := JaroWinkler("abcdef", "uvwxyz"); got >= 0.8 {
		t.Errorf("JaroWinkler on unrelated text = %v, want < 0.8", got)
	}
}

func TestSimilarityByName(t *testing.T) {
	for _, name := range []string{"", "ratcliff", "RATCLIFF", "jarowinkler"} {
		if _, err := SimilarityByName(name); err != nil {
			t.Errorf("SimilarityByName(%q) error: %v", name, err)
		}
	}
	if _, err := SimilarityByName("levenshtein"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}
