package textproc

import "testing"

func TestClean(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"  Hello,   world! @#$ ", "Hello, world!"},
		{"Xin chào các bạn ★ ♪", "Xin chào các bạn"},
		{"tab\there\nnew_line", "tab here new_line"},
		{"price: $5 & 10%", "price: 5 10"},
		{"a*b*c", "abc"},
		{`He said "ok" (twice); fine?`, `He said "ok" (twice); fine?`},
		{"Đường đi - phải không?", "Đường đi - phải không?"},
	}
	for _, tt := range tests {
		if got := Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsAlnumWord(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"hello", true},
		{"chào", true},
		{"2024", true},
		{"don't", false},
		{"new_line", false},
		{"end.", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isAlnumWord(tt.in); got != tt.want {
			t.Errorf("isAlnumWord(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
