package compose

import "testing"

func TestWeightedLength(t *testing.T) {
	cases := []struct {
		name string
		text string
		want int
	}{
		{"ascii", "hello world", 11},
		{"url counts flat", "see https://github.com/valory-xyz/open-autonomy/releases/tag/v0.15.0 now", 4 + 23 + 4},
		{"cjk doubles", "日本", 4},
		{"curly quote is light", "’", 1},
		{"nfc composes", "é", 1},
		{"emoji", "🚀", 2},
		{"skin tone sequence", "👍🏽", 2},
		{"zwj family", "👨‍👩‍👧", 2},
		{"flag", "🇪🇸", 2},
		{"mixed", "gm 🌊 #olas", 3 + 2 + 6},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := WeightedLength(tc.text); got != tc.want {
				t.Fatalf("WeightedLength(%q) = %d, want %d", tc.text, got, tc.want)
			}
		})
	}
}
