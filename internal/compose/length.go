// Package compose turns facts into posts that fit a platform's weighted
// character budget.
package compose

import (
	"regexp"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultBudget is the weighted length of one post.
const DefaultBudget = 280

// urlWeight is what any link costs once shortened by the platform.
const urlWeight = 23

var urlPattern = regexp.MustCompile(`(?i)\bhttps?://[^\s<>"]+`)

// lightRanges weigh 1; everything else weighs 2.
var lightRanges = [][2]rune{
	{0, 4351},
	{8192, 8205},
	{8208, 8223},
	{8242, 8247},
}

func runeWeight(r rune) int {
	for _, rg := range lightRanges {
		if r >= rg[0] && r <= rg[1] {
			return 1
		}
	}
	return 2
}

// WeightedLength measures text the way the platform does: NFC normalised,
// links at a flat 23, an emoji sequence at 2 and code points outside the
// light ranges at 2.
func WeightedLength(text string) int {
	text = norm.NFC.String(text)
	total := 0
	last := 0
	for _, loc := range urlPattern.FindAllStringIndex(text, -1) {
		total += plainWeight(text[last:loc[0]])
		total += urlWeight
		last = loc[1]
	}
	return total + plainWeight(text[last:])
}

func plainWeight(s string) int {
	total := 0
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if isEmojiStart(r) {
			i += size + emojiTail(s[i+size:], r)
			total += 2
			continue
		}
		total += runeWeight(r)
		i += size
	}
	return total
}

const (
	zwj           = 0x200D
	variationSel  = 0xFE0F
	keycap        = 0x20E3
	regionalFirst = 0x1F1E6
	regionalLast  = 0x1F1FF
)

func isEmojiStart(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r >= 0x2B00 && r <= 0x2BFF:
		return true
	}
	return false
}

func isModifier(r rune) bool {
	return r == variationSel || r == keycap || (r >= 0x1F3FB && r <= 0x1F3FF) || (r >= 0xE0020 && r <= 0xE007F)
}

// emojiTail returns how many bytes after the first rune still belong to the
// same emoji sequence.
func emojiTail(s string, first rune) int {
	n := 0
	if first >= regionalFirst && first <= regionalLast {
		if r, size := utf8.DecodeRuneInString(s); r >= regionalFirst && r <= regionalLast {
			return size
		}
		return 0
	}
	for n < len(s) {
		r, size := utf8.DecodeRuneInString(s[n:])
		switch {
		case isModifier(r):
			n += size
		case r == zwj:
			next, nsize := utf8.DecodeRuneInString(s[n+size:])
			if nsize == 0 || !isEmojiStart(next) {
				return n
			}
			n += size + nsize
		default:
			return n
		}
	}
	return n
}
