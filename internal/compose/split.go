package compose

import "strings"

// ellipsisSentinel stands in for "..." while sentences are cut on ". ".
const ellipsisSentinel = "\uE000"

// SplitThread packs text into posts of at most budget weighted characters,
// breaking only at sentence boundaries. It reports false when some sentence
// cannot be brought under budget by cutting at "? " or "! ".
func SplitThread(text string, budget int) ([]string, bool) {
	queue := sentences(text)
	if len(queue) == 0 {
		return nil, false
	}

	var posts []string
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]

		if WeightedLength(s) > budget {
			pieces := cutAtMarks(s)
			if len(pieces) < 2 {
				return nil, false
			}
			queue = append(pieces, queue...)
			continue
		}

		if n := len(posts); n > 0 && WeightedLength(posts[n-1]+" "+s) <= budget {
			posts[n-1] += " " + s
			continue
		}
		posts = append(posts, s)
	}

	for i := range posts {
		posts[i] = strings.TrimSpace(posts[i])
	}
	return posts, true
}

// sentences cuts on ". " keeping each terminator with its sentence and
// leaving ellipses intact.
func sentences(text string) []string {
	protected := strings.ReplaceAll(strings.TrimSpace(text), "...", ellipsisSentinel)
	parts := strings.Split(protected, ". ")
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i < len(parts)-1 {
			p += "."
		}
		p = strings.TrimSpace(strings.ReplaceAll(p, ellipsisSentinel, "..."))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// cutAtMarks splits after every "? " and "! ".
func cutAtMarks(s string) []string {
	var out []string
	start := 0
	for i := 0; i+1 < len(s); i++ {
		if (s[i] == '?' || s[i] == '!') && s[i+1] == ' ' {
			if piece := strings.TrimSpace(s[start : i+1]); piece != "" {
				out = append(out, piece)
			}
			start = i + 2
		}
	}
	if piece := strings.TrimSpace(s[start:]); piece != "" {
		out = append(out, piece)
	}
	return out
}
