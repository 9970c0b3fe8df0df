package compose

import (
	"reflect"
	"strings"
	"testing"
)

func sentence(n int) string {
	return strings.Repeat("w", n-1) + "."
}

func TestSplitThreadPacksGreedily(t *testing.T) {
	text := strings.Join([]string{sentence(100), sentence(100), sentence(150), sentence(20)}, " ")

	posts, ok := SplitThread(text, 280)
	if !ok {
		t.Fatalf("expected split to succeed")
	}
	want := []string{
		sentence(100) + " " + sentence(100),
		sentence(150) + " " + sentence(20),
	}
	if !reflect.DeepEqual(posts, want) {
		t.Fatalf("unexpected posts:\n%q\nwant\n%q", posts, want)
	}
}

func TestSplitThreadRoundTrip(t *testing.T) {
	text := "Version 1.2 of open-autonomy is out... finally. It ships a new CLI. " +
		strings.Repeat("Agents everywhere are cheering loudly. ", 12) +
		"Is this the best release ever? Probably! Upgrade today."

	posts, ok := SplitThread(text, 280)
	if !ok {
		t.Fatalf("expected split to succeed")
	}
	if len(posts) < 2 {
		t.Fatalf("expected a thread, got %d posts", len(posts))
	}
	for i, p := range posts {
		if WeightedLength(p) > 280 {
			t.Fatalf("post %d over budget: %d", i, WeightedLength(p))
		}
		if p != strings.TrimSpace(p) {
			t.Fatalf("post %d not trimmed", i)
		}
	}
	if got, want := strings.Join(posts, " "), strings.Join(strings.Fields(text), " "); got != want {
		t.Fatalf("round trip mismatch:\n%s\n%s", got, want)
	}
	if !strings.Contains(posts[0], "out... finally.") {
		t.Fatalf("ellipsis should survive splitting: %q", posts[0])
	}
}

func TestSplitThreadSubSplitsOnMarks(t *testing.T) {
	long := strings.Repeat("q", 200) + "? " + strings.Repeat("e", 150) + "! " + strings.Repeat("z", 50)

	posts, ok := SplitThread(long, 280)
	if !ok {
		t.Fatalf("expected split to succeed")
	}
	want := []string{
		strings.Repeat("q", 200) + "?",
		strings.Repeat("e", 150) + "! " + strings.Repeat("z", 50),
	}
	if !reflect.DeepEqual(posts, want) {
		t.Fatalf("unexpected posts %q", posts)
	}
}

func TestSplitThreadIndivisibleSentence(t *testing.T) {
	if posts, ok := SplitThread(strings.Repeat("a", 400), 280); ok || posts != nil {
		t.Fatalf("expected nil for indivisible sentence, got %v", posts)
	}
	if _, ok := SplitThread("short. "+strings.Repeat("b", 300)+". tail", 280); ok {
		t.Fatalf("expected failure when any sentence is indivisible")
	}
	if _, ok := SplitThread("   ", 280); ok {
		t.Fatalf("expected failure for empty text")
	}
}

func TestSplitThreadDeterministic(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20)
	a, _ := SplitThread(text, 280)
	b, _ := SplitThread(text, 280)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("split is not deterministic")
	}
}
