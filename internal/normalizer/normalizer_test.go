package normalizer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Result
	}{
		{
			name: "empty input",
			raw:  "   \n\t  ",
			want: Result{},
		},
		{
			name: "lowercase and tokenize",
			raw:  "Arbitrage BETTING is great",
			want: Result{
				Sentences: []string{"arbitrage betting is great"},
				Tokens:    []string{"arbitrage", "betting", "is", "great"},
			},
		},
		{
			name: "strips urls",
			raw:  "check out https://example.com/path?x=1 and www.foo.com/bar now",
			want: Result{
				Sentences: []string{"check out and now"},
				Tokens:    []string{"check", "out", "and", "now"},
			},
		},
		{
			name: "strips markdown emphasis and links",
			raw:  "**bold** _italic_ ~~gone~~ `code` [link text](https://x.com) plain",
			want: Result{
				Sentences: []string{"bold italic gone code link text plain"},
				Tokens:    []string{"bold", "italic", "gone", "code", "link", "text", "plain"},
			},
		},
		{
			name: "strips heading and blockquote markers",
			raw:  "# Heading One\n> quoted line\nregular line",
			want: Result{
				Sentences: []string{"heading one quoted line regular line"},
				Tokens:    []string{"heading", "one", "quoted", "line", "regular", "line"},
			},
		},
		{
			name: "sentence segmentation",
			raw:  "First sentence. Second sentence! Third one? Fourth.",
			want: Result{
				Sentences: []string{"first sentence", "second sentence", "third one", "fourth."},
				Tokens: []string{
					"first", "sentence",
					"second", "sentence",
					"third", "one",
					"fourth",
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.raw)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalizeIsTotal(t *testing.T) {
	inputs := []string{
		"", " ", "\n\n\n", "!!!", "http://", "[]()", "####", "\x00weird\x7fbytes",
	}
	for _, in := range inputs {
		// Normalize must never panic or error regardless of input shape.
		_ = Normalize(in)
	}
}

// TestNormalizeIdempotent checks the token stream is stable under a
// second pass over the rejoined sentence text, which is what the
// content hash and matcher actually consume.
func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"I recommend arbitrage betting strategies for new sportsbooks.",
		"**Bold claim** about [crypto](https://scam.example) schemes! Beware.",
		"multi\nline\ntext with weird   spacing\t\there",
		"",
	}
	for _, in := range inputs {
		first := Normalize(in)
		second := Normalize(first.Text())
		if diff := cmp.Diff(first.Tokens, second.Tokens); diff != "" {
			t.Errorf("Normalize not idempotent on tokens for %q (-first +second):\n%s", in, diff)
		}
	}
}
