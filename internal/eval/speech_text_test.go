package eval

import "testing"

func TestSanitizeSpeechText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "That's right, well done!", "That's right, well done!"},
		{"markdown emphasis", "**Correct** — _nice_ recall.", "Correct nice recall."},
		{"inline code", "The answer is `Paris`.", "The answer is ."},
		{"link", "See [the notes](https://example.com) later.", "See the notes later."},
		{"whitespace collapse", "one\n\ntwo\t three", "one two three"},
		{"empty", "   ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSpeechText(tc.in); got != tc.want {
				t.Fatalf("SanitizeSpeechText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
