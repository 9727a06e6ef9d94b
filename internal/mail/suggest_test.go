package mail

import "testing"

func TestSuggest(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"alice@gamil.com", "alice@gmail.com"},
		{"bob@yaho.com", "bob@yahoo.com"},
		{"carol@outlok.com", "carol@outlook.com"},
		{"dave@gmail.com", ""},          // already correct
		{"eve@example.com", ""},         // genuinely distinct domain
		{"not-an-email", ""},            // no @
		{"@gmail.com", ""},              // empty local part
		{"trailing@", ""},               // empty domain
		{"  alice@gamil.com  ", "alice@gmail.com"},
		{"MIXED@GMAIL.COM", ""}, // case-insensitive domain match
	}
	for _, tc := range cases {
		if got := Suggest(tc.in); got != tc.want {
			t.Errorf("Suggest(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"a", "", 1},
		{"gmail.com", "gmail.com", 0},
		{"gamil.com", "gmail.com", 2},
		{"kitten", "sitting", 3},
	}
	for _, tc := range cases {
		if got := levenshtein(tc.a, tc.b); got != tc.want {
			t.Errorf("levenshtein(%q,%q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
