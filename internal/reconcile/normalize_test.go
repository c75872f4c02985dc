package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "plain", raw: "Acme", want: "acme"},
		{name: "legal suffixes", raw: "Acme Pty Ltd", want: "acme"},
		{name: "upper case", raw: "ACME", want: "acme"},
		{name: "ampersand", raw: "Acme & Co Pty Ltd", want: "acmeandco"},
		{name: "ampersand spelled", raw: "acme and co", want: "acmeandco"},
		{name: "apostrophe and group", raw: "O'Brien Group", want: "obrien"},
		{name: "curly apostrophe", raw: "Smith’s Plumbing", want: "smithsplumbing"},
		{name: "left quote", raw: "‘Smiths Plumbing", want: "smithsplumbing"},
		{name: "limited", raw: "Widgets Limited", want: "widgets"},
		{name: "suffix inside word kept", raw: "Grouply Ltd", want: "grouply"},
		{name: "punctuation and digits", raw: "  Site-42 (Cape Town)  ", want: "site42capetown"},
		{name: "empty", raw: "", want: UnknownKey},
		{name: "whitespace", raw: "   ", want: UnknownKey},
		{name: "only legal words", raw: "Pty Ltd", want: UnknownKey},
		{name: "dotted legal word", raw: "P.T.Y.", want: UnknownKey},
		{name: "dotted suffix after name", raw: "Acme P.T.Y.", want: "acme"},
		{name: "dotted suffix without last dot", raw: "Acme P.T.Y", want: "acme"},
		{name: "dotted ltd", raw: "Widgets L.T.D.", want: "widgets"},
		{name: "spaced legal word", raw: "P T Y", want: UnknownKey},
		{name: "initials kept", raw: "J.B. Hi-Fi", want: "jbhifi"},
		{name: "only punctuation", raw: "!!!", want: UnknownKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"Acme & Co Pty Ltd", "O'Brien Group", "P.T.Y.", "", "unknown",
		"Smith’s Plumbing", "AB Group", "G.R.O.U.P Holdings", "x", "Ltd-Pty-Group", "Acme P.T.Y.",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestNormalizeEquivalences(t *testing.T) {
	assert.Equal(t, Normalize("acme and co"), Normalize("Acme & Co Pty Ltd"))
	assert.Equal(t, Normalize("obrien"), Normalize("O'Brien Group"))
	assert.Equal(t, Normalize("O’Brien"), Normalize("O'Brien"))
	assert.Equal(t, Normalize("Acme Pty"), Normalize("Acme P.T.Y."))
	// Известный риск: разные клиенты могут схлопнуться в один ключ.
	assert.Equal(t, Normalize("AB"), Normalize("AB Group"))
	assert.NotEqual(t, Normalize("Acme"), Normalize("Apex"))
}

func TestCanonicalKey(t *testing.T) {
	key, ok := CanonicalKey("Acme Pty Ltd")
	assert.True(t, ok)
	assert.Equal(t, "acme", key)

	for _, raw := range []string{"", "  ", "---", "Group"} {
		key, ok := CanonicalKey(raw)
		assert.False(t, ok, "raw %q", raw)
		assert.Empty(t, key)
	}
}
