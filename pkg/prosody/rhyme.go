package prosody

import (
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultLooseUnits is the number of trailing units compared by
// [RhymesLoosely] when no other value is configured.
const DefaultLooseUnits = 2

// gbPhones maps US phones to their usual southern British counterparts. An
// empty value drops the phone (non-rhotic R).
var gbPhones = map[string]string{
	"AE1": "AA1",
	"AE0": "AA0",
	"AA1": "AO1",
	"AA0": "AO0",
	"ER1": "AH1",
	"ER0": "AH0",
	"R":   "",
}

// IsPhonetic reports whether token is an ARPAbet rhyme token rather than an
// orthographic fallback.
func IsPhonetic(token string) bool {
	if token == "" {
		return false
	}
	for _, f := range strings.Fields(token) {
		if !validPhone(f) {
			return false
		}
	}
	return true
}

// BritishVariant converts a US rhyme token to its British form. Orthographic
// tokens are returned unchanged. If the conversion would drop every phone
// the US token is kept.
func BritishVariant(us string) string {
	if !IsPhonetic(us) {
		return us
	}
	phones := strings.Fields(us)
	out := make([]string, 0, len(phones))
	for _, p := range phones {
		gb, mapped := gbPhones[p]
		switch {
		case !mapped:
			out = append(out, p)
		case gb != "":
			out = append(out, gb)
		}
	}
	if len(out) == 0 {
		return us
	}
	return strings.Join(out, " ")
}

// StripStress removes stress digits from a phonetic token. Orthographic
// tokens are returned unchanged.
func StripStress(token string) string {
	if !IsPhonetic(token) {
		return token
	}
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return -1
		}
		return r
	}, token)
}

// Units splits a token into comparison units with stress removed: phones for
// phonetic tokens, characters for orthographic ones.
func Units(token string) []string {
	if token == "" {
		return nil
	}
	if IsPhonetic(token) {
		return strings.Fields(StripStress(token))
	}
	r := []rune(token)
	out := make([]string, len(r))
	for i, c := range r {
		out[i] = string(c)
	}
	return out
}

// LooseKey returns the trailing k units of token that [RhymesLoosely]
// compares, joined back into token form. whole is true when token has fewer
// than k units, in which case only an identical token matches.
func LooseKey(token string, k int) (key string, whole bool) {
	u := Units(token)
	if k < 1 {
		k = 1
	}
	sep := ""
	if IsPhonetic(token) {
		sep = " "
	}
	if len(u) < k {
		return strings.Join(u, sep), true
	}
	return strings.Join(u[len(u)-k:], sep), false
}

// RhymesLoosely reports whether the last k units of a and b agree, ignoring
// stress. Tokens shorter than k units must match whole. Empty tokens never
// rhyme.
func RhymesLoosely(a, b string, k int) bool {
	if a == "" || b == "" {
		return false
	}
	if k < 1 {
		k = 1
	}
	ua, ub := Units(a), Units(b)
	if IsPhonetic(a) != IsPhonetic(b) {
		return false
	}
	if len(ua) < k || len(ub) < k {
		return slices.Equal(ua, ub)
	}
	return slices.Equal(ua[len(ua)-k:], ub[len(ub)-k:])
}

// RhymesExactly reports whether two tokens are identical and non-empty.
func RhymesExactly(a, b string) bool {
	return a != "" && a == b
}

// Similarity scores how close two rhyme tokens sound, from 0 to 1. Tokens are
// compared back to front with Jaro-Winkler so that shared endings weigh most.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	return matchr.JaroWinkler(reverse(StripStress(a)), reverse(StripStress(b)), false)
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
