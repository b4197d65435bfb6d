package prosody

import "strings"

// Word is the prosodic estimate for a single normalised word.
type Word struct {
	// Text is the lower-case form the estimate was made for.
	Text string

	// Phones is the ARPAbet transcription. It is nil when the estimate came
	// from a spelling heuristic.
	Phones []string

	Syllables int
	Stress    string
}

// WordStrategy estimates the prosody of a normalised word. It returns false
// when it has no opinion, and the next strategy in the chain is tried.
type WordStrategy func(word string) (Word, bool)

// RhymeStrategy derives a rhyme token for a word. It returns false when it
// cannot produce one.
type RhymeStrategy func(w Word) (string, bool)

// ── Word strategies ──────────────────────────────────────────────────────────

// DictionaryWords returns a [WordStrategy] that looks words up in d. Stress
// digits 1 and 2 count as stressed.
func DictionaryWords(d *Dictionary) WordStrategy {
	return func(word string) (Word, bool) {
		phones, ok := d.Lookup(word)
		if !ok {
			return Word{}, false
		}
		var stress strings.Builder
		for _, p := range phones {
			if !isVowel(p) {
				continue
			}
			if p[len(p)-1] == '0' {
				stress.WriteByte('0')
			} else {
				stress.WriteByte('1')
			}
		}
		if stress.Len() == 0 {
			return Word{}, false
		}
		return Word{Text: word, Phones: phones, Syllables: stress.Len(), Stress: stress.String()}, true
	}
}

// VowelGroups estimates syllables by counting groups of vowel letters. A
// silent final "e" is dropped when the word has other vowel groups, and the
// first syllable is assumed stressed. It always succeeds.
func VowelGroups(word string) (Word, bool) {
	n := 0
	prevVowel := false
	for _, r := range word {
		v := strings.ContainsRune("aeiouy", r)
		if v && !prevVowel {
			n++
		}
		prevVowel = v
	}
	if n > 1 && strings.HasSuffix(word, "e") && !strings.HasSuffix(word, "le") && !strings.HasSuffix(word, "ee") {
		n--
	}
	if n < 1 {
		n = 1
	}
	return Word{Text: word, Syllables: n, Stress: "1" + strings.Repeat("0", n-1)}, true
}

// ── Rhyme strategies ─────────────────────────────────────────────────────────

// LastPrimaryStress returns the phones from the last primary-stressed vowel
// to the end of the word.
func LastPrimaryStress(w Word) (string, bool) {
	return tailFrom(w.Phones, func(p string) bool { return isVowel(p) && p[len(p)-1] == '1' })
}

// LastSecondaryStress returns the phones from the last secondary-stressed
// vowel to the end of the word.
func LastSecondaryStress(w Word) (string, bool) {
	return tailFrom(w.Phones, func(p string) bool { return isVowel(p) && p[len(p)-1] == '2' })
}

// WholeTranscription returns every phone of the word.
func WholeTranscription(w Word) (string, bool) {
	if len(w.Phones) == 0 {
		return "", false
	}
	return strings.Join(w.Phones, " "), true
}

// LastLetters returns the final three characters of the word. It always
// succeeds for a non-empty word.
func LastLetters(w Word) (string, bool) {
	r := []rune(w.Text)
	if len(r) == 0 {
		return "", false
	}
	if len(r) > 3 {
		r = r[len(r)-3:]
	}
	return string(r), true
}

func tailFrom(phones []string, match func(string) bool) (string, bool) {
	for i := len(phones) - 1; i >= 0; i-- {
		if match(phones[i]) {
			return strings.Join(phones[i:], " "), true
		}
	}
	return "", false
}
