package prosody

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

//go:embed cmudict.txt
var builtinDict string

var (
	defaultDictOnce sync.Once
	defaultDict     *Dictionary
)

// Dictionary maps lower-case words to ARPAbet phones, e.g. "night" →
// ["N", "AY1", "T"]. It is read-only after construction and safe for
// concurrent use.
type Dictionary struct {
	entries map[string][]string
}

// DefaultDictionary returns the compact word list compiled into the binary.
func DefaultDictionary() *Dictionary {
	defaultDictOnce.Do(func() {
		d, err := ParseDictionary(strings.NewReader(builtinDict))
		if err != nil {
			panic(fmt.Sprintf("prosody: built-in dictionary: %v", err))
		}
		defaultDict = d
	})
	return defaultDict
}

// LoadDictionary reads a CMU Pronouncing Dictionary file from path.
func LoadDictionary(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("prosody: open dictionary: %w", err)
	}
	defer f.Close()
	return ParseDictionary(f)
}

// ParseDictionary reads entries in CMU format: one word per line followed by
// its phones, separated by whitespace. Lines starting with ";;;" are
// comments, as is anything after a whitespace-preceded "#" (the cmudict.dict
// layout). Alternate pronunciations ("WORD(2)") are skipped, the first
// pronunciation wins.
func ParseDictionary(r io.Reader) (*Dictionary, error) {
	d := &Dictionary{entries: make(map[string][]string)}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(stripComment(sc.Text()))
		if line == "" || strings.HasPrefix(line, ";;;") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("prosody: dictionary line %d: word %q has no phones", lineNo, fields[0])
		}
		word := strings.ToLower(fields[0])
		if strings.HasSuffix(word, ")") && strings.Contains(word, "(") {
			continue
		}
		phones := fields[1:]
		for _, p := range phones {
			if !validPhone(p) {
				return nil, fmt.Errorf("prosody: dictionary line %d: invalid phone %q", lineNo, p)
			}
		}
		if _, exists := d.entries[word]; !exists {
			d.entries[word] = phones
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("prosody: read dictionary: %w", err)
	}
	return d, nil
}

// stripComment drops a trailing "# ..." comment. A leading '#' belongs to
// the word ("#SHARP-SIGN" in older releases).
func stripComment(line string) string {
	for i := 1; i < len(line); i++ {
		if line[i] == '#' && (line[i-1] == ' ' || line[i-1] == '\t') {
			return line[:i]
		}
	}
	return line
}

// Lookup returns the phones for word. The lookup is case-insensitive.
func (d *Dictionary) Lookup(word string) ([]string, bool) {
	if d == nil {
		return nil, false
	}
	phones, ok := d.entries[strings.ToLower(word)]
	return phones, ok
}

// Len reports the number of words in the dictionary.
func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.entries)
}

// validPhone accepts upper-case ARPAbet symbols with an optional trailing
// stress digit 0-2.
func validPhone(p string) bool {
	if p == "" {
		return false
	}
	body := p
	if last := p[len(p)-1]; last >= '0' && last <= '2' {
		body = p[:len(p)-1]
	}
	if body == "" {
		return false
	}
	for i := 0; i < len(body); i++ {
		if body[i] < 'A' || body[i] > 'Z' {
			return false
		}
	}
	return true
}

// isVowel reports whether an ARPAbet phone carries a stress digit, which in
// CMU notation marks it as a vowel.
func isVowel(p string) bool {
	if p == "" {
		return false
	}
	last := p[len(p)-1]
	return last >= '0' && last <= '2'
}
