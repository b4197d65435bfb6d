package memstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/lybrarian/pkg/fragment"
	"github.com/MrWong99/lybrarian/pkg/prosody"
)

// CorpusFile is the top-level structure of a local corpus YAML file.
//
// Example:
//
//	fragments:
//	  - id: neon-rain
//	    rhythmic: true
//	    text: |
//	      neon bleeding in the rain
//	      every window holds a stain
//	    tags: [city, night]
//	    context_note: "written on the night bus"
//	exemplars:
//	  - id: song-1
//	    title: "Night Bus"
//	    style_reference: true
//	    body: |
//	      ## Verse 1
//	      ...
type CorpusFile struct {
	Fragments []fragment.Fragment `yaml:"fragments"`
	Exemplars []fragment.Exemplar `yaml:"exemplars"`
}

// LoadCorpusFile reads and parses a corpus YAML file from disk.
func LoadCorpusFile(path string) (*CorpusFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("memstore: open corpus file %q: %w", path, err)
	}
	defer f.Close()

	cf, err := LoadCorpusFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("memstore: parse corpus file %q: %w", path, err)
	}
	return cf, nil
}

// LoadCorpusFromReader parses corpus YAML from r. Unknown keys are rejected.
func LoadCorpusFromReader(r io.Reader) (*CorpusFile, error) {
	var cf CorpusFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("memstore: decode corpus yaml: %w", err)
	}
	return &cf, nil
}

// Import analyses every fragment of cf with a and stores it together with
// the exemplars. Fragments and exemplars without an ID get a random one.
// Stored prosody in the file is ignored in favour of a fresh analysis.
// It returns the number of fragments stored.
func (s *Store) Import(ctx context.Context, cf *CorpusFile, a *prosody.Analyzer) (int, error) {
	if cf == nil {
		return 0, fmt.Errorf("memstore: corpus must not be nil")
	}
	n := 0
	for _, f := range cf.Fragments {
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		f.Analyze(a)
		if err := s.Upsert(ctx, f, nil); err != nil {
			return n, fmt.Errorf("memstore: import fragment %s: %w", f.ID, err)
		}
		n++
	}
	for _, e := range cf.Exemplars {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		s.AddExemplar(e)
	}
	return n, nil
}
