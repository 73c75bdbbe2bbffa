// Package vocab fixes how speech-to-text spells studio vocabulary before a
// transcript reaches the assistant ("e q" becomes "EQ", "reaper" becomes "REAPER").
package vocab

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"studiomic/internal/logging"
)

var log = logging.L("vocab")

// DefaultRules are applied before any rules loaded from a file.
var DefaultRules = []string{
	"reaper => REAPER",
	"e q => EQ",
	"eq => EQ",
	"b p m => BPM",
	"bpm => BPM",
	"midi => MIDI",
	"vst => VST",
	"beat oven => Beatoven",
}

const defaultLoopLimit = 30

// Normalizer applies substitution rules until the text stops changing or the
// loop limit is reached.
type Normalizer struct {
	rules     []rule
	loopLimit int
}

// NewNormalizer compiles DefaultRules plus the rules in path. A missing file is
// not an error; a malformed one is.
func NewNormalizer(path string, loopLimit int) (*Normalizer, error) {
	return NewNormalizerWithParsers(path, loopLimit, defaultParsers())
}

// NewNormalizerWithParsers is NewNormalizer with a custom parser list.
func NewNormalizerWithParsers(path string, loopLimit int, parsers []Parser) (*Normalizer, error) {
	if loopLimit <= 0 {
		loopLimit = defaultLoopLimit
	}
	if len(parsers) == 0 {
		parsers = defaultParsers()
	}

	rules, err := parseLines(DefaultRules, parsers)
	if err != nil {
		return nil, fmt.Errorf("invalid built-in rule: %w", err)
	}

	if strings.TrimSpace(path) != "" {
		contents, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Debug("no vocabulary file", "path", path)
		case err != nil:
			return nil, fmt.Errorf("failed to read vocabulary file %q: %w", path, err)
		default:
			fileRules, err := parseLines(strings.Split(string(contents), "\n"), parsers)
			if err != nil {
				return nil, fmt.Errorf("failed to parse vocabulary file %q: %w", path, err)
			}
			rules = append(rules, fileRules...)
			log.Info("vocabulary loaded", "path", path, "rules", len(fileRules))
		}
	}

	return &Normalizer{rules: rules, loopLimit: loopLimit}, nil
}

// Apply rewrites text. Identical input always yields identical output.
func (n *Normalizer) Apply(text string) (string, error) {
	result := text
	for i := 0; i < n.loopLimit; i++ {
		changed := false
		for _, r := range n.rules {
			if next, ok := r.Apply(result); ok {
				result = next
				changed = true
			}
		}
		if !changed {
			return result, nil
		}
	}
	return result, nil
}

func parseLines(lines []string, parsers []Parser) ([]rule, error) {
	rules := make([]rule, 0, len(lines))
	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parsed := false
		for _, parser := range parsers {
			if !parser.CanParse(line) {
				continue
			}
			r, err := parser.Parse(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", index+1, err)
			}
			rules = append(rules, r)
			parsed = true
			break
		}
		if !parsed {
			return nil, fmt.Errorf("line %d: unsupported rule format", index+1)
		}
	}
	return rules, nil
}
