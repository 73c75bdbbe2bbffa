package vocab

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

type rule interface {
	Apply(input string) (output string, changed bool)
}

// Parser turns one rules-file line into a rule.
type Parser interface {
	CanParse(line string) bool
	Parse(line string) (rule, error)
}

func defaultParsers() []Parser {
	return []Parser{patternParser{}, wordParser{}}
}

// wordParser handles "from => to": case-insensitive, whole words only.
type wordParser struct{}

func (wordParser) CanParse(line string) bool {
	return strings.Contains(line, "=>")
}

func (wordParser) Parse(line string) (rule, error) {
	return parseWordRule(line)
}

// patternParser handles sed-style "s/pattern/replacement/flags".
type patternParser struct{}

func (patternParser) CanParse(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isWordOrSpace(line[1])
}

func (patternParser) Parse(line string) (rule, error) {
	return parsePatternRule(line)
}

type wordRule struct {
	re          *regexp.Regexp
	replacement string
}

func parseWordRule(line string) (rule, error) {
	from, to, ok := strings.Cut(line, "=>")
	if !ok {
		return nil, errors.New("invalid word rule")
	}
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" {
		return nil, errors.New("word rule source cannot be empty")
	}

	pattern := regexp.QuoteMeta(from)
	if first, _ := utf8.DecodeRuneInString(from); isWordRune(first) {
		pattern = `\b` + pattern
	}
	if last, _ := utf8.DecodeLastRuneInString(from); isWordRune(last) {
		pattern += `\b`
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid word rule source: %w", err)
	}
	return wordRule{re: re, replacement: to}, nil
}

func (r wordRule) Apply(input string) (string, bool) {
	output := r.re.ReplaceAllLiteralString(input, r.replacement)
	return output, output != input
}

type patternRule struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func parsePatternRule(line string) (rule, error) {
	delim := line[1]
	pattern, pos, err := readDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	replacement, pos, err := readDelimited(line, pos, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid replacement: %w", err)
	}

	global := false
	prefix := "i"
	for _, flag := range strings.TrimSpace(line[pos:]) {
		switch flag {
		case 'g':
			global = true
		case 'i', ' ':
		case 'm', 's':
			prefix += string(flag)
		default:
			return nil, fmt.Errorf("unsupported pattern flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + prefix + ")" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return patternRule{re: re, replacement: replacement, global: global}, nil
}

func (r patternRule) Apply(input string) (string, bool) {
	if r.global {
		output := r.re.ReplaceAllString(input, r.replacement)
		return output, output != input
	}

	loc := r.re.FindStringIndex(input)
	if loc == nil {
		return input, false
	}
	replaced := r.re.ReplaceAllString(input[loc[0]:loc[1]], r.replacement)
	output := input[:loc[0]] + replaced + input[loc[1]:]
	return output, output != input
}

func readDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var b strings.Builder
	escaped := false
	for i := start; i < len(line); i++ {
		c := line[i]
		switch {
		case escaped:
			b.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
			b.WriteByte(c)
		case c == delim:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, errors.New("unterminated expression")
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isWordOrSpace(c byte) bool {
	return c == ' ' || c == '\t' || isWordRune(rune(c))
}
