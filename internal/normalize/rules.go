package normalize

import (
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// StripRule removes an identifier prefix from a log line. Apply returns the
// rewritten text and whether the rule changed anything.
type StripRule struct {
	Name  string
	Apply func(text, id string) (string, bool)
}

var (
	genericHexRE  = regexp.MustCompile(`(?:\s|^)[a-f0-9]{32}\s*-\s*`)
	specificHexRE = regexp.MustCompile(`[a-f0-9]{32}\s*-\s*`)
	leadingDashRE = regexp.MustCompile(`^[\s-]+`)
)

// DefaultStripRules is the ordered rule chain applied to every non-empty
// line. The first rule that changes the text wins.
var DefaultStripRules = []StripRule{
	{Name: "exact-prefix", Apply: stripExactPrefix},
	{Name: "embedded", Apply: stripEmbedded},
	{Name: "hex-id", Apply: stripHexID},
	{Name: "split", Apply: stripSplit},
}

// stripExactPrefix handles "<id> - text" at the start of the line.
func stripExactPrefix(text, id string) (string, bool) {
	if id == "" || !strings.HasPrefix(text, id) {
		return text, false
	}
	rest := strings.TrimLeftFunc(text[len(id):], unicode.IsSpace)
	if !strings.HasPrefix(rest, "- ") {
		return text, false
	}
	return strings.TrimSpace(rest[2:]), true
}

// stripEmbedded handles the identifier anywhere after whitespace, with
// flexible spacing around the dash.
func stripEmbedded(text, id string) (string, bool) {
	if id == "" {
		return text, false
	}
	re, err := embeddedPattern(id)
	if err != nil {
		return text, false
	}
	return replaceFirst(re, text, " ")
}

// stripHexID removes a 32-character lowercase hex id followed by a dash,
// whether or not the record carried an identifier.
func stripHexID(text, _ string) (string, bool) {
	if out, ok := replaceFirst(genericHexRE, text, " "); ok {
		return out, true
	}
	out, ok := replaceFirst(specificHexRE, text, "")
	return out, ok
}

// stripSplit keeps everything after the first "<id> - ".
func stripSplit(text, id string) (string, bool) {
	if id == "" {
		return text, false
	}
	_, after, found := strings.Cut(text, id+" - ")
	if !found {
		return text, false
	}
	return strings.TrimSpace(after), true
}

// stripLeadingDashes is the cleanup run after the rule chain.
func stripLeadingDashes(text string) string {
	return strings.TrimSpace(leadingDashRE.ReplaceAllString(text, ""))
}

func replaceFirst(re *regexp.Regexp, text, repl string) (string, bool) {
	loc := re.FindStringIndex(text)
	if loc == nil {
		return text, false
	}
	out := strings.TrimSpace(text[:loc[0]] + repl + text[loc[1]:])
	return out, out != text
}

const maxCachedPatterns = 4096

var patternCache = struct {
	sync.Mutex
	m map[string]*regexp.Regexp
}{m: make(map[string]*regexp.Regexp)}

func embeddedPattern(id string) (*regexp.Regexp, error) {
	patternCache.Lock()
	defer patternCache.Unlock()
	if re, ok := patternCache.m[id]; ok {
		return re, nil
	}
	re, err := regexp.Compile(`(?:\s|^)` + regexp.QuoteMeta(id) + `\s*-\s*`)
	if err != nil {
		return nil, err
	}
	if len(patternCache.m) >= maxCachedPatterns {
		patternCache.m = make(map[string]*regexp.Regexp)
	}
	patternCache.m[id] = re
	return re, nil
}
