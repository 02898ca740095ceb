package auth

import "strings"

// Challenge is one parsed WWW-Authenticate/Proxy-Authenticate challenge:
// a scheme name plus its auth-params, per RFC 7235 §2.1.
type Challenge struct {
	Scheme string
	Params map[string]string
}

// Param returns a challenge parameter by name, or "" if absent.
func (c Challenge) Param(name string) string { return c.Params[name] }

// ParseChallenges parses every WWW-Authenticate/Proxy-Authenticate header
// value in values into a Challenge per value. Each header instance is
// treated as one challenge, which covers every server this package has
// been exercised against; a single header carrying multiple
// comma-separated challenges (RFC 7235 §4.1 permits this but it is rare
// in practice, since Basic's auth-param-less form makes the boundary
// between challenges ambiguous without scheme-specific knowledge) is
// parsed as a single challenge whose Params holds whatever key=value
// pairs it contains.
func ParseChallenges(values []string) []Challenge {
	challenges := make([]Challenge, 0, len(values))
	for _, v := range values {
		if ch, ok := parseChallenge(v); ok {
			challenges = append(challenges, ch)
		}
	}
	return challenges
}

func parseChallenge(s string) (Challenge, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Challenge{}, false
	}
	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return Challenge{Scheme: s, Params: map[string]string{}}, true
	}
	scheme := s[:idx]
	rest := s[idx+1:]
	return Challenge{Scheme: scheme, Params: parseAuthParams(rest)}, true
}

// parseAuthParams parses a comma-separated list of key=value or
// key="value" pairs, tolerating commas inside quoted values (e.g.
// domain="/a, /b").
func parseAuthParams(s string) map[string]string {
	params := make(map[string]string)
	for len(s) > 0 {
		s = strings.TrimLeft(s, " \t,")
		if s == "" {
			break
		}
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := strings.TrimSpace(s[:eq])
		rest := strings.TrimLeft(s[eq+1:], " \t")

		var value string
		if len(rest) > 0 && rest[0] == '"' {
			end := findUnescapedQuote(rest[1:])
			if end < 0 {
				value = rest[1:]
				rest = ""
			} else {
				value = unescapeQuoted(rest[1 : 1+end])
				rest = rest[1+end+1:]
			}
		} else {
			comma := strings.IndexByte(rest, ',')
			if comma < 0 {
				value = rest
				rest = ""
			} else {
				value = rest[:comma]
				rest = rest[comma:]
			}
		}
		params[strings.ToLower(key)] = strings.TrimSpace(value)
		s = rest
	}
	return params
}

func findUnescapedQuote(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if s[i] == '"' {
			return i
		}
	}
	return -1
}

func unescapeQuoted(s string) string {
	return strings.ReplaceAll(s, `\"`, `"`)
}
