// Package headers implements the ordered, case-insensitive header container
// shared by the HTTP/1.1, HTTP/2 and HTTP/3 engines, plus conversion
// helpers between HTTP/2-style pseudo-header field lists and the
// protocol-agnostic request/response contract in internal/httpcontract.
package headers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Field is one (name, value) pair as it appeared on the wire, in the order
// received. Pseudo-header names (leading ':') are never mixed with regular
// fields in a List built by the HTTP/2 or HTTP/3 engines; Split separates
// them for callers that need the HTTP/1.1-style view.
type Field struct {
	Name, Value string
}

// List is an ordered list of header fields preserving duplicates, with a
// case-insensitive index built lazily on first lookup.
type List struct {
	fields []Field
	index  map[string][]int
}

func New() *List {
	return &List{}
}

// Add appends a field, preserving any existing entries for the same name.
func (l *List) Add(name, value string) {
	l.fields = append(l.fields, Field{Name: name, Value: value})
	if l.index != nil {
		key := strings.ToLower(name)
		l.index[key] = append(l.index[key], len(l.fields)-1)
	}
}

// Get returns the first value for name (case-insensitive), and whether it
// was present.
func (l *List) Get(name string) (string, bool) {
	l.buildIndex()
	idxs, ok := l.index[strings.ToLower(name)]
	if !ok || len(idxs) == 0 {
		return "", false
	}
	return l.fields[idxs[0]].Value, true
}

// Values returns every value for name, in the order they were added.
func (l *List) Values(name string) []string {
	l.buildIndex()
	idxs, ok := l.index[strings.ToLower(name)]
	if !ok {
		return nil
	}
	out := make([]string, len(idxs))
	for i, idx := range idxs {
		out[i] = l.fields[idx].Value
	}
	return out
}

// Fields returns the full ordered field list. The returned slice must not
// be mutated by the caller; it is owned by List.
func (l *List) Fields() []Field {
	return l.fields
}

// Len returns the number of fields, including duplicates.
func (l *List) Len() int { return len(l.fields) }

func (l *List) buildIndex() {
	if l.index != nil {
		return
	}
	l.index = make(map[string][]int, len(l.fields))
	for i, f := range l.fields {
		key := strings.ToLower(f.Name)
		l.index[key] = append(l.index[key], i)
	}
}

// Split separates pseudo-headers (name starts with ':') from regular
// fields, preserving relative order within each group. Per RFC 7540
// §8.1.2.1 pseudo-headers must precede regular fields on the wire, but
// Split tolerates either order since some peers violate this.
func Split(fields []Field) (pseudo, regular []Field) {
	for _, f := range fields {
		if strings.HasPrefix(f.Name, ":") {
			pseudo = append(pseudo, f)
		} else {
			regular = append(regular, f)
		}
	}
	return pseudo, regular
}

// RequestLine is the decoded form of the four HTTP/2 and HTTP/3 request
// pseudo-headers (RFC 7540 §8.1.2.3, RFC 9114 §4.3.1).
type RequestLine struct {
	Method    string
	Scheme    string
	Authority string
	Path      string
}

// ParseRequestPseudo extracts :method, :scheme, :authority and :path from
// pseudo, erroring if a required field is missing or a field repeats
// (RFC 7540 §8.1.2.3: "All pseudo-header fields MUST appear ... exactly
// once").
func ParseRequestPseudo(pseudo []Field) (RequestLine, error) {
	var rl RequestLine
	seen := make(map[string]bool, 4)
	for _, f := range pseudo {
		if seen[f.Name] {
			return RequestLine{}, errors.Errorf("duplicate pseudo-header %s", f.Name)
		}
		seen[f.Name] = true
		switch f.Name {
		case ":method":
			rl.Method = f.Value
		case ":scheme":
			rl.Scheme = f.Value
		case ":authority":
			rl.Authority = f.Value
		case ":path":
			rl.Path = f.Value
		default:
			return RequestLine{}, errors.Errorf("unknown pseudo-header %s", f.Name)
		}
	}
	if rl.Method == "" || rl.Scheme == "" || rl.Path == "" {
		return RequestLine{}, errors.New("missing required request pseudo-header")
	}
	return rl, nil
}

// StatusPseudo builds the single :status pseudo-header field HTTP/2 and
// HTTP/3 responses carry.
func StatusPseudo(statusCode int) Field {
	return Field{Name: ":status", Value: strconv.Itoa(statusCode)}
}

// ParseStatusPseudo extracts the status code from a :status pseudo-header
// list.
func ParseStatusPseudo(pseudo []Field) (int, error) {
	for _, f := range pseudo {
		if f.Name == ":status" {
			code, err := strconv.Atoi(f.Value)
			if err != nil {
				return 0, errors.Wrap(err, "invalid :status value")
			}
			return code, nil
		}
	}
	return 0, fmt.Errorf("missing :status pseudo-header")
}

// illegalInH3 lists the connection-specific header fields RFC 9114 §4.2
// forbids in HTTP/3 (carried over verbatim from HTTP/2's equivalent
// restriction). StripIllegal drops them from outgoing responses.
var illegalInH3 = map[string]bool{
	"connection":        true,
	"keep-alive":        true,
	"proxy-connection":  true,
	"transfer-encoding": true,
	"upgrade":           true,
}

// StripIllegal removes header fields that are illegal on an HTTP/2 or
// HTTP/3 connection, returning a new slice (the input is not mutated).
func StripIllegal(fields []Field) []Field {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		if illegalInH3[strings.ToLower(f.Name)] {
			continue
		}
		out = append(out, f)
	}
	return out
}
