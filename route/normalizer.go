package route

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// IDPlaceholder replaces unregistered segments of unmatched paths.
const IDPlaceholder = "{id}"

// minHexIDLen is the shortest all-hex segment treated as an identifier. Shorter
// hex-only words ("cafe", "add") can name a resource.
const minHexIDLen = 16

type node struct {
	static    map[string]*node
	param     *node
	paramName string
	template  string
}

// Match is the result of matching a raw path against the registered templates.
type Match struct {
	Template string
	Params   map[string]string
}

// Normalizer converts raw request paths to canonical route templates. It is immutable
// after [New] and safe for concurrent use.
type Normalizer struct {
	root      *node
	statics   map[string]struct{}
	templates []string
}

// New compiles templates into a [Normalizer]. Registering the same template twice is
// allowed; registering two templates that differ only in parameter names is not.
func New(templates ...string) (*Normalizer, error) {
	n := &Normalizer{
		root:    &node{},
		statics: make(map[string]struct{}),
	}
	seen := make(map[string]struct{}, len(templates))
	for _, tpl := range templates {
		canonical, err := n.add(tpl)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[canonical]; ok {
			continue
		}
		seen[canonical] = struct{}{}
		n.templates = append(n.templates, canonical)
	}
	sort.Strings(n.templates)
	return n, nil
}

// MustNew is like [New] but panics on invalid templates. Intended for package-level
// route tables.
func MustNew(templates ...string) *Normalizer {
	n, err := New(templates...)
	if err != nil {
		panic(err)
	}
	return n
}

// Templates returns the registered canonical templates in sorted order.
func (n *Normalizer) Templates() []string {
	if n == nil {
		return nil
	}
	out := make([]string, len(n.templates))
	copy(out, n.templates)
	return out
}

func (n *Normalizer) add(tpl string) (string, error) {
	tpl = strings.TrimSpace(tpl)
	if tpl == "" || !strings.HasPrefix(tpl, "/") {
		return "", fmt.Errorf("%w: %q must start with /", ErrInvalidTemplate, tpl)
	}
	if strings.ContainsAny(tpl, "?#") {
		return "", fmt.Errorf("%w: %q contains query or fragment", ErrInvalidTemplate, tpl)
	}

	segments := splitSegments(tpl)
	cur := n.root
	for _, seg := range segments {
		if seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: %q contains dot segment", ErrInvalidTemplate, tpl)
		}
		if name, ok := paramName(seg); ok {
			if !validParamName(name) {
				return "", fmt.Errorf("%w: %q has bad parameter %q", ErrInvalidTemplate, tpl, seg)
			}
			if cur.param == nil {
				cur.param = &node{}
				cur.paramName = name
			} else if cur.paramName != name {
				return "", fmt.Errorf("%w: %q declares {%s} where {%s} is registered", ErrConflictingParam, tpl, name, cur.paramName)
			}
			cur = cur.param
			continue
		}
		if strings.ContainsAny(seg, "{}") {
			return "", fmt.Errorf("%w: %q has malformed segment %q", ErrInvalidTemplate, tpl, seg)
		}
		if cur.static == nil {
			cur.static = make(map[string]*node)
		}
		next, ok := cur.static[seg]
		if !ok {
			next = &node{}
			cur.static[seg] = next
		}
		n.statics[seg] = struct{}{}
		cur = next
	}

	canonical := joinSegments(segments)
	cur.template = canonical
	return canonical, nil
}

// Normalize returns the canonical form of raw. Matched paths yield their template;
// unmatched paths go through the segment-wise fallback.
func (n *Normalizer) Normalize(raw string) string {
	segments := splitSegments(clean(raw))
	if n == nil {
		return fallback(segments, nil)
	}
	if tpl, ok := n.lookup(n.root, segments, nil); ok {
		return tpl
	}
	return fallback(segments, n.statics)
}

// Match reports the template matching raw together with the parameter values taken
// from it.
func (n *Normalizer) Match(raw string) (Match, bool) {
	if n == nil {
		return Match{}, false
	}
	segments := splitSegments(clean(raw))
	params := make(map[string]string)
	tpl, ok := n.lookup(n.root, segments, params)
	if !ok {
		return Match{}, false
	}
	return Match{Template: tpl, Params: params}, true
}

func (n *Normalizer) lookup(cur *node, segments []string, params map[string]string) (string, bool) {
	if len(segments) == 0 {
		if cur.template != "" {
			return cur.template, true
		}
		return "", false
	}

	seg := segments[0]
	if next, ok := cur.static[seg]; ok {
		if tpl, ok := n.lookup(next, segments[1:], params); ok {
			return tpl, true
		}
	}
	if cur.param != nil {
		if tpl, ok := n.lookup(cur.param, segments[1:], params); ok {
			if params != nil {
				params[cur.paramName] = seg
			}
			return tpl, true
		}
	}
	return "", false
}

// fallback replaces every segment that is not a registered static segment with
// IDPlaceholder. The leading segment names the resource, so it is kept unless it
// looks like an identifier; otherwise every unmatched path would collapse into one
// bucket per depth.
func fallback(segments []string, statics map[string]struct{}) string {
	out := make([]string, len(segments))
	for i, seg := range segments {
		if _, ok := statics[seg]; ok {
			out[i] = seg
			continue
		}
		if i == 0 && !looksLikeID(seg) {
			out[i] = seg
			continue
		}
		out[i] = IDPlaceholder
	}
	return joinSegments(out)
}

func looksLikeID(seg string) bool {
	if seg == "" {
		return false
	}
	if allDigits(seg) {
		return true
	}
	if len(seg) == 36 {
		if _, err := uuid.Parse(seg); err == nil {
			return true
		}
	}
	return len(seg) >= minHexIDLen && allHex(seg)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func allHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func paramName(seg string) (string, bool) {
	if len(seg) < 2 || seg[0] != '{' || seg[len(seg)-1] != '}' {
		return "", false
	}
	return seg[1 : len(seg)-1], true
}

func validParamName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			return false
		}
	}
	return true
}

// clean drops query and fragment, forces a leading slash and resolves dot segments
// and duplicate slashes.
func clean(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	if raw[0] != '/' {
		raw = "/" + raw
	}
	return path.Clean(raw)
}

func splitSegments(p string) []string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func joinSegments(segments []string) string {
	if len(segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(segments, "/")
}
