package router

import "strings"

// segKind identifies the grammar element a single pattern segment compiles to.
type segKind int

const (
	segLiteral segKind = iota
	segParam            // :name
	segOptParam         // :name?
	segStar             // *
	segDoubleStar       // **
)

type segment struct {
	kind segKind
	name string // param name, or the literal text for segLiteral
}

// CompiledMatcher is a pattern compiled once at route registration time into
// a sequence of segments, never re-parsed per request.
//
// Grammar: a pattern is a sequence of '/'-separated segments, each either a
// literal, ":name" (required param), ":name?" (optional — matches zero or
// one path segment, legal at any position, not just the tail), "*" (matches
// exactly one segment, or the remainder of the path when it is the final
// segment), or "**" (matches zero or more segments).
type CompiledMatcher struct {
	raw      string
	segments []segment
}

// NewCompiledMatcher parses pattern into a CompiledMatcher.
func NewCompiledMatcher(pattern string) *CompiledMatcher {
	parts := splitPath(pattern)
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		segs = append(segs, parseSegment(p))
	}
	return &CompiledMatcher{raw: pattern, segments: segs}
}

func parseSegment(p string) segment {
	switch {
	case p == "**":
		return segment{kind: segDoubleStar}
	case p == "*":
		return segment{kind: segStar}
	case strings.HasPrefix(p, ":") && strings.HasSuffix(p, "?") && len(p) > 2:
		return segment{kind: segOptParam, name: p[1 : len(p)-1]}
	case strings.HasPrefix(p, ":") && len(p) > 1:
		return segment{kind: segParam, name: p[1:]}
	default:
		return segment{kind: segLiteral, name: p}
	}
}

// Match attempts to match path against the compiled pattern, returning the
// extracted path parameters on success.
func (cm *CompiledMatcher) Match(path string) (map[string]string, bool) {
	pathSegs := splitPath(path)
	params := make(map[string]string)
	if matchFrom(cm.segments, pathSegs, params) {
		return params, true
	}
	return nil, false
}

// matchFrom recursively matches the pattern segments against path segments,
// backtracking across optional params and "**" since both may consume a
// variable number of path segments.
func matchFrom(pat []segment, path []string, params map[string]string) bool {
	if len(pat) == 0 {
		return len(path) == 0
	}

	head, rest := pat[0], pat[1:]

	switch head.kind {
	case segLiteral:
		if len(path) == 0 || path[0] != head.name {
			return false
		}
		return matchFrom(rest, path[1:], params)

	case segParam:
		if len(path) == 0 {
			return false
		}
		params[head.name] = path[0]
		if matchFrom(rest, path[1:], params) {
			return true
		}
		delete(params, head.name)
		return false

	case segOptParam:
		// Try consuming a segment first (greedy), then try skipping it.
		if len(path) > 0 {
			params[head.name] = path[0]
			if matchFrom(rest, path[1:], params) {
				return true
			}
			delete(params, head.name)
		}
		return matchFrom(rest, path, params)

	case segStar:
		if len(rest) == 0 {
			// Tail "*" consumes the remainder of the path as a single value
			// (at least one segment required).
			if len(path) == 0 {
				return false
			}
			params["*"] = strings.Join(path, "/")
			return true
		}
		if len(path) == 0 {
			return false
		}
		params["*"] = path[0]
		if matchFrom(rest, path[1:], params) {
			return true
		}
		delete(params, "*")
		return false

	case segDoubleStar:
		// Zero-or-more segments; try longest match first then backtrack down.
		for n := len(path); n >= 0; n-- {
			saved := path[:n]
			if matchFrom(rest, path[n:], params) {
				if len(saved) > 0 {
					params["**"] = strings.Join(saved, "/")
				}
				return true
			}
		}
		return false
	}
	return false
}

// Specificity scores a compiled pattern for route-priority tie-breaking:
// literals outrank required params, which outrank optional params, which
// outrank "*", which outranks "**".
func (cm *CompiledMatcher) Specificity() int {
	score := 0
	for _, s := range cm.segments {
		switch s.kind {
		case segLiteral:
			score += 100
		case segParam:
			score += 50
		case segOptParam:
			score += 30
		case segStar:
			score += 10
		case segDoubleStar:
			score += 1
		}
	}
	return score
}

// IsSimple reports whether the pattern contains only literals and required
// params — the subset httprouter's radix tree can represent natively.
func (cm *CompiledMatcher) IsSimple() bool {
	for _, s := range cm.segments {
		if s.kind == segOptParam || s.kind == segStar || s.kind == segDoubleStar {
			return false
		}
	}
	return true
}

// HTTPRouterPath renders the pattern using httprouter's ":name" syntax,
// valid only when IsSimple() is true.
func (cm *CompiledMatcher) HTTPRouterPath() string {
	var b strings.Builder
	for _, s := range cm.segments {
		b.WriteByte('/')
		switch s.kind {
		case segParam:
			b.WriteByte(':')
			b.WriteString(s.name)
		default:
			b.WriteString(s.name)
		}
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
