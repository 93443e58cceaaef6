package merge

import "strings"

// getPointer resolves an RFC 6901 JSON pointer against a generically decoded
// document (the output of json.Unmarshal into any). It returns ok=false for
// any path segment that does not resolve, including "-" array append
// positions, which by definition never reference an existing element.
func getPointer(doc any, path string) (any, bool) {
	if path == "" || path == "/" {
		return doc, true
	}
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	cur := doc
	for _, raw := range segments {
		seg := unescapeToken(raw)
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			if seg == "-" {
				return nil, false
			}
			idx, err := parseIndex(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			cur = v[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func unescapeToken(tok string) string {
	tok = strings.ReplaceAll(tok, "~1", "/")
	tok = strings.ReplaceAll(tok, "~0", "~")
	return tok
}

func parseIndex(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errNotIndex
		}
		n = n*10 + int(r-'0')
	}
	if s == "" {
		return 0, errNotIndex
	}
	return n, nil
}

var errNotIndex = &pointerError{"not a valid array index"}

type pointerError struct{ msg string }

func (e *pointerError) Error() string { return e.msg }
