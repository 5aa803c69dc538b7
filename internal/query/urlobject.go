package query

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/redbco/ddfserver/internal/ddferrors"
)

// ParseURLObject decodes the bracket-path URL-object notation of spec
// §4.3/§6: `select[key][]=geo&select[value][]=pop&from=datapoints&
// where[year][$gte]=2000`. Each key is a bracket path into a nested
// map; `[]` denotes array append. This is a bespoke encoding with no
// standard-library or ecosystem equivalent in the reference corpus, so it
// is hand-rolled on top of net/url rather than a third-party form decoder.
func ParseURLObject(rawQuery string) (map[string]interface{}, error) {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, ddferrors.Wrap(ddferrors.QuerySyntax, err, "malformed query string")
	}
	if len(values) == 0 {
		return nil, ddferrors.New(ddferrors.QuerySyntax, "empty query string")
	}

	root := map[string]interface{}{}
	// Stable iteration keeps array-append order deterministic across runs.
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		path, err := splitPath(k)
		if err != nil {
			return nil, err
		}
		for _, v := range values[k] {
			if err := assign(root, path, v); err != nil {
				return nil, err
			}
		}
	}
	return root, nil
}

// pathSeg is one component of a bracket path: either a named key or an
// array-append marker.
type pathSeg struct {
	name    string
	isArray bool
}

func splitPath(key string) ([]pathSeg, error) {
	var segs []pathSeg
	// leading segment has no bracket.
	if br := strings.IndexByte(key, '['); br < 0 {
		return []pathSeg{{name: key}}, nil
	} else {
		segs = append(segs, pathSeg{name: key[:br]})
		key = key[br:]
	}
	for len(key) > 0 {
		if key[0] != '[' {
			return nil, ddferrors.Newf(ddferrors.QuerySyntax, "malformed query key near %q", key)
		}
		end := strings.IndexByte(key, ']')
		if end < 0 {
			return nil, ddferrors.Newf(ddferrors.QuerySyntax, "unterminated bracket in query key")
		}
		inner := key[1:end]
		if inner == "" {
			segs = append(segs, pathSeg{isArray: true})
		} else {
			segs = append(segs, pathSeg{name: inner})
		}
		key = key[end+1:]
	}
	return segs, nil
}

func assign(root map[string]interface{}, path []pathSeg, value string) error {
	cur := root
	for i, seg := range path {
		last := i == len(path)-1
		if seg.isArray {
			return ddferrors.New(ddferrors.QuerySyntax, "array marker must terminate a query key path")
		}
		if last {
			if existing, ok := cur[seg.name]; ok {
				if arr, ok := existing.([]string); ok {
					cur[seg.name] = append(arr, value)
					return nil
				}
			}
			cur[seg.name] = decodeScalar(value)
			return nil
		}
		next := path[i+1]
		if next.isArray {
			arr, _ := cur[seg.name].([]string)
			cur[seg.name] = append(arr, value)
			return nil
		}
		child, ok := cur[seg.name].(map[string]interface{})
		if !ok {
			child = map[string]interface{}{}
			cur[seg.name] = child
		}
		cur = child
	}
	return nil
}

// decodeScalar best-effort-types a bare string value: "true"/"false" to
// bool, integers/floats to float64, everything else stays a string. The
// JSON path performs exact typing; URL-object values are always strings
// on the wire, so this keeps comparisons against numeric/boolean columns
// working without requiring the client to know JSON encoding rules.
func decodeScalar(s string) interface{} {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
