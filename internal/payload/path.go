package payload

import (
	"regexp"
	"strconv"
	"strings"
)

// maxPathIndex bounds array growth from an indexed segment so a stray huge
// index cannot balloon memory.
const maxPathIndex = 10000

var segRe = regexp.MustCompile(`([^[.\]]+)|\[(\d+)\]`)

type segment struct {
	key     string
	index   int
	isIndex bool
}

func pathSegments(path string) []segment {
	var segs []segment
	for _, m := range segRe.FindAllStringSubmatch(path, -1) {
		if m[1] != "" {
			segs = append(segs, segment{key: m[1]})
		} else if m[2] != "" {
			n, err := strconv.Atoi(m[2])
			if err != nil {
				return nil
			}
			segs = append(segs, segment{index: n, isIndex: true})
		}
	}
	return segs
}

// SetByPath assigns value into target at a dotted/indexed path, auto-creating
// intermediate containers: an object when the next segment is a name, an array
// when it is numeric. A numeric segment on a non-array, or a path that runs
// into an existing non-container value, is a silent no-op.
func SetByPath(target map[string]any, rawPath string, value any) {
	segs := pathSegments(strings.TrimSpace(rawPath))
	if len(segs) == 0 || segs[0].isIndex {
		return
	}
	assign(target, segs, value)
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

func newContainer(next segment) any {
	if next.isIndex {
		return []any{}
	}
	return map[string]any{}
}

// assign writes value at segs inside container c and returns c, which may be a
// reallocated slice when an indexed segment forced growth.
func assign(c any, segs []segment, value any) any {
	seg := segs[0]
	if len(segs) == 1 {
		switch cur := c.(type) {
		case map[string]any:
			if !seg.isIndex {
				cur[seg.key] = value
			}
			return cur
		case []any:
			if !seg.isIndex {
				return cur
			}
			grown, ok := growTo(cur, seg.index)
			if !ok {
				return cur
			}
			grown[seg.index] = value
			return grown
		}
		return c
	}

	next := segs[1]
	switch cur := c.(type) {
	case map[string]any:
		if seg.isIndex {
			return cur
		}
		child, exists := cur[seg.key]
		if !exists || child == nil {
			child = newContainer(next)
		} else if !isContainer(child) {
			return cur
		}
		cur[seg.key] = assign(child, segs[1:], value)
		return cur
	case []any:
		if !seg.isIndex {
			return cur
		}
		grown, ok := growTo(cur, seg.index)
		if !ok {
			return cur
		}
		child := grown[seg.index]
		if child == nil {
			child = newContainer(next)
		} else if !isContainer(child) {
			return grown
		}
		grown[seg.index] = assign(child, segs[1:], value)
		return grown
	}
	return c
}

func growTo(arr []any, index int) ([]any, bool) {
	if index < 0 || index > maxPathIndex {
		return arr, false
	}
	for len(arr) <= index {
		arr = append(arr, nil)
	}
	return arr, true
}
