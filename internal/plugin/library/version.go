package library

import (
	"strconv"
	"strings"
)

// CompareVersions compares two version strings segment by segment.
// Segments are split on '.', '-' and '+'. Numeric segments compare
// numerically, other segments lexically, and a numeric segment sorts
// before a non-numeric one. Missing trailing segments count as "0".
// It returns -1, 0 or 1.
func CompareVersions(a, b string) int {
	as, bs := splitVersion(a), splitVersion(b)
	n := max(len(as), len(bs))
	for i := 0; i < n; i++ {
		x, y := "0", "0"
		if i < len(as) {
			x = as[i]
		}
		if i < len(bs) {
			y = bs[i]
		}
		if c := compareSegment(x, y); c != 0 {
			return c
		}
	}
	return 0
}

func splitVersion(v string) []string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if v == "" {
		return nil
	}
	return strings.FieldsFunc(v, func(r rune) bool {
		return r == '.' || r == '-' || r == '+'
	})
}

func compareSegment(x, y string) int {
	xn, xerr := strconv.ParseUint(x, 10, 64)
	yn, yerr := strconv.ParseUint(y, 10, 64)
	switch {
	case xerr == nil && yerr == nil:
		switch {
		case xn < yn:
			return -1
		case xn > yn:
			return 1
		}
		return 0
	case xerr == nil:
		return -1
	case yerr == nil:
		return 1
	}
	return strings.Compare(x, y)
}
