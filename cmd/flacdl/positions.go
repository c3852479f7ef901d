package main

import (
	"fmt"
	"strconv"
	"strings"
)

// parsePositions reads "1,3-5" or "all" into
// de-duplicated 1-based positions within [1, n], in order of appearance.
func parsePositions(expr string, n int) ([]int, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty selection")
	}
	if strings.EqualFold(expr, "all") {
		out := make([]int, n)
		for i := range out {
			out[i] = i + 1
		}
		return out, nil
	}

	seen := make(map[int]bool)
	var out []int
	add := func(p int) error {
		if p < 1 || p > n {
			return fmt.Errorf("position %d out of range 1-%d", p, n)
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
		return nil
	}

	for _, part := range strings.FieldsFunc(expr, func(r rune) bool { return r == ',' || r == ' ' }) {
		lo, hi, isRange := strings.Cut(part, "-")
		from, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid position %q", part)
		}
		to := from
		if isRange {
			if to, err = strconv.Atoi(hi); err != nil {
				return nil, fmt.Errorf("invalid range %q", part)
			}
		}
		if to < from {
			return nil, fmt.Errorf("invalid range %q", part)
		}
		for p := from; p <= to; p++ {
			if err := add(p); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
