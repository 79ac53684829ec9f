package fault

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Category is one fault channel of a station.
type Category string

const (
	PMD        Category = "PMD"
	Quality    Category = "Quality"
	Store      Category = "Store"
	JMD        Category = "JMD"
	Production Category = "Production"
)

// Categories lists every category in processing order.
var Categories = []Category{PMD, Quality, Store, JMD, Production}

var (
	// ErrIndexCollision reports two categories mapped to one frame position.
	ErrIndexCollision = errors.New("fault categories share a frame position")
	// ErrInvalidIndexMap reports an unknown category or a negative position.
	ErrInvalidIndexMap = errors.New("invalid category index map")
)

// IndexMap maps every category to its frame position.
type IndexMap map[Category]int

// DefaultIndexMap is used for stations that configure no map.
func DefaultIndexMap() IndexMap {
	return IndexMap{PMD: 0, Quality: 2, Store: 6, JMD: 8, Production: 12}
}

// ParseCategory matches a category name case-insensitively.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if strings.EqualFold(string(c), strings.TrimSpace(s)) {
			return c, true
		}
	}
	return "", false
}

// ResolveIndexMap expands a station's configured map. An empty map yields
// DefaultIndexMap. Categories missing from a non-empty map read position 0.
// Two explicitly configured categories on the same position are rejected
// with ErrIndexCollision; the implied position 0 is not checked.
func ResolveIndexMap(configured map[string]int) (IndexMap, error) {
	if len(configured) == 0 {
		return DefaultIndexMap(), nil
	}
	if err := ValidateIndexMap(configured); err != nil {
		return nil, err
	}
	out := make(IndexMap, len(Categories))
	for _, c := range Categories {
		out[c] = 0
	}
	for name, pos := range configured {
		c, _ := ParseCategory(name)
		out[c] = pos
	}
	return out, nil
}

// ValidateIndexMap checks a configured map without expanding it.
func ValidateIndexMap(configured map[string]int) error {
	names := make([]string, 0, len(configured))
	for name := range configured {
		names = append(names, name)
	}
	sort.Strings(names)

	owner := make(map[int]Category, len(configured))
	seen := make(map[Category]bool, len(configured))
	for _, name := range names {
		c, ok := ParseCategory(name)
		if !ok {
			return fmt.Errorf("%w: unknown category %q", ErrInvalidIndexMap, name)
		}
		if seen[c] {
			return fmt.Errorf("%w: %s configured twice", ErrInvalidIndexMap, c)
		}
		seen[c] = true
		pos := configured[name]
		if pos < 0 {
			return fmt.Errorf("%w: %s has negative position %d", ErrInvalidIndexMap, c, pos)
		}
		if prev, taken := owner[pos]; taken {
			return fmt.Errorf("%w: %s and %s both read position %d", ErrIndexCollision, prev, c, pos)
		}
		owner[pos] = c
	}
	return nil
}
