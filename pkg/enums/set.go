// Package enums declares the string enums shared by the database, API and events.
package enums

import (
	"fmt"
	"slices"
)

func member[T ~string](v T, declared ...T) bool {
	return slices.Contains(declared, v)
}

func parse[T ~string](kind, raw string, declared ...T) (T, error) {
	if v := T(raw); member(v, declared...) {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, raw)
}
