package utils

import (
	"strconv"
)

// StringToInt converts string to int, returns 0 if error
func StringToInt(s string) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return i
}

// ClampLimit parses a page size, using def for missing or non-positive
// values and capping the result at ceiling.
func ClampLimit(s string, def, ceiling int) int {
	n := StringToInt(s)
	if n <= 0 {
		return def
	}
	if n > ceiling {
		return ceiling
	}
	return n
}
