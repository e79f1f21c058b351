package nodeid

import (
	"fmt"
	"regexp"
	"strconv"
)

// keyRegex matches the canonical form `kind.name@line:col`.
var keyRegex = regexp.MustCompile(`^([a-z][a-z0-9_]*)\.([A-Za-z0-9_$.\-]+)@(\d+):(\d+)$`)

// Parse creates a Key by parsing its canonical string representation.
func Parse(raw string) (Key, error) {
	if raw == "" {
		return Key{}, fmt.Errorf("binding key cannot be empty")
	}

	matches := keyRegex.FindStringSubmatch(raw)
	if matches == nil {
		return Key{}, fmt.Errorf("invalid binding key format: %q", raw)
	}

	line, err := strconv.Atoi(matches[3])
	if err != nil {
		// Unreachable due to regex `\d+`
		return Key{}, fmt.Errorf("internal error parsing line: %w", err)
	}
	col, err := strconv.Atoi(matches[4])
	if err != nil {
		return Key{}, fmt.Errorf("internal error parsing column: %w", err)
	}
	if line < 1 || col < 1 {
		return Key{}, fmt.Errorf("binding key position must be 1-based: %q", raw)
	}

	return Key{Kind: matches[1], Name: matches[2], Line: line, Col: col}, nil
}

// MustParse is Parse for statically-known keys; it panics on failure.
func MustParse(raw string) Key {
	k, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return k
}
