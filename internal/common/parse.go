package common

import (
	"strconv"
	"strings"
)

// ParseUint64orHex converts a JSON-RPC numeric string into a uint64.
// A 0x prefix selects hex, anything else is read as decimal.
func ParseUint64orHex(val string) (uint64, error) {
	base := 10
	if rest, ok := strings.CutPrefix(val, "0x"); ok {
		val = rest
		base = 16
	}
	return strconv.ParseUint(val, base, 64)
}

// ToLowerWithTrim normalizes user-supplied config values for comparison.
func ToLowerWithTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
