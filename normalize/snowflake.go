package normalize

import (
	"regexp"
	"strings"
)

var snowflakePattern = regexp.MustCompile(`^[0-9]{17,20}$`)

// IsSnowflake reports whether s has the shape of a platform snowflake.
func IsSnowflake(s string) bool {
	return snowflakePattern.MatchString(s)
}

// CompareSnowflakes orders decimal IDs numerically without parsing them, so IDs wider
// than int64 still compare correctly.
func CompareSnowflakes(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
