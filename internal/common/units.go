package common

import "fmt"

var unitPrefixes = []string{"", "k", "M", "G", "T", "P", "E"}

// FormatBytes renders a byte count with a metric prefix, e.g. "12 kB".
// Values are scaled down until they are at most 10000, so table columns
// keep a stable width.
func FormatBytes(n uint64) string {
	value := n
	prefix := 0
	for value > 10000 && prefix < len(unitPrefixes)-1 {
		value /= 1000
		prefix++
	}
	return fmt.Sprintf("%d %sB", value, unitPrefixes[prefix])
}
