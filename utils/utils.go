// Package utils carries the small set-algebra helpers (Complement,
// ContainsInt) that TemporalMemory needs for synapse-growth candidate
// filtering.
package utils

// ContainsInt reports whether q is present in vals.
func ContainsInt(q int, vals []int) bool {
	for _, val := range vals {
		if val == q {
			return true
		}
	}
	return false
}

// Complement returns the elements of s that are not present in t,
// preserving s's order. Used when growing new synapses on a segment: the
// candidate pool is "previous winner cells this segment is not already
// connected to".
func Complement(s []int, t []int) []int {
	result := make([]int, 0, len(s))
	for _, val := range s {
		if !ContainsInt(val, t) {
			result = append(result, val)
		}
	}
	return result
}
