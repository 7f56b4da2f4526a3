// Package util contains misc internal utilities.
package util

// AllElementsNumbers returns true if every rune of str is an ASCII digit.
// The empty string is not a number.
func AllElementsNumbers(str string) bool {
	if str == "" {
		return false
	}
	for _, r := range str {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Clamp limits input to [low, high]
func Clamp(input, low, high float64) float64 {
	if input < low {
		return low
	}
	if input > high {
		return high
	}
	return input
}
