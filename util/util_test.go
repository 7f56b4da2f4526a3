package util_test

import (
	"fmt"
	"testing"

	"github.jpl.nasa.gov/bdube/gigeproxy/util"
)

func ExampleAllElementsNumbers() {
	fmt.Println(util.AllElementsNumbers("2500"), util.AllElementsNumbers("25ms"))
	// Output: true false
}

func ExampleClamp() {
	fmt.Println(util.Clamp(120, 0.5, 60))
	// Output: 60
}

func TestAllElementsNumbersEmpty(t *testing.T) {
	if util.AllElementsNumbers("") {
		t.Error("expected the empty string not to be a number")
	}
}

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 20.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != high {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = -1.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != low {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampInRange(t *testing.T) {
	if out := util.Clamp(5, 0, 10); out != 5 {
		t.Errorf("expected 5 to pass through, got %f", out)
	}
}
