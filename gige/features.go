package gige

import "fmt"

// Feature names used by this package and its consumers
const (
	Width           = "Width"
	Height          = "Height"
	OffsetX         = "OffsetX"
	OffsetY         = "OffsetY"
	PayloadSize     = "PayloadSize"
	ExposureTimeRaw = "ExposureTimeRaw"
	GainRaw         = "GainRaw"
	BlackLevelRaw   = "BlackLevelRaw"

	PixelFormat     = "PixelFormat"
	ExposureMode    = "ExposureMode"
	AcquisitionMode = "AcquisitionMode"
	TriggerSelector = "TriggerSelector"
	TriggerMode     = "TriggerMode"

	AcquisitionStart = "AcquisitionStart"
	AcquisitionStop  = "AcquisitionStop"
	TriggerSoftware  = "TriggerSoftware"
)

// Enumeration entries
const (
	Mono8  = "Mono8"
	Mono12 = "Mono12"
	Mono16 = "Mono16"

	ExposureTimed = "Timed"

	AcquisitionContinuous  = "Continuous"
	AcquisitionSingleFrame = "SingleFrame"

	SelectorAcquisitionStart = "AcquisitionStart"
	SelectorFrameStart       = "FrameStart"

	TriggerOff = "Off"
	TriggerOn  = "On"
)

var (
	// Features maps features to "types", the way the node map reports them
	Features = map[string]string{
		// ints
		Width:           "int",
		Height:          "int",
		OffsetX:         "int",
		OffsetY:         "int",
		PayloadSize:     "int",
		ExposureTimeRaw: "int",
		GainRaw:         "int",
		BlackLevelRaw:   "int",

		// enums
		PixelFormat:     "enum",
		ExposureMode:    "enum",
		AcquisitionMode: "enum",
		TriggerSelector: "enum",
		TriggerMode:     "enum",

		// commands
		AcquisitionStart: "command",
		AcquisitionStop:  "command",
		TriggerSoftware:  "command",
	}
)

// ErrFeatureNotFound is generated when a feature is looked up in the Features
// map but does not exist there
type ErrFeatureNotFound struct {
	// Feature is the specific feature not found
	Feature string
}

// Error satisfies the error interface
func (e ErrFeatureNotFound) Error() string {
	return fmt.Sprintf("feature %s not found in Features map", e.Feature)
}

// BytesPerPixel returns the storage size of one pixel of a pixel format.
// Mono12 is unpacked into 16 bits.
func BytesPerPixel(format string) (int, error) {
	switch format {
	case Mono8:
		return 1, nil
	case Mono12, Mono16:
		return 2, nil
	default:
		return 0, fmt.Errorf("unsupported pixel format %q", format)
	}
}
