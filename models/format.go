package models

import (
	"slices"
	"strings"
)

// OutputFormats lists the target formats accepted by the converter.
var OutputFormats = []string{"jpeg", "pdf", "png", "svg", "tiff"}

// IsOutputFormat reports whether format is supported, ignoring case.
func IsOutputFormat(format string) bool {
	return slices.Contains(OutputFormats, strings.ToLower(format))
}
