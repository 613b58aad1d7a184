package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"docconvert/models"
)

// ValidateArgs checks a conversion request before any network call. The
// input must be an existing regular file with an extension and the output
// type one of models.OutputFormats. The output type is returned lower-cased.
func ValidateArgs(inputPath string, outputType string) (string, error) {
	if err := validateInputPath(inputPath); err != nil {
		return "", err
	}
	if outputType == "" || !models.IsOutputFormat(outputType) {
		return "", fmt.Errorf("%w [%s]", ErrInvalidOutputType, outputType)
	}
	return strings.ToLower(outputType), nil
}

func validateInputPath(inputPath string) error {
	invalid := fmt.Errorf("%w [%s]", ErrInvalidInputPath, inputPath)
	if inputPath == "" || filepath.Ext(inputPath) == "" {
		return invalid
	}

	dirInfo, err := os.Stat(filepath.Dir(inputPath))
	if err != nil || !dirInfo.IsDir() {
		return invalid
	}

	info, err := os.Stat(inputPath)
	if err != nil || !info.Mode().IsRegular() {
		return invalid
	}
	return nil
}
