// ABOUTME: Tesseract-backed OCR implementation shelling out to the system binary
// ABOUTME: Used for inline image text extraction; failures degrade, never abort

package attach

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// TesseractOCR implements OCR by invoking the tesseract binary.
type TesseractOCR struct {
	// Language passed to tesseract (-l). Empty means tesseract's default.
	Language string
}

// ExtractText runs tesseract on the image and returns the recognized text.
func (t *TesseractOCR) ExtractText(ctx context.Context, path string) (string, error) {
	args := []string{path, "stdout"}
	if t.Language != "" {
		args = append(args, "-l", t.Language)
	}

	cmd := exec.CommandContext(ctx, "tesseract", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, stderr.String())
	}
	return stdout.String(), nil
}
