package ocr

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Preprocessor enhances captured frames before OCR. Plate shots from the
// field are often low-contrast and skewed, so we normalize them the same way
// for every engine. Any failure falls back to the original bytes: a missing
// ImageMagick install degrades quality, never availability.
type Preprocessor struct {
	log zerolog.Logger
}

// NewPreprocessor creates an image preprocessor.
func NewPreprocessor(log zerolog.Logger) *Preprocessor {
	return &Preprocessor{log: log}
}

// tempPair returns unique input/output paths for one enhancement run.
// Concurrent sessions preprocess in parallel, so the names must not collide.
func tempPair() (string, string) {
	tmpDir := os.TempDir()
	id := uuid.New().String()[:8]
	return filepath.Join(tmpDir, fmt.Sprintf("prep_in_%s.jpg", id)),
		filepath.Join(tmpDir, fmt.Sprintf("prep_out_%s.jpg", id))
}

// Enhance applies grayscale, contrast and sharpen filters via ImageMagick.
func (p *Preprocessor) Enhance(image []byte) []byte {
	inputFile, outputFile := tempPair()

	if err := os.WriteFile(inputFile, image, 0o644); err != nil {
		return image
	}
	defer os.Remove(inputFile)
	defer os.Remove(outputFile)

	args := []string{
		inputFile,
		"-resize", "2000x2000>",
		"-colorspace", "Gray",
		"-normalize",
		"-contrast-stretch", "2%x1%",
		"-despeckle",
		"-sharpen", "0x1",
		"-quality", "95",
		outputFile,
	}

	// 'magick' is ImageMagick 7, 'convert' is the v6 entrypoint.
	var cmd *exec.Cmd
	if _, err := exec.LookPath("magick"); err == nil {
		cmd = exec.Command("magick", args...)
	} else {
		cmd = exec.Command("convert", args...)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		p.log.Warn().Err(err).Str("stderr", stderr.String()).Msg("imagemagick preprocessing failed, using original image")
		return image
	}

	processed, err := os.ReadFile(outputFile)
	if err != nil {
		return image
	}

	p.log.Debug().Int("original_bytes", len(image)).Int("processed_bytes", len(processed)).Msg("image enhanced for OCR")
	return processed
}
