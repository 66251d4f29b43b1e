package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// TesseractEngine shells out to the tesseract binary for one recognition.
// Close removes the temp files the call left behind.
type TesseractEngine struct {
	language string
	tmpFiles []string
}

// NewTesseractEngine creates a single-use tesseract wrapper.
func NewTesseractEngine(language string) *TesseractEngine {
	if language == "" {
		language = DefaultLanguage
	}
	return &TesseractEngine{language: language}
}

// Recognize writes the image to a temp file and runs tesseract in TSV mode,
// which yields per-word confidences alongside the text.
func (t *TesseractEngine) Recognize(ctx context.Context, image []byte) (*Result, error) {
	inputFile := filepath.Join(os.TempDir(), fmt.Sprintf("captura_%s.jpg", uuid.New().String()[:8]))
	if err := os.WriteFile(inputFile, image, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write temp image: %w", err)
	}
	t.tmpFiles = append(t.tmpFiles, inputFile)

	args := []string{
		inputFile, "stdout",
		"-l", t.language,
		"-c", "tessedit_char_whitelist=" + Whitelist,
		"tsv",
	}
	cmd := exec.CommandContext(ctx, "tesseract", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("tesseract failed: %w - %s", err, strings.TrimSpace(stderr.String()))
	}

	text, confidence := parseTSV(stdout.String())
	return &Result{
		Text:       filterWhitelist(text),
		Confidence: clampConfidence(confidence),
	}, nil
}

// Close releases the temp files created by Recognize.
func (t *TesseractEngine) Close() error {
	var firstErr error
	for _, f := range t.tmpFiles {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	t.tmpFiles = nil
	return firstErr
}

// parseTSV extracts recognized words and their mean confidence from
// tesseract's TSV output. Confidence -1 marks layout rows, not words.
func parseTSV(tsv string) (string, float64) {
	var words []string
	var confSum float64
	var confCount int

	lines := strings.Split(tsv, "\n")
	for i, line := range lines {
		if i == 0 { // header row
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 12 {
			continue
		}
		conf, err := strconv.ParseFloat(fields[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		word := strings.TrimSpace(fields[11])
		if word == "" {
			continue
		}
		words = append(words, word)
		confSum += conf
		confCount++
	}

	if confCount == 0 {
		return "", 0
	}
	return strings.Join(words, " "), confSum / float64(confCount)
}
