// Package resume extracts text from uploaded PDF resumes and builds the
// review prompt sent to the LLM.
package resume

import (
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// MaxSize is the hard input-size ceiling for uploaded resumes, enforced
// before any extraction or external call.
const MaxSize = 5 * 1024 * 1024

// ErrTooLarge message surfaced to clients for oversized uploads.
const ErrTooLarge = "Resume file size exceeds the limit of 5MB."

// ExtractText pulls the plain text out of a PDF.
func ExtractText(r io.ReaderAt, size int64) (string, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("failed to parse PDF: %w", err)
	}

	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract text: %w", err)
	}

	var sb strings.Builder
	if _, err := io.Copy(&sb, textReader); err != nil {
		return "", fmt.Errorf("failed to extract text: %w", err)
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("no text found in PDF")
	}

	return text, nil
}

// ReviewPrompt embeds the extracted resume text into the fixed review
// prompt template.
func ReviewPrompt(text string) string {
	return fmt.Sprintf(`Review the following resume and provide constructive feedback on its strengths, weaknesses, and areas for improvement.

Resume Content:
%s`, text)
}
