// Package resume extracts plain text from the applicant's resume PDF. The
// text only enriches the oracle's applicant context; extraction failure never
// blocks an attempt.
package resume

import (
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// maxTextLen bounds the extracted text before it joins the oracle context.
const maxTextLen = 4000

// ExtractText reads the PDF at path and returns its plain text, whitespace
// collapsed and bounded to a few thousand characters.
func ExtractText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening resume pdf: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting resume text: %w", err)
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("reading resume text: %w", err)
	}

	text := strings.Join(strings.Fields(string(raw)), " ")
	if len(text) > maxTextLen {
		cut := maxTextLen
		if idx := strings.LastIndex(text[:cut], " "); idx > 0 {
			cut = idx
		}
		text = text[:cut]
	}
	return text, nil
}
