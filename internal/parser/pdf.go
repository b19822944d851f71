package parser

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"
)

type pdfParser struct{}

func (pdfParser) Parse(ctx context.Context, data []byte, fileName string) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", fileName, err)
	}
	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text %s: %w", fileName, err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(textReader); err != nil {
		return "", fmt.Errorf("read pdf text %s: %w", fileName, err)
	}
	return buf.String(), nil
}

func init() {
	Register("pdf", pdfParser{})
}
