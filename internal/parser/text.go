package parser

import (
	"bytes"
	"context"
	"fmt"
	"unicode/utf8"
)

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

type plainTextParser struct{}

func (plainTextParser) Parse(ctx context.Context, data []byte, fileName string) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", fmt.Errorf("file %s is not valid utf-8 text", fileName)
	}
	return string(data), nil
}

func init() {
	Register("txt", plainTextParser{})
	Register("json", plainTextParser{})
}
