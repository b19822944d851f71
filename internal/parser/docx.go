package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// docxParser reads word/document.xml out of the docx archive and walks
// the WordprocessingML stream: w:t runs carry the text, w:p ends become
// newlines, w:br and w:tab become their literal characters.
type docxParser struct{}

func (docxParser) Parse(ctx context.Context, data []byte, fileName string) (string, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx %s: %w", fileName, err)
	}
	var docFile *zip.File
	for _, f := range archive.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", fmt.Errorf("docx %s has no word/document.xml", fileName)
	}
	rc, err := docFile.Open()
	if err != nil {
		return "", fmt.Errorf("open document.xml in %s: %w", fileName, err)
	}
	defer rc.Close()
	return extractDocumentXML(rc)
}

func extractDocumentXML(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var sb strings.Builder
	inText := false
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decode document.xml: %w", err)
		}
		switch el := token.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "t":
				inText = true
			case "br":
				sb.WriteString("\n")
			case "tab":
				sb.WriteString("\t")
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write([]byte(el))
			}
		}
	}
	return sb.String(), nil
}

func init() {
	Register("docx", docxParser{})
}
