package text

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Document is the plain text of a PDF plus its page count.
type Document struct {
	Text  string
	Pages int
}

// Extract pulls the plain text out of every page of a PDF. Pages without
// a content stream are skipped.
func Extract(data []byte) (doc Document, err error) {
	// the reader panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Document{}, fmt.Errorf("open pdf: %w", err)
	}

	pages := reader.NumPage()
	var sb strings.Builder
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return Document{}, fmt.Errorf("page %d: %w", i, err)
		}
		sb.WriteString(content)
		sb.WriteString("\n")
	}

	return Document{Text: sb.String(), Pages: pages}, nil
}

func ExtractFile(path string) (Document, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the upload directory
	if err != nil {
		return Document{}, err
	}
	return Extract(data)
}
