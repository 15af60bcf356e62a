// Package ingest turns uploaded incident documents into something an analyzer can read.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// MaxPDFPages bounds the size of PDF decisions accepted for analysis
const MaxPDFPages = 50

// Supported content types
const (
	ContentTypeText     = "text/plain"
	ContentTypeMarkdown = "text/markdown"
	ContentTypeHTML     = "text/html"
	ContentTypePDF      = "application/pdf"
)

var (
	ErrUnsupportedDocument = errors.New("unsupported document type")
	ErrCorruptDocument     = errors.New("document could not be read")
	ErrTooManyPages        = errors.New("document has too many pages")
	ErrEmptyDocument       = errors.New("document is empty")
)

// Document is an uploaded incident document ready for analysis
type Document struct {
	ContentType string
	// Title is taken from the HTML <title> when present
	Title string
	// Text holds the readable content; empty for binary documents
	Text  string
	Pages int
	Data  []byte
}

// Binary reports whether the document must be handed to the model as an attachment
func (d *Document) Binary() bool {
	return d.ContentType == ContentTypePDF
}

// DetectContentType trusts a specific header and otherwise sniffs the bytes,
// falling back to the file extension.
func DetectContentType(header, filename string, data []byte) string {
	header = strings.TrimSpace(header)
	if header != "" && header != "application/octet-stream" {
		return normalize(header)
	}

	sniffed := normalize(http.DetectContentType(data))
	if sniffed != "application/octet-stream" && sniffed != ContentTypeText {
		return sniffed
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return ContentTypePDF
	case ".html", ".htm":
		return ContentTypeHTML
	case ".md":
		return ContentTypeMarkdown
	case ".txt":
		return ContentTypeText
	}
	return sniffed
}

func normalize(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

// Prepare validates data and extracts its text
func Prepare(filename, contentType string, data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyDocument
	}

	ct := DetectContentType(contentType, filename, data)
	doc := &Document{ContentType: ct, Data: data}

	switch ct {
	case ContentTypeText, ContentTypeMarkdown:
		doc.Text = strings.TrimSpace(string(data))

	case ContentTypeHTML:
		res, err := NewConverter().Convert(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
		}
		if res.Markdown == "" {
			return nil, ErrEmptyDocument
		}
		doc.Title = res.Title
		doc.Text = res.Markdown

	case ContentTypePDF:
		pages, err := PDFPageCount(data)
		if err != nil {
			return nil, err
		}
		doc.Pages = pages

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDocument, ct)
	}

	return doc, nil
}

// PDFPageCount validates a PDF and returns its page count
func PDFPageCount(data []byte) (int, error) {
	count, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}
	if count > MaxPDFPages {
		return count, fmt.Errorf("%w: %d pages (max %d)", ErrTooManyPages, count, MaxPDFPages)
	}
	return count, nil
}
