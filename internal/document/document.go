// Package document turns uploaded review sources into plain text and
// sentence segments.
package document

import (
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rotisserie/eris"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Supported content types.
const (
	TypePlain    = "text/plain"
	TypeMarkdown = "text/markdown"
	TypePDF      = "application/pdf"
)

var (
	ErrUnsupportedContentType = eris.New("unsupported content type")
	ErrInvalidEncoding        = eris.New("document is not valid UTF-8")
)

// Supported reports whether contentType can be extracted and regenerated in place.
func Supported(contentType string) bool {
	switch normalize(contentType) {
	case TypePlain, TypeMarkdown:
		return true
	}
	return false
}

// DetectContentType guesses the media type of an upload, preferring the file
// extension and falling back to content sniffing. Parameters such as charset
// are dropped.
func DetectContentType(filename string, data []byte) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".text":
		return TypePlain
	case ".md", ".markdown":
		return TypeMarkdown
	case ".pdf":
		return TypePDF
	}
	return normalize(mimetype.Detect(data).String())
}

func normalize(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

// Extract returns the reviewable text of a document. Plain text is returned
// verbatim; markdown is reduced to the text of its paragraphs, headings,
// list items and table cells in document order.
func Extract(contentType string, data []byte) (string, error) {
	ct := normalize(contentType)
	if !Supported(ct) {
		return "", eris.Wrapf(ErrUnsupportedContentType, "%q", contentType)
	}
	if !utf8.Valid(data) {
		return "", eris.Wrap(ErrInvalidEncoding, ct)
	}
	if ct == TypeMarkdown {
		return extractMarkdown(data), nil
	}
	return string(data), nil
}

func extractMarkdown(src []byte) string {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	var blocks []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			blocks = append(blocks, s)
		}
		cur.Reset()
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Paragraph, *ast.Heading, *ast.TextBlock, *extast.TableCell:
			if entering {
				cur.Reset()
			} else {
				flush()
			}
		case *ast.Text:
			if entering {
				cur.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					cur.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				cur.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				cur.Write(node.Label(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	return strings.Join(blocks, "\n\n")
}
