package render

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/mattjoyce/folio/internal/outline"
)

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: Georgia, serif; font-size: 11pt; line-height: 1.5; }
section.document { page-break-after: always; }
section.document:last-child { page-break-after: auto; }
p.subtitle { color: #555; font-style: italic; }
pre { font-size: 9pt; background: #f6f8fa; padding: 0.5em; }
</style>
</head>
<body>
{{range .Sections}}<section class="document" id="doc-{{.ID}}">
<h1>{{.Title}}</h1>
{{if .Subtitle}}<p class="subtitle">{{.Subtitle}}</p>
{{end}}{{.Body}}
</section>
{{end}}</body>
</html>`

var page = template.Must(template.New("page").Parse(pageTemplate))

type section struct {
	ID       int64
	Title    string
	Subtitle string
	Body     template.HTML
}

// Markup converts document bodies (Markdown) to a single printable HTML page.
type Markup struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

func NewMarkup() *Markup {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Footnote,
			highlighting.NewHighlighting(
				highlighting.WithFormatOptions(chromahtml.WithClasses(false)),
			),
		),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		goldmark.WithRendererOptions(html.WithXHTML(), html.WithUnsafe()),
	)

	// Bodies may carry raw HTML; the policy strips scripts and handlers but
	// keeps the inline styles chroma emits.
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("style").OnElements("span", "pre", "code")
	policy.AllowAttrs("class").Globally()

	return &Markup{md: md, policy: policy}
}

// HTML renders docs in order as one HTML document titled title.
func (m *Markup) HTML(ctx context.Context, title string, docs []outline.Document) ([]byte, error) {
	data := struct {
		Title    string
		Sections []section
	}{Title: title}

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := m.md.Convert([]byte(doc.Body), &buf); err != nil {
			return nil, fmt.Errorf("%w: document %d: %v", ErrRender, doc.ID, err)
		}
		data.Sections = append(data.Sections, section{
			ID:       doc.ID,
			Title:    doc.Title,
			Subtitle: doc.Subtitle,
			Body:     template.HTML(m.policy.SanitizeBytes(buf.Bytes())),
		})
	}

	var out bytes.Buffer
	if err := page.Execute(&out, data); err != nil {
		return nil, fmt.Errorf("%w: template: %v", ErrRender, err)
	}
	return out.Bytes(), nil
}
