package export

import (
	"bytes"
	"html"
	"html/template"
	"strings"
	"time"
)

// TemplateData holds data for the collateral shell template.
type TemplateData struct {
	Title        string
	CustomerName string
	Author       string
	Status       string
	UpdatedAt    time.Time
	ContentHTML  template.HTML
}

var collateralTemplate = template.Must(template.New("collateral").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    h2 { margin-top: 2rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    ul { padding-left: 1.5rem; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.CustomerName}} | {{.Author}} | {{.Status}} | {{.UpdatedAt.Format "Jan 2, 2006"}}</div>
  <div>{{.ContentHTML}}</div>
</body>
</html>`))

// RenderCollateralHTML renders the print shell around a collateral
// body.
func RenderCollateralHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := collateralTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// MarkdownToHTML converts the subset of markdown that collateral
// bodies use (headings, bullet lists, paragraphs) into HTML. Input is
// escaped before any tags are added.
func MarkdownToHTML(markdown string) string {
	lines := strings.Split(markdown, "\n")
	var b strings.Builder

	var paragraph []string
	inList := false

	flushParagraph := func() {
		if len(paragraph) == 0 {
			return
		}
		b.WriteString("<p>")
		b.WriteString(strings.Join(paragraph, "<br>"))
		b.WriteString("</p>\n")
		paragraph = nil
	}
	closeList := func() {
		if inList {
			b.WriteString("</ul>\n")
			inList = false
		}
	}

	for _, raw := range lines {
		line := strings.TrimRight(raw, " \t")
		escaped := html.EscapeString(strings.TrimSpace(line))

		switch {
		case strings.TrimSpace(line) == "":
			flushParagraph()
			closeList()
		case strings.HasPrefix(line, "### "):
			flushParagraph()
			closeList()
			b.WriteString("<h3>" + html.EscapeString(strings.TrimPrefix(line, "### ")) + "</h3>\n")
		case strings.HasPrefix(line, "## "):
			flushParagraph()
			closeList()
			b.WriteString("<h2>" + html.EscapeString(strings.TrimPrefix(line, "## ")) + "</h2>\n")
		case strings.HasPrefix(line, "# "):
			flushParagraph()
			closeList()
			b.WriteString("<h1>" + html.EscapeString(strings.TrimPrefix(line, "# ")) + "</h1>\n")
		case strings.HasPrefix(strings.TrimSpace(line), "- "):
			flushParagraph()
			if !inList {
				b.WriteString("<ul>\n")
				inList = true
			}
			item := strings.TrimPrefix(strings.TrimSpace(line), "- ")
			b.WriteString("<li>" + html.EscapeString(item) + "</li>\n")
		default:
			closeList()
			paragraph = append(paragraph, escaped)
		}
	}
	flushParagraph()
	closeList()

	return b.String()
}
