package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLParser turns message bodies into plain text for classification
type HTMLParser struct {
	whitespaceRegex *regexp.Regexp
	newlineRegex    *regexp.Regexp
	invisibleRegex  *regexp.Regexp
	quoteHeader     *regexp.Regexp
}

// NewHTMLParser creates a new HTML parser
func NewHTMLParser() *HTMLParser {
	return &HTMLParser{
		whitespaceRegex: regexp.MustCompile(`[^\S\n]+`),
		newlineRegex:    regexp.MustCompile(`\n{3,}`),
		// Zero-width spaces, soft hyphens and similar invisible characters
		invisibleRegex: regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{034F}\x{061C}\x{115F}\x{1160}\x{17B4}\x{17B5}\x{180E}\x{2060}-\x{2064}\x{206A}-\x{206F}\x{FE00}-\x{FE0F}\x{FFF0}-\x{FFF8}]+`),
		// "On Mon, 1 Jan 2026 at 10:00, Someone <a@b> wrote:"
		quoteHeader: regexp.MustCompile(`(?i)^on .{4,200} wrote:\s*$`),
	}
}

// Parse converts HTML to clean plain text
func (p *HTMLParser) Parse(html string) (string, error) {
	if html == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	// Quoted history and non-content elements
	doc.Find("script, style, head, meta, link, blockquote, .gmail_quote").Remove()

	// Add newlines before block elements
	doc.Find("p, div, br, h1, h2, h3, h4, h5, h6, li, tr").Each(func(i int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	return p.clean(doc.Text()), nil
}

// BodyText returns the best plain-text rendition of a message body:
// the text/plain part when present, the parsed HTML part otherwise.
func (p *HTMLParser) BodyText(plain, html string) string {
	if strings.TrimSpace(plain) != "" {
		return p.clean(p.StripQuoted(plain))
	}
	text, err := p.Parse(html)
	if err != nil {
		return ""
	}
	return text
}

// StripQuoted drops quoted reply history from a plain-text body
func (p *HTMLParser) StripQuoted(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if p.quoteHeader.MatchString(trimmed) || trimmed == "-----Original Message-----" {
			break
		}
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func (p *HTMLParser) clean(text string) string {
	text = p.invisibleRegex.ReplaceAllString(text, "")

	// Collapse whitespace but keep newlines
	text = p.whitespaceRegex.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	var cleanLines []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleanLines = append(cleanLines, line)
		}
	}
	text = strings.Join(cleanLines, "\n")

	text = p.newlineRegex.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// Truncate cuts text to at most n runes
func Truncate(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n])
}
