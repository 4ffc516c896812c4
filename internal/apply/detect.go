package apply

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/swipeapply/applyd/internal/page"
)

// ValidationError is a detected post-submission validation failure.
type ValidationError struct {
	Text   string
	Source string // marker source or "page-text"
}

// errorPhrases are validation phrases looked for in page text after the
// marker scan finds nothing.
var errorPhrases = regexp.MustCompile(`(?i)required field|please complete|cannot be empty|is required|please (select|enter|provide|fill)`)

// errorContextWindow is how much surrounding page text is kept around a
// matched error phrase.
const errorContextWindow = 80

// detectErrors scans the page for validation failure evidence: marker
// elements first (role="alert", error classes, aria-invalid), then known
// error phrases in the page text. Returns nil when the submission looks
// clean.
func detectErrors(ctx context.Context, surface page.Surface) (*ValidationError, error) {
	markers, err := surface.Markers(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range markers {
		text := strings.TrimSpace(m.Text)
		if text == "" && m.HTML != "" {
			text = htmlText(m.HTML)
		}
		if text != "" {
			return &ValidationError{Text: text, Source: string(m.Source)}, nil
		}
	}

	pageText, err := surface.PageText(ctx)
	if err != nil {
		return nil, err
	}
	if loc := errorPhrases.FindStringIndex(pageText); loc != nil {
		// Window bounds back off to rune starts so the snippet stays valid
		// UTF-8.
		start := loc[0] - errorContextWindow
		if start < 0 {
			start = 0
		}
		for start > 0 && !utf8.RuneStart(pageText[start]) {
			start--
		}
		end := loc[1] + errorContextWindow
		if end > len(pageText) {
			end = len(pageText)
		}
		for end < len(pageText) && !utf8.RuneStart(pageText[end]) {
			end++
		}
		snippet := strings.Join(strings.Fields(pageText[start:end]), " ")
		return &ValidationError{Text: snippet, Source: "page-text"}, nil
	}

	return nil, nil
}

// htmlText extracts the readable text of a raw HTML fragment. Markers often
// arrive with empty text but markup content (icon wrappers, nested spans).
func htmlText(fragment string) string {
	node, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return strings.Join(strings.Fields(b.String()), " ")
}

// suggestionKeywords map validation-text fragments to the human-readable
// field categories they usually implicate.
var suggestionKeywords = []struct {
	pattern    *regexp.Regexp
	suggestion string
}{
	{regexp.MustCompile(`(?i)phone`), "phone number"},
	{regexp.MustCompile(`(?i)school|universit|college`), "school"},
	{regexp.MustCompile(`(?i)graduat`), "graduation date"},
	{regexp.MustCompile(`(?i)degree`), "degree type"},
	{regexp.MustCompile(`(?i)authoriz|visa|work permit`), "work authorization"},
	{regexp.MustCompile(`(?i)relocat`), "relocation willingness"},
}

// suggestMissingFields derives best-effort field suggestions from validation
// text.
func suggestMissingFields(text string) []string {
	var suggestions []string
	for _, k := range suggestionKeywords {
		if k.pattern.MatchString(text) {
			suggestions = append(suggestions, k.suggestion)
		}
	}
	return suggestions
}

// successPatterns match post-submission confirmation text.
var successPatterns = regexp.MustCompile(`(?i)thank you for (applying|your application)|application (submitted|received|complete)|successfully (submitted|applied)|we('ve| have) received your application`)

// detectSuccessText returns confirmation text from the page, or "".
func detectSuccessText(ctx context.Context, surface page.Surface) string {
	pageText, err := surface.PageText(ctx)
	if err != nil {
		return ""
	}
	if m := successPatterns.FindString(pageText); m != "" {
		return m
	}
	return ""
}
