// Package form turns raw page controls into semantically tagged fields and
// resolves answers for them. Classification and answer selection are driven by
// ordered rule tables so precedence is auditable in one place.
package form

import (
	"regexp"
	"strings"

	"github.com/swipeapply/applyd/internal/page"
	"github.com/swipeapply/applyd/internal/profile"
)

// Tag is the semantic role assigned to a discovered control.
type Tag string

const (
	TagSkip        Tag = "skip"         // EEO/demographic or already-handled identity field
	TagFile        Tag = "file"         // handled by the upload sub-flow
	TagChoice      Tag = "choice"       // select/combobox
	TagChoiceGroup Tag = "choice-group" // radio, keyed by group name
	TagBoolean     Tag = "boolean"      // checkbox
	TagOpenEnded   Tag = "open-ended"   // text/textarea
)

// Field is one classified control.
type Field struct {
	Control page.Control
	Label   string
	Tag     Tag
}

// genericPlaceholders are placeholder texts that carry no field semantics and
// must not be promoted to a label.
var genericPlaceholders = regexp.MustCompile(`(?i)^\s*(type here|enter|your answer|select|choose|search|\.{3}|…)\s*\.{0,3}\s*$`)

// ResolveLabel derives a human-readable label from a control's raw label
// material. First hit wins; a control with nothing resolvable yields "".
func ResolveLabel(c page.Control) string {
	for _, candidate := range []string{
		c.LabelledByText,
		c.AriaLabel,
		c.LabelForText,
		c.AncestorLabelText,
	} {
		if s := strings.TrimSpace(candidate); s != "" {
			return s
		}
	}
	if s := strings.TrimSpace(c.Placeholder); s != "" && !genericPlaceholders.MatchString(s) {
		return s
	}
	if s := strings.TrimSpace(c.PrecedingText); s != "" {
		// Only the tail of the preceding text is plausibly this control's
		// label; anything further away belongs to earlier content.
		const window = 100
		runes := []rune(s)
		if len(runes) > window {
			s = strings.TrimSpace(string(runes[len(runes)-window:]))
		}
		return s
	}
	return ""
}

// skipPatterns match fields the generic pass must never touch: demographic
// questions and identity fields owned by the dedicated identity pass.
var skipPatterns = []*regexp.Regexp{
	// EEO / demographic
	regexp.MustCompile(`(?i)\b(gender|race|ethnicit|veteran|disabilit|sexual orientation|pronoun|transgender|hispanic|latino)\b`),
	regexp.MustCompile(`(?i)\bEEO\b|equal employment|demographic|voluntary self[- ]identification`),
	// identity fields filled in the dedicated pass
	regexp.MustCompile(`(?i)\b(first name|last name|full name|e-?mail|phone|resume|curriculum vitae|\bcv\b|linkedin|github|portfolio url|personal website)\b`),
}

// Classify assigns a semantic tag to a single control. It never mutates the
// page. The profile is unused today but kept in the signature so future rules
// can condition on it without changing every caller.
func Classify(c page.Control, _ *profile.Profile) Field {
	label := ResolveLabel(c)
	f := Field{Control: c, Label: label}

	for _, p := range skipPatterns {
		if p.MatchString(label) {
			f.Tag = TagSkip
			return f
		}
	}

	switch c.Kind {
	case page.KindFile:
		f.Tag = TagFile
	case page.KindSelect, page.KindCombobox:
		f.Tag = TagChoice
	case page.KindRadio:
		f.Tag = TagChoiceGroup
	case page.KindCheckbox:
		f.Tag = TagBoolean
	default:
		f.Tag = TagOpenEnded
	}
	return f
}

// ClassifyAll classifies every visible, enabled control that participates in
// the generic fill pass. Buttons and links are navigation, not fields.
func ClassifyAll(controls []page.Control, p *profile.Profile) []Field {
	fields := make([]Field, 0, len(controls))
	for _, c := range controls {
		if !c.Visible || !c.Enabled {
			continue
		}
		if c.Kind == page.KindButton || c.Kind == page.KindLink {
			continue
		}
		fields = append(fields, Classify(c, p))
	}
	return fields
}
