package form

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/swipeapply/applyd/internal/page"
	"github.com/swipeapply/applyd/internal/profile"
)

// Question is what the resolver hands the synthesis oracle for an open-ended
// field nothing in the canned table could answer.
type Question struct {
	Text             string
	RoleTitle        string
	Company          string
	ApplicantContext string
}

// Synthesizer produces free text for a question. Any error or empty result
// means "no answer"; the resolver falls back to its canned table.
type Synthesizer interface {
	Answer(ctx context.Context, q Question) (string, error)
}

// SynthesizerFunc adapts a function to the Synthesizer interface.
type SynthesizerFunc func(ctx context.Context, q Question) (string, error)

func (f SynthesizerFunc) Answer(ctx context.Context, q Question) (string, error) {
	return f(ctx, q)
}

// maxAnswerLen bounds every written answer. Ashby textareas reject very long
// values, and the oracle is not length-disciplined.
const maxAnswerLen = 900

// Resolver fills classified fields on a surface. Failures to write a single
// field are recorded, never propagated.
type Resolver struct {
	surface page.Surface
	profile *profile.Profile
	oracle  Synthesizer // nil disables synthesis

	roleTitle        string
	company          string
	applicantContext string

	logger *slog.Logger

	// Unfilled accumulates labels of fields whose value was rejected or read
	// back empty.
	Unfilled []string
}

// NewResolver creates a Resolver for one attempt. oracle may be nil, in which
// case open-ended fields are served from the canned table only.
func NewResolver(surface page.Surface, p *profile.Profile, oracle Synthesizer, roleTitle, company, applicantContext string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		surface:          surface,
		profile:          p,
		oracle:           oracle,
		roleTitle:        roleTitle,
		company:          company,
		applicantContext: applicantContext,
		logger:           logger,
	}
}

// Fill resolves and writes answers for every field. Skip-tagged and
// file-tagged fields are untouched. skipFreeText suppresses open-ended
// synthesis (confirm mode). Returns the number of fields changed.
func (r *Resolver) Fill(ctx context.Context, fields []Field, skipFreeText bool) int {
	changed := 0
	seenGroups := map[string]bool{}

	for _, f := range fields {
		switch f.Tag {
		case TagSkip, TagFile:
			continue
		case TagChoice:
			if r.fillChoice(ctx, f) {
				changed++
			}
		case TagChoiceGroup:
			// One decision per radio group.
			if f.Control.Name != "" && seenGroups[f.Control.Name] {
				continue
			}
			seenGroups[f.Control.Name] = true
			if r.fillChoiceGroup(ctx, f, fields) {
				changed++
			}
		case TagBoolean:
			if r.fillBoolean(ctx, f) {
				changed++
			}
		case TagOpenEnded:
			if skipFreeText {
				continue
			}
			if r.fillOpenEnded(ctx, f) {
				changed++
			}
		}
	}
	return changed
}

func (r *Resolver) fillChoice(ctx context.Context, f Field) bool {
	if f.Control.Value != "" {
		return false
	}
	opt, ok := PreferOption(f.Control.Options, r.profile)
	if !ok {
		r.logger.Debug("no selectable option", "field", f.Label)
		return false
	}
	if err := r.surface.SelectByLabel(ctx, f.Control.ID, opt.Label); err != nil {
		// Some comboboxes only accept the underlying value.
		if err := r.surface.SelectByValue(ctx, f.Control.ID, opt.Value); err != nil {
			r.recordUnfilled(f, err)
			return false
		}
	}
	return true
}

// fillChoiceGroup treats the radio group as a choice over its member labels.
func (r *Resolver) fillChoiceGroup(ctx context.Context, f Field, all []Field) bool {
	var members []Field
	for _, other := range all {
		if other.Tag == TagChoiceGroup && other.Control.Name == f.Control.Name {
			if other.Control.Checked {
				return false // group already answered
			}
			members = append(members, other)
		}
	}
	options := make([]page.Option, len(members))
	for i, m := range members {
		options[i] = page.Option{Label: m.Label, Value: m.Control.ID}
	}
	opt, ok := PreferOption(options, r.profile)
	if !ok {
		return false
	}
	if err := r.surface.Click(ctx, opt.Value); err != nil {
		r.recordUnfilled(f, err)
		return false
	}
	return true
}

func (r *Resolver) fillBoolean(ctx context.Context, f Field) bool {
	if f.Control.Checked {
		return false
	}
	if !ShouldCheck(f.Label, r.profile) {
		return false
	}
	if err := r.surface.SetChecked(ctx, f.Control.ID, true); err != nil {
		r.recordUnfilled(f, err)
		return false
	}
	return true
}

func (r *Resolver) fillOpenEnded(ctx context.Context, f Field) bool {
	// A non-empty field is never overwritten; autofill may own it.
	if strings.TrimSpace(f.Control.Value) != "" {
		return false
	}

	answer, canned := CannedAnswer(f.Label, r.profile)
	if !canned {
		if r.oracle != nil && WantsOracle(f.Label) {
			synth, err := r.oracle.Answer(ctx, Question{
				Text:             f.Label,
				RoleTitle:        r.roleTitle,
				Company:          r.company,
				ApplicantContext: r.applicantContext,
			})
			if err != nil {
				r.logger.Warn("answer synthesis failed, falling back", "field", f.Label, "error", err)
			} else {
				answer = strings.TrimSpace(synth)
			}
		}
		if answer == "" {
			answer = GenericAnswer()
		}
	}

	answer = Truncate(answer, maxAnswerLen)
	if err := r.surface.SetValue(ctx, f.Control.ID, answer); err != nil {
		r.recordUnfilled(f, err)
		return false
	}

	// Verify the write stuck; a rejected value reads back empty.
	if got, err := r.surface.ReadValue(ctx, f.Control.ID); err == nil && strings.TrimSpace(got) == "" {
		r.recordUnfilled(f, errors.New("value read back empty"))
		return false
	}
	return true
}

func (r *Resolver) recordUnfilled(f Field, err error) {
	name := f.Label
	if name == "" {
		name = "unknown field (" + f.Control.ID + ")"
	}
	r.logger.Warn("could not fill field", "field", name, "error", err)
	r.Unfilled = append(r.Unfilled, name)
}

// Truncate cuts s to at most max bytes without splitting a rune.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	end := max
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end]
}
