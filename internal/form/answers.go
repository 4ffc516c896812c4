package form

import (
	"regexp"
	"strings"

	"github.com/swipeapply/applyd/internal/page"
	"github.com/swipeapply/applyd/internal/profile"
)

// Choice preference rules, in precedence order. Each stage scans every
// option before the next stage is tried.

var (
	yesLeaningOption    = regexp.MustCompile(`(?i)^\s*(yes|i am|i do|i agree|authorized|willing)\b`)
	professionalSource  = regexp.MustCompile(`(?i)linkedin|job board|referr?al|recruiter|company website|career(s)? (page|site)|online search`)
	placeholderOption   = regexp.MustCompile(`(?i)^\s*(select|choose|pick|--|—|\.{3}|please select|select an option|select one)\b|^\s*$`)
	genericAnswerPhrase = "I'm excited about this opportunity and believe my background is a strong match for the role."
)

// PreferOption picks the option the resolver should select for a choice
// control. Returns false only when every option is a placeholder.
func PreferOption(options []page.Option, p *profile.Profile) (page.Option, bool) {
	match := func(re *regexp.Regexp) (page.Option, bool) {
		for _, o := range options {
			if re.MatchString(o.Label) {
				return o, true
			}
		}
		return page.Option{}, false
	}

	if o, ok := match(yesLeaningOption); ok {
		return o, true
	}
	if o, ok := match(professionalSource); ok {
		return o, true
	}
	if p != nil && strings.TrimSpace(p.Location) != "" {
		loc := strings.ToLower(p.Location)
		for _, o := range options {
			l := strings.ToLower(o.Label)
			if strings.Contains(loc, l) || strings.Contains(l, loc) {
				return o, true
			}
		}
		// Country or region segments of "City, State, Country" locations.
		for _, part := range strings.Split(loc, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			for _, o := range options {
				if strings.Contains(strings.ToLower(o.Label), part) {
					return o, true
				}
			}
		}
	}
	for _, o := range options {
		if !placeholderOption.MatchString(o.Label) {
			return o, true
		}
	}
	return page.Option{}, false
}

// booleanRule maps a label pattern to a checkbox decision. First match wins;
// gated rules may answer false. A checkbox is never checked merely because it
// is required.
type booleanRule struct {
	pattern *regexp.Regexp
	decide  func(p *profile.Profile) bool
}

var booleanRules = []booleanRule{
	{regexp.MustCompile(`(?i)terms of service|terms and conditions|privacy policy|i agree|i consent|i accept`), func(*profile.Profile) bool { return true }},
	{regexp.MustCompile(`(?i)i (acknowledge|certify|confirm|understand|have read)`), func(*profile.Profile) bool { return true }},
	{regexp.MustCompile(`(?i)linkedin|job board|referr?al|recruiter`), func(*profile.Profile) bool { return true }},
	{regexp.MustCompile(`(?i)\b(master('?s)?|graduate|phd|doctoral)\b`), func(p *profile.Profile) bool {
		return p != nil && p.IsGraduate()
	}},
	{regexp.MustCompile(`(?i)interested in (this|the) (role|position)|role interest`), func(*profile.Profile) bool { return true }},
}

// ShouldCheck decides whether a checkbox with the given label is checked.
func ShouldCheck(label string, p *profile.Profile) bool {
	for _, r := range booleanRules {
		if r.pattern.MatchString(label) {
			return r.decide(p)
		}
	}
	return false
}

// IsConsentLabel reports whether the label reads as a consent or
// acknowledgment statement. Corrective passes only check boxes of this kind;
// marketing-style opt-ins stay unchecked on every pass.
func IsConsentLabel(label string) bool {
	return booleanRules[0].pattern.MatchString(label) || booleanRules[1].pattern.MatchString(label)
}

// cannedRule maps a label pattern to a deterministic answer. The table is
// ordered; the first match wins and short-circuits any oracle call.
type cannedRule struct {
	pattern *regexp.Regexp
	answer  func(p *profile.Profile) string
}

// salaryDeferral is returned verbatim for every compensation question.
const salaryDeferral = "I'm open to discussing compensation and would defer to the range budgeted for this role."

var cannedRules = []cannedRule{
	{regexp.MustCompile(`(?i)salary|compensation|pay (range|expectation)|desired (pay|salary)`), func(*profile.Profile) string {
		return salaryDeferral
	}},
	{regexp.MustCompile(`(?i)why (do you want|are you interested|this (role|company|position))|motivat|interest in`), func(p *profile.Profile) string {
		if p != nil && strings.TrimSpace(p.CoverLetter) != "" {
			return p.CoverLetter
		}
		return genericAnswerPhrase
	}},
	{regexp.MustCompile(`(?i)when (can|could) you start|start date|availab|notice period`), func(*profile.Profile) string {
		return "I'm available to start within two weeks of an offer."
	}},
	{regexp.MustCompile(`(?i)where (are|do) you\b.*\b(located|based|live)|current location|\bcity\b`), func(p *profile.Profile) string {
		if p != nil && p.Location != "" {
			return p.Location
		}
		return ""
	}},
	{regexp.MustCompile(`(?i)work authorization|authorized to work|legally (able|entitled) to work|visa status`), func(p *profile.Profile) string {
		if p != nil && p.WorkAuthorization != "" {
			return p.WorkAuthorization
		}
		return ""
	}},
	{regexp.MustCompile(`(?i)how did you (hear|find out|learn) about`), func(*profile.Profile) string {
		return "LinkedIn"
	}},
	{regexp.MustCompile(`(?i)portfolio|personal (website|site)|work samples`), func(p *profile.Profile) string {
		if p != nil && p.Website != "" {
			return p.Website
		}
		if p != nil && p.GitHub != "" {
			return p.GitHub
		}
		return ""
	}},
	{regexp.MustCompile(`(?i)anything else|additional (information|comments)|cover letter|tell us (more|about)`), func(p *profile.Profile) string {
		if p != nil && strings.TrimSpace(p.CoverLetter) != "" {
			return p.CoverLetter
		}
		return genericAnswerPhrase
	}},
}

// CannedAnswer looks the label up in the canned-answer table. Deterministic:
// identical labels always return the identical literal.
func CannedAnswer(label string, p *profile.Profile) (string, bool) {
	for _, r := range cannedRules {
		if r.pattern.MatchString(label) {
			if a := r.answer(p); a != "" {
				return a, true
			}
		}
	}
	return "", false
}

// GenericAnswer is the last-resort text for an open-ended field nothing else
// could answer.
func GenericAnswer() string { return genericAnswerPhrase }

// minOracleLabelLen gates oracle delegation: short labels ("Name", "Other")
// are too unspecific to synthesize a useful answer for.
const minOracleLabelLen = 20

// WantsOracle reports whether an open-ended label is long and specific enough
// to be worth a synthesis call.
func WantsOracle(label string) bool {
	return len(strings.TrimSpace(label)) >= minOracleLabelLen
}
