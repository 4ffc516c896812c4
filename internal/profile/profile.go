// Package profile holds the applicant profile: identity fields, links,
// application preferences, and the resume path. Values live in the storage
// key/value table; Manager provides a cached, typed view over them.
package profile

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Storage keys. Dot-notation groups keys by concern.
const (
	KeyFirstName         = "identity.first_name"
	KeyLastName          = "identity.last_name"
	KeyEmail             = "identity.email"
	KeyPhone             = "identity.phone"
	KeyLocation          = "identity.location"
	KeyLinkedIn          = "links.linkedin"
	KeyGitHub            = "links.github"
	KeyWebsite           = "links.website"
	KeyWorkAuthorization = "application.work_authorization"
	KeyCoverLetter       = "application.cover_letter"
	KeyResumePath        = "application.resume_path"
	KeyEducationLevel    = "application.education_level"
	KeyOpenToRelocation  = "preferences.open_to_relocation"
	KeyAcceptsAnchorDays = "preferences.accepts_anchor_days"
	KeyNeedsSponsorship  = "preferences.needs_sponsorship"
)

// Keys lists every known profile key, in display order.
var Keys = []string{
	KeyFirstName, KeyLastName, KeyEmail, KeyPhone, KeyLocation,
	KeyLinkedIn, KeyGitHub, KeyWebsite,
	KeyWorkAuthorization, KeyCoverLetter, KeyResumePath, KeyEducationLevel,
	KeyOpenToRelocation, KeyAcceptsAnchorDays, KeyNeedsSponsorship,
}

// Profile is the typed applicant profile used by the apply engine.
type Profile struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Location  string `json:"location"`

	LinkedIn string `json:"linkedin,omitempty"`
	GitHub   string `json:"github,omitempty"`
	Website  string `json:"website,omitempty"`

	WorkAuthorization string `json:"work_authorization"`
	CoverLetter       string `json:"cover_letter,omitempty"`
	ResumePath        string `json:"resume_path"`
	EducationLevel    string `json:"education_level,omitempty"`

	OpenToRelocation  bool `json:"open_to_relocation"`
	AcceptsAnchorDays bool `json:"accepts_anchor_days"`
	NeedsSponsorship  bool `json:"needs_sponsorship"`
}

// FullName joins first and last name, tolerating either being empty.
func (p *Profile) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// IsGraduate reports whether the declared education level is a graduate
// degree. Used to gate education-conditioned checkboxes.
func (p *Profile) IsGraduate() bool {
	l := strings.ToLower(p.EducationLevel)
	return strings.Contains(l, "master") ||
		strings.Contains(l, "graduate") ||
		strings.Contains(l, "phd") ||
		strings.Contains(l, "doctor")
}

// Validate reports the fields that must be non-empty before an attempt can
// run against an Ashby-style form.
func (p *Profile) Validate() error {
	var missing []string
	required := []struct {
		name  string
		value string
	}{
		{"first name", p.FirstName},
		{"last name", p.LastName},
		{"email", p.Email},
		{"phone", p.Phone},
		{"location", p.Location},
		{"work authorization", p.WorkAuthorization},
		{"resume path", p.ResumePath},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("profile incomplete: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// maxContextLen bounds the applicant context handed to the oracle.
const maxContextLen = 2000

// ContextSummary renders the profile as a bounded plain-text context for the
// oracle. resumeText, when available, is appended last so profile facts
// survive truncation.
func (p *Profile) ContextSummary(resumeText string) string {
	var b strings.Builder
	write := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			b.WriteString(label)
			b.WriteString(": ")
			b.WriteString(value)
			b.WriteString("\n")
		}
	}
	write("Name", p.FullName())
	write("Location", p.Location)
	write("Work authorization", p.WorkAuthorization)
	write("Education level", p.EducationLevel)
	write("Open to relocation", strconv.FormatBool(p.OpenToRelocation))
	write("Needs visa sponsorship", strconv.FormatBool(p.NeedsSponsorship))
	write("LinkedIn", p.LinkedIn)
	write("GitHub", p.GitHub)
	write("Website", p.Website)
	write("Cover letter", p.CoverLetter)
	if strings.TrimSpace(resumeText) != "" {
		b.WriteString("Resume:\n")
		b.WriteString(resumeText)
	}

	s := b.String()
	if len(s) > maxContextLen {
		end := maxContextLen
		for end > 0 && !utf8.RuneStart(s[end]) {
			end--
		}
		s = s[:end]
	}
	return s
}

// FromMap builds a Profile from raw storage key/values. Unknown keys are
// ignored; malformed booleans read as false.
func FromMap(values map[string]string) *Profile {
	boolVal := func(key string) bool {
		v, _ := strconv.ParseBool(values[key])
		return v
	}
	return &Profile{
		FirstName:         values[KeyFirstName],
		LastName:          values[KeyLastName],
		Email:             values[KeyEmail],
		Phone:             values[KeyPhone],
		Location:          values[KeyLocation],
		LinkedIn:          values[KeyLinkedIn],
		GitHub:            values[KeyGitHub],
		Website:           values[KeyWebsite],
		WorkAuthorization: values[KeyWorkAuthorization],
		CoverLetter:       values[KeyCoverLetter],
		ResumePath:        values[KeyResumePath],
		EducationLevel:    values[KeyEducationLevel],
		OpenToRelocation:  boolVal(KeyOpenToRelocation),
		AcceptsAnchorDays: boolVal(KeyAcceptsAnchorDays),
		NeedsSponsorship:  boolVal(KeyNeedsSponsorship),
	}
}

// ToMap renders the profile back into storage key/values.
func (p *Profile) ToMap() map[string]string {
	return map[string]string{
		KeyFirstName:         p.FirstName,
		KeyLastName:          p.LastName,
		KeyEmail:             p.Email,
		KeyPhone:             p.Phone,
		KeyLocation:          p.Location,
		KeyLinkedIn:          p.LinkedIn,
		KeyGitHub:            p.GitHub,
		KeyWebsite:           p.Website,
		KeyWorkAuthorization: p.WorkAuthorization,
		KeyCoverLetter:       p.CoverLetter,
		KeyResumePath:        p.ResumePath,
		KeyEducationLevel:    p.EducationLevel,
		KeyOpenToRelocation:  strconv.FormatBool(p.OpenToRelocation),
		KeyAcceptsAnchorDays: strconv.FormatBool(p.AcceptsAnchorDays),
		KeyNeedsSponsorship:  strconv.FormatBool(p.NeedsSponsorship),
	}
}
