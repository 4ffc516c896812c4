package form

import (
	"strings"
	"testing"

	"github.com/swipeapply/applyd/internal/page"
	"github.com/swipeapply/applyd/internal/profile"
)

func TestPreferOption(t *testing.T) {
	p := &profile.Profile{Location: "Berlin, Germany"}

	tests := []struct {
		name    string
		options []page.Option
		want    string
		wantOK  bool
	}{
		{
			name: "yes-leaning wins",
			options: []page.Option{
				{Label: "No", Value: "no"},
				{Label: "Yes, I am authorized", Value: "yes"},
			},
			want:   "Yes, I am authorized",
			wantOK: true,
		},
		{
			name: "professional source",
			options: []page.Option{
				{Label: "TikTok", Value: "tiktok"},
				{Label: "LinkedIn", Value: "li"},
				{Label: "Other", Value: "other"},
			},
			want:   "LinkedIn",
			wantOK: true,
		},
		{
			name: "location term from profile",
			options: []page.Option{
				{Label: "United States", Value: "us"},
				{Label: "Germany", Value: "de"},
				{Label: "France", Value: "fr"},
			},
			want:   "Germany",
			wantOK: true,
		},
		{
			name: "first non-placeholder as last resort",
			options: []page.Option{
				{Label: "Select an option", Value: ""},
				{Label: "0-2 years", Value: "junior"},
				{Label: "3-5 years", Value: "mid"},
			},
			want:   "0-2 years",
			wantOK: true,
		},
		{
			name: "all placeholders",
			options: []page.Option{
				{Label: "Select...", Value: ""},
				{Label: "", Value: ""},
			},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PreferOption(tt.options, p)
			if ok != tt.wantOK {
				t.Fatalf("PreferOption() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got.Label != tt.want {
				t.Errorf("PreferOption() = %q, want %q", got.Label, tt.want)
			}
		})
	}
}

func TestShouldCheck(t *testing.T) {
	grad := &profile.Profile{EducationLevel: "Master of Science"}
	undergrad := &profile.Profile{EducationLevel: "Bachelor of Arts"}

	tests := []struct {
		label   string
		profile *profile.Profile
		want    bool
	}{
		{"I agree to the Terms of Service", undergrad, true},
		{"I consent to the processing of my data", undergrad, true},
		{"I acknowledge the in-office policy", undergrad, true},
		{"I found this role through LinkedIn", undergrad, true},
		{"Subscribe to Master's program newsletter", grad, true},
		{"Subscribe to Master's program newsletter", undergrad, false},
		{"Subscribe to our marketing newsletter", undergrad, false},
		{"Send me job alerts", grad, false},
		{"", undergrad, false},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			if got := ShouldCheck(tt.label, tt.profile); got != tt.want {
				t.Errorf("ShouldCheck(%q) = %v, want %v", tt.label, got, tt.want)
			}
		})
	}
}

func TestIsConsentLabel(t *testing.T) {
	if !IsConsentLabel("I agree to the Terms of Service") {
		t.Error("ToS label should read as consent")
	}
	if !IsConsentLabel("I certify that my answers are accurate") {
		t.Error("certification label should read as consent")
	}
	if IsConsentLabel("Subscribe to our newsletter") {
		t.Error("marketing opt-in must not read as consent")
	}
	if IsConsentLabel("I found this role through LinkedIn") {
		t.Error("source acknowledgment is affirmative but not consent")
	}
}

func TestCannedAnswerSalaryIsLiteralAndDeterministic(t *testing.T) {
	p := &profile.Profile{}
	first, ok := CannedAnswer("Expected salary range", p)
	if !ok {
		t.Fatal("salary label must hit the canned table")
	}
	if first != salaryDeferral {
		t.Errorf("salary answer = %q, want the literal deferral sentence", first)
	}
	for i := 0; i < 5; i++ {
		if got, _ := CannedAnswer("Expected salary range", p); got != first {
			t.Fatal("canned answer not deterministic")
		}
	}
}

func TestCannedAnswerProfileDerived(t *testing.T) {
	p := &profile.Profile{
		Location:          "Austin, TX",
		WorkAuthorization: "US citizen",
		Website:           "https://example.dev",
	}

	tests := []struct {
		label string
		want  string
	}{
		{"Where are you currently located?", "Austin, TX"},
		{"Are you authorized to work in the United States?", "US citizen"},
		{"Link to your portfolio", "https://example.dev"},
	}
	for _, tt := range tests {
		got, ok := CannedAnswer(tt.label, p)
		if !ok || got != tt.want {
			t.Errorf("CannedAnswer(%q) = %q, %v; want %q", tt.label, got, ok, tt.want)
		}
	}
}

func TestCannedAnswerMissesUnknownLabel(t *testing.T) {
	if got, ok := CannedAnswer("Describe a production incident you handled", nil); ok {
		t.Errorf("unknown label should miss the table, got %q", got)
	}
}

func TestWantsOracle(t *testing.T) {
	if WantsOracle("Name") {
		t.Error("short label should not trigger synthesis")
	}
	if !WantsOracle("Describe a production incident you handled") {
		t.Error("long specific label should trigger synthesis")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate(short) = %q", got)
	}
	long := strings.Repeat("a", 20)
	if got := Truncate(long, 10); len(got) != 10 {
		t.Errorf("Truncate() len = %d, want 10", len(got))
	}
	// Never split a multi-byte rune.
	multi := strings.Repeat("é", 10) // 2 bytes each
	got := Truncate(multi, 5)
	if len(got) != 4 {
		t.Errorf("Truncate(multi, 5) len = %d, want 4", len(got))
	}
}
