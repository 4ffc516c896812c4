package form

import (
	"strings"
	"testing"

	"github.com/swipeapply/applyd/internal/page"
	"github.com/swipeapply/applyd/internal/profile"
)

func TestResolveLabelOrder(t *testing.T) {
	tests := []struct {
		name    string
		control page.Control
		want    string
	}{
		{
			name: "labelled-by wins over everything",
			control: page.Control{
				LabelledByText: "Work email",
				AriaLabel:      "email",
				Placeholder:    "you@example.com",
			},
			want: "Work email",
		},
		{
			name:    "aria-label next",
			control: page.Control{AriaLabel: "Phone number", LabelForText: "Phone"},
			want:    "Phone number",
		},
		{
			name:    "label-for association",
			control: page.Control{LabelForText: "Current location"},
			want:    "Current location",
		},
		{
			name:    "ancestor label wrap",
			control: page.Control{AncestorLabelText: "Years of experience"},
			want:    "Years of experience",
		},
		{
			name:    "placeholder used when specific",
			control: page.Control{Placeholder: "https://linkedin.com/in/..."},
			want:    "https://linkedin.com/in/...",
		},
		{
			name:    "generic placeholder rejected",
			control: page.Control{Placeholder: "Type here...", PrecedingText: "Cover letter"},
			want:    "Cover letter",
		},
		{
			name:    "whitespace-only material ignored",
			control: page.Control{AriaLabel: "   ", LabelForText: "School"},
			want:    "School",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveLabel(tt.control); got != tt.want {
				t.Errorf("ResolveLabel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveLabelPrecedingTextWindow(t *testing.T) {
	c := page.Control{PrecedingText: strings.Repeat("x", 150) + " Why do you want this role?"}
	got := ResolveLabel(c)
	if !strings.HasSuffix(got, "Why do you want this role?") {
		t.Errorf("windowed label %q should end with the question text", got)
	}
	if len([]rune(got)) > 100 {
		t.Errorf("windowed label is %d runes, want <= 100", len([]rune(got)))
	}
}

func TestResolveLabelTotal(t *testing.T) {
	// A control with nothing resolvable yields "", never panics.
	got := ResolveLabel(page.Control{ID: "x", Kind: page.KindText})
	if got != "" {
		t.Errorf("ResolveLabel(bare control) = %q, want empty", got)
	}
}

func TestResolveLabelDeterministic(t *testing.T) {
	c := page.Control{AriaLabel: "Expected salary range"}
	first := ResolveLabel(c)
	for i := 0; i < 10; i++ {
		if got := ResolveLabel(c); got != first {
			t.Fatalf("ResolveLabel() not deterministic: %q vs %q", got, first)
		}
	}
}

func TestClassifyPriority(t *testing.T) {
	p := &profile.Profile{}
	tests := []struct {
		name    string
		control page.Control
		want    Tag
	}{
		{"EEO field skipped", page.Control{Kind: page.KindSelect, AriaLabel: "Gender identity"}, TagSkip},
		{"veteran status skipped", page.Control{Kind: page.KindRadio, AriaLabel: "Veteran status"}, TagSkip},
		{"identity field skipped", page.Control{Kind: page.KindText, AriaLabel: "First Name"}, TagSkip},
		{"email skipped even as textarea", page.Control{Kind: page.KindTextarea, AriaLabel: "Email address"}, TagSkip},
		{"file upload", page.Control{Kind: page.KindFile, AriaLabel: "Upload transcript"}, TagFile},
		{"select is choice", page.Control{Kind: page.KindSelect, AriaLabel: "Country of residence"}, TagChoice},
		{"combobox is choice", page.Control{Kind: page.KindCombobox, AriaLabel: "Notice period"}, TagChoice},
		{"radio is choice-group", page.Control{Kind: page.KindRadio, Name: "remote", AriaLabel: "Open to remote work?"}, TagChoiceGroup},
		{"checkbox is boolean", page.Control{Kind: page.KindCheckbox, AriaLabel: "I agree to the Terms of Service"}, TagBoolean},
		{"text is open-ended", page.Control{Kind: page.KindText, AriaLabel: "Why this role?"}, TagOpenEnded},
		{"unlabeled text is open-ended", page.Control{Kind: page.KindText}, TagOpenEnded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.control, p); got.Tag != tt.want {
				t.Errorf("Classify() tag = %q, want %q", got.Tag, tt.want)
			}
		})
	}
}

func TestClassifyAllFiltersNonFields(t *testing.T) {
	controls := []page.Control{
		{ID: "1", Kind: page.KindText, AriaLabel: "Why this role?", Visible: true, Enabled: true},
		{ID: "2", Kind: page.KindButton, AriaLabel: "Submit", Visible: true, Enabled: true},
		{ID: "3", Kind: page.KindLink, AriaLabel: "Privacy policy", Visible: true, Enabled: true},
		{ID: "4", Kind: page.KindText, AriaLabel: "Hidden", Visible: false, Enabled: true},
		{ID: "5", Kind: page.KindText, AriaLabel: "Disabled", Visible: true, Enabled: false},
	}
	fields := ClassifyAll(controls, nil)
	if len(fields) != 1 || fields[0].Control.ID != "1" {
		t.Fatalf("ClassifyAll() = %d fields, want only control 1: %+v", len(fields), fields)
	}
}
