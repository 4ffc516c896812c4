package apply

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/swipeapply/applyd/internal/page"
	"github.com/swipeapply/applyd/internal/profile"
	"github.com/swipeapply/applyd/internal/queue"
)

// fakeSurface is a scriptable form page. Controls are mutable state; onSubmit
// decides what validation evidence the next scan sees.
type fakeSurface struct {
	controls []*page.Control
	marker   *page.Marker
	pageText string

	// onSubmit runs when the submit control is clicked, with the 1-based
	// submission count.
	onSubmit func(s *fakeSurface, n int)

	navigations []string
	clicks      []string
	uploads     []string
	submits     int
	screenshots int
	closed      bool
}

func (s *fakeSurface) control(id string) *page.Control {
	for _, c := range s.controls {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (s *fakeSurface) Navigate(_ context.Context, url string) error {
	s.navigations = append(s.navigations, url)
	return nil
}

func (s *fakeSurface) Controls(context.Context) ([]page.Control, error) {
	out := make([]page.Control, len(s.controls))
	for i, c := range s.controls {
		out[i] = *c
	}
	return out, nil
}

func (s *fakeSurface) PageText(context.Context) (string, error) {
	return s.pageText, nil
}

func (s *fakeSurface) Markers(context.Context) ([]page.Marker, error) {
	if s.marker == nil {
		return nil, nil
	}
	return []page.Marker{*s.marker}, nil
}

func (s *fakeSurface) Click(_ context.Context, id string) error {
	s.clicks = append(s.clicks, id)
	c := s.control(id)
	if c == nil {
		return page.ErrNoMatch
	}
	switch c.Kind {
	case page.KindRadio:
		c.Checked = true
	case page.KindButton:
		if strings.Contains(strings.ToLower(c.AriaLabel), "submit") {
			s.submits++
			if s.onSubmit != nil {
				s.onSubmit(s, s.submits)
			}
		}
	}
	return nil
}

func (s *fakeSurface) ReadValue(_ context.Context, id string) (string, error) {
	c := s.control(id)
	if c == nil {
		return "", page.ErrNoMatch
	}
	return c.Value, nil
}

func (s *fakeSurface) SetValue(_ context.Context, id, value string) error {
	c := s.control(id)
	if c == nil {
		return page.ErrNoMatch
	}
	c.Value = value
	return nil
}

func (s *fakeSurface) SelectByLabel(_ context.Context, id, label string) error {
	c := s.control(id)
	if c == nil {
		return page.ErrNoMatch
	}
	c.Value = label
	return nil
}

func (s *fakeSurface) SelectByValue(_ context.Context, id, value string) error {
	c := s.control(id)
	if c == nil {
		return page.ErrNoMatch
	}
	c.Value = value
	return nil
}

func (s *fakeSurface) SetChecked(_ context.Context, id string, checked bool) error {
	c := s.control(id)
	if c == nil {
		return page.ErrNoMatch
	}
	c.Checked = checked
	return nil
}

func (s *fakeSurface) UploadFile(_ context.Context, id, path string) error {
	if s.control(id) == nil {
		return page.ErrNoMatch
	}
	s.uploads = append(s.uploads, path)
	return nil
}

func (s *fakeSurface) UploadViaChooser(_ context.Context, id, path string) error {
	return s.UploadFile(context.Background(), id, path)
}

func (s *fakeSurface) WaitAttached(_ context.Context, q page.Query, _ time.Duration) (string, error) {
	for _, c := range s.controls {
		for _, k := range q.Kinds {
			if c.Kind == k {
				return c.ID, nil
			}
		}
	}
	if q.TextPattern != "" {
		needle := strings.ToLower(q.TextPattern)
		for _, c := range s.controls {
			if strings.Contains(strings.ToLower(c.AriaLabel), needle) {
				return c.ID, nil
			}
		}
	}
	return "", page.ErrWaitTimeout
}

func (s *fakeSurface) WaitNewPage(context.Context, time.Duration) (page.Surface, bool, error) {
	return nil, false, nil
}

func (s *fakeSurface) Screenshot(context.Context) ([]byte, error) {
	s.screenshots++
	return []byte("png"), nil
}

func (s *fakeSurface) Close(context.Context) error {
	s.closed = true
	return nil
}

type fakeBrowser struct {
	surface  *fakeSurface
	newPages int
}

func (b *fakeBrowser) NewPage(context.Context) (page.Surface, error) {
	b.newPages++
	return b.surface, nil
}

func writeResume(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resume.pdf")
	if err := os.WriteFile(path, []byte("not a real pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func applyProfile(resumePath string) *profile.Profile {
	return &profile.Profile{
		FirstName:         "Ada",
		LastName:          "Lovelace",
		Email:             "ada@example.com",
		Phone:             "+44 20 7946 0000",
		Location:          "London, UK",
		WorkAuthorization: "UK citizen",
		ResumePath:        resumePath,
	}
}

// ashbyForm is a minimal application form: a file input, identity fields, a
// required question, and a submit button.
func ashbyForm() *fakeSurface {
	return &fakeSurface{
		controls: []*page.Control{
			{ID: "first", Kind: page.KindText, AriaLabel: "First Name", Visible: true, Enabled: true},
			{ID: "last", Kind: page.KindText, AriaLabel: "Last Name", Visible: true, Enabled: true},
			{ID: "email", Kind: page.KindText, AriaLabel: "Email", Visible: true, Enabled: true},
			{ID: "file", Kind: page.KindFile, AriaLabel: "Resume", Visible: true, Enabled: true},
			{ID: "why", Kind: page.KindTextarea, AriaLabel: "Why this role?", Required: true, Visible: true, Enabled: true},
			{ID: "submit", Kind: page.KindButton, AriaLabel: "Submit application", Visible: true, Enabled: true},
		},
		pageText: "Apply for Engineer at Acme",
	}
}

func newTestRunner(browser page.Browser, t *testing.T) *Runner {
	t.Helper()
	r := NewRunner(browser, nil, NewArtifactStore(filepath.Join(t.TempDir(), "artifacts")), ModeAuto, nil)
	r.sleep = func(context.Context, time.Duration) {}
	return r
}

func testRequest(p *profile.Profile) Request {
	return Request{
		JobID:    "j1",
		Title:    "Engineer",
		Company:  "Acme",
		ApplyURL: "https://jobs.example.com/j1",
		Profile:  p,
		Mode:     ModeAuto,
	}
}

func TestRunMissingResumeFailsBeforeNavigation(t *testing.T) {
	surface := ashbyForm()
	browser := &fakeBrowser{surface: surface}
	r := newTestRunner(browser, t)

	p := applyProfile(filepath.Join(t.TempDir(), "missing.pdf"))
	res := r.Run(context.Background(), testRequest(p))

	if res.OK {
		t.Fatal("attempt with missing resume succeeded")
	}
	if !strings.Contains(res.Error, "resume file not found") {
		t.Errorf("error = %q", res.Error)
	}
	if browser.newPages != 0 {
		t.Error("a page was opened before the resume check")
	}
	if len(surface.navigations) != 0 {
		t.Error("navigation happened despite missing resume")
	}
}

func TestRunEmptyResumePathFailsBeforeNavigation(t *testing.T) {
	surface := ashbyForm()
	browser := &fakeBrowser{surface: surface}
	r := newTestRunner(browser, t)

	p := applyProfile("")
	res := r.Run(context.Background(), testRequest(p))

	if res.OK {
		t.Fatal("attempt with no resume path succeeded")
	}
	if !strings.Contains(res.Error, "resume file not found") {
		t.Errorf("error = %q", res.Error)
	}
	if browser.newPages != 0 {
		t.Error("a page was opened despite the empty resume path")
	}
	if len(surface.uploads) != 0 {
		t.Errorf("uploads = %v, want none", surface.uploads)
	}
}

func TestRunResumePathIsDirectory(t *testing.T) {
	surface := ashbyForm()
	browser := &fakeBrowser{surface: surface}
	r := newTestRunner(browser, t)

	p := applyProfile(t.TempDir())
	res := r.Run(context.Background(), testRequest(p))

	if res.OK {
		t.Fatal("attempt with a directory resume path succeeded")
	}
	if !strings.Contains(res.Error, "resume file not found") {
		t.Errorf("error = %q", res.Error)
	}
	if browser.newPages != 0 {
		t.Error("a page was opened despite the directory resume path")
	}
}

func TestRunHappyPathFirstSubmit(t *testing.T) {
	surface := ashbyForm()
	surface.onSubmit = func(s *fakeSurface, n int) {
		s.marker = nil
		s.pageText = "Thank you for applying to Acme."
	}
	browser := &fakeBrowser{surface: surface}
	r := newTestRunner(browser, t)

	res := r.Run(context.Background(), testRequest(applyProfile(writeResume(t))))

	if !res.OK {
		t.Fatalf("Run() failed: %s", res.Error)
	}
	if surface.submits != 1 {
		t.Errorf("submits = %d, want 1", surface.submits)
	}
	if !strings.Contains(res.SuccessText, "Thank you for applying") {
		t.Errorf("success text = %q", res.SuccessText)
	}
	if len(surface.uploads) != 1 {
		t.Errorf("uploads = %v, want the resume once", surface.uploads)
	}
	if surface.control("first").Value != "Ada" || surface.control("email").Value != "ada@example.com" {
		t.Error("identity fields not filled")
	}
	if surface.control("why").Value == "" {
		t.Error("open-ended field not filled")
	}
	if res.ScreenshotPath == "" {
		t.Error("no screenshot on success")
	} else if !strings.Contains(filepath.Base(res.ScreenshotPath), "applied") {
		t.Errorf("screenshot name %q should carry the outcome", res.ScreenshotPath)
	}
	if !surface.closed {
		t.Error("page not closed after success")
	}
}

func TestRunCorrectiveRetryScenario(t *testing.T) {
	// The required question only appears after the first submission fails,
	// so the first pass cannot have filled it.
	surface := ashbyForm()
	surface.control("why").Visible = false
	surface.onSubmit = func(s *fakeSurface, n int) {
		why := s.control("why")
		why.Visible = true
		if strings.TrimSpace(why.Value) == "" {
			s.marker = &page.Marker{Source: page.MarkerRoleAlert, Text: "Please complete all required fields"}
			return
		}
		s.marker = nil
		s.pageText = "Application submitted."
	}
	browser := &fakeBrowser{surface: surface}
	r := newTestRunner(browser, t)

	res := r.Run(context.Background(), testRequest(applyProfile(writeResume(t))))

	if !res.OK {
		t.Fatalf("Run() = %q, want success after corrective pass", res.Error)
	}
	if surface.submits != 2 {
		t.Errorf("submits = %d, want failed first and clean second", surface.submits)
	}
	if surface.control("why").Value == "" {
		t.Error("corrective pass did not fill the required field")
	}
}

func TestRunRetryBoundExhausted(t *testing.T) {
	surface := ashbyForm()
	surface.onSubmit = func(s *fakeSurface, n int) {
		s.marker = &page.Marker{Source: page.MarkerErrorClass, Text: "Phone number is required"}
	}
	browser := &fakeBrowser{surface: surface}
	r := newTestRunner(browser, t)

	res := r.Run(context.Background(), testRequest(applyProfile(writeResume(t))))

	if res.OK {
		t.Fatal("Run() succeeded against permanent validation failure")
	}
	if surface.submits != maxOuterAttempts {
		t.Errorf("submits = %d, want exactly %d", surface.submits, maxOuterAttempts)
	}
	if !strings.Contains(res.Error, "after 5 attempts") {
		t.Errorf("error = %q", res.Error)
	}
	if !strings.Contains(res.Error, "phone number") {
		t.Errorf("error %q should suggest the phone field", res.Error)
	}
	if res.ScreenshotPath == "" {
		t.Error("no screenshot on failure")
	} else if !strings.Contains(filepath.Base(res.ScreenshotPath), "failed") {
		t.Errorf("screenshot name %q should carry the outcome", res.ScreenshotPath)
	}
	if !surface.closed {
		t.Error("page not closed after failure")
	}
}

func TestRunConfirmModeSkipsFreeText(t *testing.T) {
	surface := ashbyForm()
	surface.onSubmit = func(s *fakeSurface, n int) {
		s.marker = nil
	}
	browser := &fakeBrowser{surface: surface}
	r := newTestRunner(browser, t)

	req := testRequest(applyProfile(writeResume(t)))
	req.Mode = ModeConfirm
	res := r.Run(context.Background(), req)

	if !res.OK {
		t.Fatalf("Run() failed: %s", res.Error)
	}
	if surface.control("why").Value != "" {
		t.Error("confirm mode synthesized free text")
	}
	if surface.control("first").Value != "Ada" {
		t.Error("confirm mode should still fill identity fields")
	}
}

func TestApplyUsesConfiguredMode(t *testing.T) {
	surface := ashbyForm()
	surface.onSubmit = func(s *fakeSurface, n int) { s.marker = nil }
	browser := &fakeBrowser{surface: surface}
	r := NewRunner(browser, nil, NewArtifactStore(filepath.Join(t.TempDir(), "artifacts")), ModeConfirm, nil)
	r.sleep = func(context.Context, time.Duration) {}

	outcome := r.Apply(context.Background(), queue.Record{
		JobID: "j1",
		Job: queue.Job{
			Title:    "Engineer",
			Company:  "Acme",
			ApplyURL: "https://jobs.example.com/j1",
		},
		Profile: applyProfile(writeResume(t)),
	})

	if !outcome.OK {
		t.Fatalf("Apply() failed: %s", outcome.Error)
	}
	if surface.control("why").Value != "" {
		t.Error("confirm-mode runner synthesized free text via Apply")
	}
	if surface.control("first").Value != "Ada" {
		t.Error("confirm-mode runner should still fill identity fields")
	}
}

func TestRunFormWithoutUploadControl(t *testing.T) {
	surface := ashbyForm()
	surface.controls = slices.DeleteFunc(surface.controls, func(c *page.Control) bool {
		return c.Kind == page.KindFile
	})
	surface.onSubmit = func(s *fakeSurface, n int) { s.marker = nil }
	browser := &fakeBrowser{surface: surface}
	r := newTestRunner(browser, t)

	res := r.Run(context.Background(), testRequest(applyProfile(writeResume(t))))

	if !res.OK {
		t.Fatalf("Run() on a form without an upload control failed: %s", res.Error)
	}
	if len(surface.uploads) != 0 {
		t.Errorf("uploads = %v, want none", surface.uploads)
	}
	if surface.control("first").Value != "Ada" {
		t.Error("identity fields not filled")
	}
}

func TestRunAmbiguousIdentitySkipped(t *testing.T) {
	surface := ashbyForm()
	surface.controls = append(surface.controls,
		&page.Control{ID: "phone1", Kind: page.KindText, AriaLabel: "Phone", Visible: true, Enabled: true},
		&page.Control{ID: "phone2", Kind: page.KindText, AriaLabel: "Mobile phone", Visible: true, Enabled: true},
	)
	surface.onSubmit = func(s *fakeSurface, n int) { s.marker = nil }
	browser := &fakeBrowser{surface: surface}
	r := newTestRunner(browser, t)

	res := r.Run(context.Background(), testRequest(applyProfile(writeResume(t))))
	if !res.OK {
		t.Fatalf("Run() failed: %s", res.Error)
	}
	if surface.control("phone1").Value != "" || surface.control("phone2").Value != "" {
		t.Error("ambiguous identity match was guessed instead of skipped")
	}
}

func TestRunAutofillValueNotClobbered(t *testing.T) {
	surface := ashbyForm()
	surface.control("first").Value = "Augusta"
	surface.onSubmit = func(s *fakeSurface, n int) { s.marker = nil }
	browser := &fakeBrowser{surface: surface}
	r := newTestRunner(browser, t)

	res := r.Run(context.Background(), testRequest(applyProfile(writeResume(t))))
	if !res.OK {
		t.Fatalf("Run() failed: %s", res.Error)
	}
	if surface.control("first").Value != "Augusta" {
		t.Errorf("pre-populated value overwritten: %q", surface.control("first").Value)
	}
}

func TestRunPolicyQuestionTargeted(t *testing.T) {
	surface := ashbyForm()
	surface.controls = append(surface.controls,
		&page.Control{ID: "auth-yes", Kind: page.KindRadio, Name: "auth", AriaLabel: "Yes", SectionText: "Are you authorized to work in the UK?", Visible: true, Enabled: true},
		&page.Control{ID: "auth-no", Kind: page.KindRadio, Name: "auth", AriaLabel: "No", SectionText: "Are you authorized to work in the UK?", Visible: true, Enabled: true},
	)
	surface.onSubmit = func(s *fakeSurface, n int) { s.marker = nil }
	browser := &fakeBrowser{surface: surface}
	r := newTestRunner(browser, t)

	res := r.Run(context.Background(), testRequest(applyProfile(writeResume(t))))
	if !res.OK {
		t.Fatalf("Run() failed: %s", res.Error)
	}
	if !surface.control("auth-yes").Checked {
		t.Error("work-authorization radio not answered yes")
	}
	if surface.control("auth-no").Checked {
		t.Error("wrong radio answered")
	}
}
