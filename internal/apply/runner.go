// Package apply drives one application attempt end to end: reach the form,
// fill it, submit, and work the bounded validation-retry loop. Everything
// recoverable degrades to log-and-skip; only a missing resume file and an
// exhausted retry bound fail the attempt.
package apply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/swipeapply/applyd/internal/form"
	"github.com/swipeapply/applyd/internal/page"
	"github.com/swipeapply/applyd/internal/profile"
	"github.com/swipeapply/applyd/internal/queue"
	"github.com/swipeapply/applyd/internal/resume"
)

// ErrResumeNotFound aborts an attempt before any page is opened; retrying
// without the file is pointless.
var ErrResumeNotFound = errors.New("resume file not found")

// Mode selects how much of the form the engine fills.
type Mode string

const (
	// ModeAuto fills everything, including synthesized free text.
	ModeAuto Mode = "auto"
	// ModeConfirm handles identity, files, and choices but leaves free-text
	// fields for human review.
	ModeConfirm Mode = "confirm"
)

const (
	maxOuterAttempts    = 5
	maxCorrectivePasses = 3

	openFormTimeout     = 30 * time.Second
	newPageTimeout      = 5 * time.Second
	settleDelay         = 2 * time.Second
	autofillSettleDelay = 8 * time.Second
)

// Request is the engine entry point input.
type Request struct {
	JobID    string
	Title    string
	Company  string
	ApplyURL string
	Profile  *profile.Profile
	Mode     Mode
}

// Result is the attempt outcome.
type Result struct {
	OK             bool
	SuccessText    string
	Error          string
	ScreenshotPath string
	Unfilled       []string
}

// Runner executes attempts against a browser.
type Runner struct {
	browser   page.Browser
	oracle    form.Synthesizer
	artifacts *ArtifactStore
	mode      Mode
	logger    *slog.Logger

	// sleep is replaced in tests so settle waits cost nothing.
	sleep func(ctx context.Context, d time.Duration)
}

// NewRunner creates a Runner. oracle may be nil; free-text fields then come
// from the canned table only. mode is used for drainer-initiated attempts;
// an empty mode means ModeAuto.
func NewRunner(browser page.Browser, oracle form.Synthesizer, artifacts *ArtifactStore, mode Mode, logger *slog.Logger) *Runner {
	if mode == "" {
		mode = ModeAuto
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		browser:   browser,
		oracle:    oracle,
		artifacts: artifacts,
		mode:      mode,
		logger:    logger,
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		},
	}
}

// Apply implements queue.Runner.
func (r *Runner) Apply(ctx context.Context, rec queue.Record) queue.Outcome {
	res := r.Run(ctx, Request{
		JobID:    rec.JobID,
		Title:    rec.Job.Title,
		Company:  rec.Job.Company,
		ApplyURL: rec.Job.ApplyURL,
		Profile:  rec.Profile,
		Mode:     r.mode,
	})
	return queue.Outcome{
		OK:             res.OK,
		SuccessText:    res.SuccessText,
		Error:          res.Error,
		ScreenshotPath: res.ScreenshotPath,
		Unfilled:       res.Unfilled,
	}
}

// Run performs one attempt. It never panics through the attempt boundary and
// always tears the browser page down.
func (r *Runner) Run(ctx context.Context, req Request) Result {
	logger := r.logger.With("job_id", req.JobID)
	p := req.Profile
	if p == nil {
		p = &profile.Profile{}
	}

	// The resume check runs before any page opens. An empty path would stat
	// the working directory, so it is rejected outright, and the target must
	// be a regular file.
	if strings.TrimSpace(p.ResumePath) == "" {
		return Result{OK: false, Error: fmt.Errorf("%w: no resume path configured", ErrResumeNotFound).Error()}
	}
	resumePath, err := filepath.Abs(p.ResumePath)
	var info os.FileInfo
	if err == nil {
		info, err = os.Stat(resumePath)
	}
	if err != nil {
		return Result{OK: false, Error: fmt.Errorf("%w: %s", ErrResumeNotFound, p.ResumePath).Error()}
	}
	if info.IsDir() {
		return Result{OK: false, Error: fmt.Errorf("%w: %s is a directory", ErrResumeNotFound, resumePath).Error()}
	}

	surface, err := r.browser.NewPage(ctx)
	if err != nil {
		return Result{OK: false, Error: fmt.Errorf("opening page: %w", err).Error()}
	}
	surfaces := []page.Surface{surface}
	defer func() {
		for _, s := range surfaces {
			if err := s.Close(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("closing page", "error", err)
			}
		}
	}()

	applicantContext := r.applicantContext(p, resumePath, logger)
	resolver := form.NewResolver(surface, p, r.oracle, req.Title, req.Company, applicantContext, logger)

	fail := func(err error) Result {
		res := Result{OK: false, Error: err.Error(), Unfilled: resolver.Unfilled}
		res.ScreenshotPath = r.screenshot(ctx, surface, "failed", logger)
		return res
	}

	if err := surface.Navigate(ctx, req.ApplyURL); err != nil {
		return fail(fmt.Errorf("navigating to %s: %w", req.ApplyURL, err))
	}

	surface, err = r.activateApply(ctx, surface, logger)
	if err != nil {
		return fail(err)
	}
	if surface != surfaces[len(surfaces)-1] {
		surfaces = append(surfaces, surface)
		resolver = form.NewResolver(surface, p, r.oracle, req.Title, req.Company, applicantContext, logger)
	}

	// Any form affordance counts: a file input, an upload label, or the
	// form's own text controls. Not every posting has an upload step.
	if _, err := surface.WaitAttached(ctx, page.Query{
		Kinds:       []page.Kind{page.KindFile, page.KindText, page.KindTextarea},
		TextPattern: "upload",
	}, openFormTimeout); err != nil {
		return fail(fmt.Errorf("application form did not load: %w", err))
	}

	r.fillIdentity(ctx, surface, p, logger)
	r.fillUpload(ctx, surface, resumePath, logger)
	r.fillPolicyQuestions(ctx, surface, p, logger)
	r.fillGeneric(ctx, surface, resolver, p, req.Mode)
	r.preSubmitCheck(ctx, surface, logger)

	var lastErr *ValidationError
	for attempt := 1; attempt <= maxOuterAttempts; attempt++ {
		if err := r.submit(ctx, surface); err != nil {
			return fail(fmt.Errorf("submitting form: %w", err))
		}
		r.sleep(ctx, settleDelay)

		verr, err := detectErrors(ctx, surface)
		if err != nil {
			return fail(fmt.Errorf("checking submission result: %w", err))
		}
		if verr == nil {
			res := Result{
				OK:          true,
				SuccessText: detectSuccessText(ctx, surface),
				Unfilled:    resolver.Unfilled,
			}
			res.ScreenshotPath = r.screenshot(ctx, surface, "applied", logger)
			logger.Info("application submitted", "attempt", attempt, "success_text", res.SuccessText)
			return res
		}

		lastErr = verr
		logger.Warn("validation failed", "attempt", attempt, "source", verr.Source, "text", verr.Text)
		if attempt == maxOuterAttempts {
			break
		}

		for pass := 1; pass <= maxCorrectivePasses; pass++ {
			changed := r.correctivePass(ctx, surface, resolver, p, req.Mode, logger)
			logger.Debug("corrective pass", "attempt", attempt, "pass", pass, "changed", changed)
			if changed == 0 {
				break
			}
		}
	}

	msg := fmt.Sprintf("form validation failed after %d attempts: %s", maxOuterAttempts, lastErr.Text)
	if suggestions := suggestMissingFields(lastErr.Text); len(suggestions) > 0 {
		msg += " (possibly missing: " + strings.Join(suggestions, ", ") + ")"
	}
	return fail(errors.New(msg))
}

// applicantContext builds the oracle context from the profile, enriched with
// resume text when extraction works.
func (r *Runner) applicantContext(p *profile.Profile, resumePath string, logger *slog.Logger) string {
	text, err := resume.ExtractText(resumePath)
	if err != nil {
		logger.Warn("resume text extraction failed, using profile only", "error", err)
		text = ""
	}
	return p.ContextSummary(text)
}

var applyControl = regexp.MustCompile(`(?i)^\s*apply( now| for this (job|position))?\s*$`)

// activateApply clicks the posting's apply control and follows a newly opened
// page if one appears. Some postings land directly on the form; finding no
// apply control is not an error.
func (r *Runner) activateApply(ctx context.Context, surface page.Surface, logger *slog.Logger) (page.Surface, error) {
	controls, err := surface.Controls(ctx)
	if err != nil {
		return surface, fmt.Errorf("scanning for apply control: %w", err)
	}

	var target string
	for _, c := range controls {
		if c.Kind != page.KindButton && c.Kind != page.KindLink {
			continue
		}
		if applyControl.MatchString(form.ResolveLabel(c)) {
			target = c.ID
			break
		}
	}
	if target == "" {
		logger.Debug("no apply control found, assuming form page")
		return surface, nil
	}

	if err := surface.Click(ctx, target); err != nil {
		return surface, fmt.Errorf("activating apply control: %w", err)
	}

	next, opened, err := surface.WaitNewPage(ctx, newPageTimeout)
	if err != nil {
		return surface, fmt.Errorf("waiting for apply page: %w", err)
	}
	if opened {
		logger.Debug("apply opened a new page")
		return next, nil
	}
	return surface, nil
}

// identityTargets map profile values to the labels of the controls that
// receive them. Each writes only on a unique match; zero or many matches are
// skipped, never guessed.
var identityTargets = []struct {
	pattern *regexp.Regexp
	value   func(p *profile.Profile) string
}{
	{regexp.MustCompile(`(?i)first name`), func(p *profile.Profile) string { return p.FirstName }},
	{regexp.MustCompile(`(?i)last name|surname|family name`), func(p *profile.Profile) string { return p.LastName }},
	{regexp.MustCompile(`(?i)\bfull name\b|^\s*name\s*$`), func(p *profile.Profile) string { return p.FullName() }},
	{regexp.MustCompile(`(?i)e-?mail`), func(p *profile.Profile) string { return p.Email }},
	{regexp.MustCompile(`(?i)phone`), func(p *profile.Profile) string { return p.Phone }},
	{regexp.MustCompile(`(?i)location|city`), func(p *profile.Profile) string { return p.Location }},
	{regexp.MustCompile(`(?i)linkedin`), func(p *profile.Profile) string { return p.LinkedIn }},
	{regexp.MustCompile(`(?i)github`), func(p *profile.Profile) string { return p.GitHub }},
	{regexp.MustCompile(`(?i)website|portfolio`), func(p *profile.Profile) string { return p.Website }},
	{regexp.MustCompile(`(?i)cover letter`), func(p *profile.Profile) string { return p.CoverLetter }},
}

// fillIdentity writes profile values into identity fields, one dedicated
// pass. Returns the number of fields written.
func (r *Runner) fillIdentity(ctx context.Context, surface page.Surface, p *profile.Profile, logger *slog.Logger) int {
	controls, err := surface.Controls(ctx)
	if err != nil {
		logger.Warn("scanning identity fields", "error", err)
		return 0
	}

	written := 0
	for _, target := range identityTargets {
		value := target.value(p)
		if strings.TrimSpace(value) == "" {
			continue
		}

		var matches []page.Control
		for _, c := range controls {
			if c.Kind != page.KindText && c.Kind != page.KindTextarea {
				continue
			}
			if !c.Visible || !c.Enabled {
				continue
			}
			if target.pattern.MatchString(form.ResolveLabel(c)) {
				matches = append(matches, c)
			}
		}
		if len(matches) != 1 {
			if len(matches) > 1 {
				logger.Debug("ambiguous identity field, skipping", "pattern", target.pattern.String(), "matches", len(matches))
			}
			continue
		}

		c := matches[0]
		// Autofill-populated values are never clobbered.
		if strings.TrimSpace(c.Value) != "" {
			continue
		}
		if err := surface.SetValue(ctx, c.ID, value); err != nil {
			logger.Warn("writing identity field", "field", form.ResolveLabel(c), "error", err)
			continue
		}
		written++
	}
	return written
}

var (
	resumeUploadLabel = regexp.MustCompile(`(?i)resume|curriculum vitae|\bcv\b`)
	uploadButtonLabel = regexp.MustCompile(`(?i)upload|attach`)
	autofillLabel     = regexp.MustCompile(`(?i)autofill|fill.*(from|with).*resume`)
)

// fillUpload uploads the resume, trying the most specific route first, and
// then triggers a resume-autofill affordance if the form has one. Upload
// mechanics failing is non-fatal; live validation is authoritative.
func (r *Runner) fillUpload(ctx context.Context, surface page.Surface, resumePath string, logger *slog.Logger) {
	controls, err := surface.Controls(ctx)
	if err != nil {
		logger.Warn("scanning upload controls", "error", err)
		return
	}

	var fileInputs []page.Control
	var labeledInput, chooserButton *page.Control
	for i, c := range controls {
		switch c.Kind {
		case page.KindFile:
			fileInputs = append(fileInputs, c)
			if labeledInput == nil && resumeUploadLabel.MatchString(form.ResolveLabel(c)) {
				labeledInput = &controls[i]
			}
		case page.KindButton:
			label := form.ResolveLabel(c)
			if chooserButton == nil && uploadButtonLabel.MatchString(label) && resumeUploadLabel.MatchString(label) {
				chooserButton = &controls[i]
			}
		}
	}

	uploaded := false
	switch {
	case len(fileInputs) == 1:
		uploaded = r.tryUpload(ctx, surface, fileInputs[0].ID, resumePath, "single file input", logger)
	case labeledInput != nil:
		uploaded = r.tryUpload(ctx, surface, labeledInput.ID, resumePath, "labeled file input", logger)
	}
	if !uploaded && chooserButton != nil {
		if err := surface.UploadViaChooser(ctx, chooserButton.ID, resumePath); err != nil {
			logger.Warn("chooser upload failed", "error", err)
		} else {
			uploaded = true
		}
	}
	if !uploaded && len(fileInputs) > 0 {
		uploaded = r.tryUpload(ctx, surface, fileInputs[0].ID, resumePath, "first file input", logger)
	}
	if !uploaded {
		logger.Warn("resume upload did not succeed by any route")
		return
	}

	// Autofill may populate identity fields asynchronously; settle, then the
	// caller re-scans.
	for _, c := range controls {
		if c.Kind == page.KindButton && autofillLabel.MatchString(form.ResolveLabel(c)) {
			if err := surface.Click(ctx, c.ID); err != nil {
				logger.Warn("triggering resume autofill", "error", err)
				return
			}
			logger.Debug("resume autofill triggered, settling")
			r.sleep(ctx, autofillSettleDelay)
			return
		}
	}
}

func (r *Runner) tryUpload(ctx context.Context, surface page.Surface, controlID, path, route string, logger *slog.Logger) bool {
	if err := surface.UploadFile(ctx, controlID, path); err != nil {
		logger.Warn("upload failed", "route", route, "error", err)
		return false
	}
	logger.Debug("resume uploaded", "route", route)
	return true
}

// policyQuestions are high-stakes yes/no questions answered from the profile.
// Generic classification misattributes these often enough that they get a
// targeted block search before the global one.
var policyQuestions = []struct {
	pattern *regexp.Regexp
	yes     func(p *profile.Profile) bool
}{
	{regexp.MustCompile(`(?i)authoriz.{0,20}work|legally.{0,20}work|work authoriz`), func(p *profile.Profile) bool {
		return p.WorkAuthorization != ""
	}},
	{regexp.MustCompile(`(?i)anchor day|in[- ]office|on[- ]site|office attendance`), func(p *profile.Profile) bool {
		return p.AcceptsAnchorDays
	}},
	{regexp.MustCompile(`(?i)relocat`), func(p *profile.Profile) bool {
		return p.OpenToRelocation
	}},
	{regexp.MustCompile(`(?i)sponsorship|sponsor.{0,20}visa`), func(p *profile.Profile) bool {
		return p.NeedsSponsorship
	}},
}

var (
	yesOptionLabel = regexp.MustCompile(`(?i)^\s*yes\b`)
	noOptionLabel  = regexp.MustCompile(`(?i)^\s*no\b`)
)

// fillPolicyQuestions answers each known policy question once, preferring
// controls whose containing section matches the question over a bare label
// match.
func (r *Runner) fillPolicyQuestions(ctx context.Context, surface page.Surface, p *profile.Profile, logger *slog.Logger) {
	controls, err := surface.Controls(ctx)
	if err != nil {
		logger.Warn("scanning policy questions", "error", err)
		return
	}

	for _, q := range policyQuestions {
		// Targeted: the containing block names the question.
		candidates := matchPolicyControls(controls, q.pattern, true)
		if len(candidates) == 0 {
			// Global: the control's own label names it.
			candidates = matchPolicyControls(controls, q.pattern, false)
		}
		if len(candidates) == 0 {
			continue
		}
		r.answerPolicy(ctx, surface, controls, candidates, q.yes(p), logger)
	}
}

func matchPolicyControls(controls []page.Control, pattern *regexp.Regexp, bySection bool) []page.Control {
	var out []page.Control
	for _, c := range controls {
		if !c.Visible || !c.Enabled {
			continue
		}
		if c.Kind != page.KindRadio && c.Kind != page.KindSelect && c.Kind != page.KindCombobox && c.Kind != page.KindCheckbox {
			continue
		}
		text := form.ResolveLabel(c)
		if bySection {
			text = c.SectionText
		}
		if pattern.MatchString(text) {
			out = append(out, c)
		}
	}
	return out
}

// answerPolicy sets the yes/no answer on the first answerable candidate.
func (r *Runner) answerPolicy(ctx context.Context, surface page.Surface, all, candidates []page.Control, yes bool, logger *slog.Logger) {
	c := candidates[0]
	switch c.Kind {
	case page.KindRadio:
		want := yesOptionLabel
		if !yes {
			want = noOptionLabel
		}
		for _, member := range all {
			if member.Kind != page.KindRadio || member.Name != c.Name {
				continue
			}
			if member.Checked {
				return // group already answered
			}
		}
		for _, member := range all {
			if member.Kind == page.KindRadio && member.Name == c.Name && want.MatchString(form.ResolveLabel(member)) {
				if err := surface.Click(ctx, member.ID); err != nil {
					logger.Warn("answering policy radio", "error", err)
				}
				return
			}
		}
	case page.KindSelect, page.KindCombobox:
		if c.Value != "" {
			return
		}
		want := yesOptionLabel
		if !yes {
			want = noOptionLabel
		}
		for _, o := range c.Options {
			if want.MatchString(o.Label) {
				if err := surface.SelectByLabel(ctx, c.ID, o.Label); err != nil {
					if err := surface.SelectByValue(ctx, c.ID, o.Value); err != nil {
						logger.Warn("answering policy select", "error", err)
					}
				}
				return
			}
		}
	case page.KindCheckbox:
		if c.Checked == yes {
			return
		}
		if err := surface.SetChecked(ctx, c.ID, yes); err != nil {
			logger.Warn("answering policy checkbox", "error", err)
		}
	}
}

// fillGeneric runs the classifier and resolver over the remaining controls.
func (r *Runner) fillGeneric(ctx context.Context, surface page.Surface, resolver *form.Resolver, p *profile.Profile, mode Mode) int {
	controls, err := surface.Controls(ctx)
	if err != nil {
		r.logger.Warn("scanning form fields", "error", err)
		return 0
	}
	fields := form.ClassifyAll(controls, p)
	return resolver.Fill(ctx, fields, mode == ModeConfirm)
}

// preSubmitCheck logs required text fields still empty. Advisory only; the
// live validation step is authoritative.
func (r *Runner) preSubmitCheck(ctx context.Context, surface page.Surface, logger *slog.Logger) {
	controls, err := surface.Controls(ctx)
	if err != nil {
		return
	}
	for _, c := range controls {
		if !c.Required || !c.Visible || !c.Enabled {
			continue
		}
		if c.Kind != page.KindText && c.Kind != page.KindTextarea {
			continue
		}
		if strings.TrimSpace(c.Value) == "" {
			logger.Info("required field still empty before submit", "field", form.ResolveLabel(c))
		}
	}
}

var submitControl = regexp.MustCompile(`(?i)^\s*submit( application)?\s*$|^\s*send application\s*$`)

func (r *Runner) submit(ctx context.Context, surface page.Surface) error {
	controls, err := surface.Controls(ctx)
	if err != nil {
		return fmt.Errorf("scanning for submit control: %w", err)
	}
	for _, c := range controls {
		if c.Kind != page.KindButton {
			continue
		}
		if submitControl.MatchString(form.ResolveLabel(c)) {
			return surface.Click(ctx, c.ID)
		}
	}
	return fmt.Errorf("submit control: %w", page.ErrNoMatch)
}

// correctivePass re-runs targeted fixes against the still-unsatisfied subset:
// classifier+resolver over the re-scanned form, consent checkboxes, and
// identity defaults. Marketing-style opt-ins are never checked here; only
// labels the consent rules accept. Returns how many controls changed.
func (r *Runner) correctivePass(ctx context.Context, surface page.Surface, resolver *form.Resolver, p *profile.Profile, mode Mode, logger *slog.Logger) int {
	controls, err := surface.Controls(ctx)
	if err != nil {
		logger.Warn("re-scanning form", "error", err)
		return 0
	}

	changed := 0
	fields := form.ClassifyAll(controls, p)
	changed += resolver.Fill(ctx, fields, mode == ModeConfirm)

	for _, f := range fields {
		if f.Tag != form.TagBoolean || f.Control.Checked {
			continue
		}
		if form.IsConsentLabel(f.Label) {
			if err := surface.SetChecked(ctx, f.Control.ID, true); err != nil {
				logger.Warn("checking consent box", "field", f.Label, "error", err)
				continue
			}
			changed++
		}
	}

	changed += r.fillIdentity(ctx, surface, p, logger)
	return changed
}

// screenshot captures the audit artifact; failure to capture never fails the
// attempt.
func (r *Runner) screenshot(ctx context.Context, surface page.Surface, outcome string, logger *slog.Logger) string {
	if r.artifacts == nil {
		return ""
	}
	png, err := surface.Screenshot(context.WithoutCancel(ctx))
	if err != nil {
		logger.Warn("capturing screenshot", "error", err)
		return ""
	}
	path, err := r.artifacts.SaveScreenshot(outcome, png)
	if err != nil {
		logger.Warn("saving screenshot", "error", err)
		return ""
	}
	return path
}
