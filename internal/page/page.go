// Package page defines the capability surface applyd uses to drive a browser
// page. The engine never touches a DOM directly: it consumes snapshots of
// interactive controls and issues value/click/upload operations against them.
// A concrete surface (see Driver) talks to an external automation sidecar.
package page

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoMatch is returned when a lookup resolves zero elements.
	ErrNoMatch = errors.New("no matching element")
	// ErrAmbiguous is returned when a lookup that requires a unique element
	// resolves more than one.
	ErrAmbiguous = errors.New("ambiguous match")
	// ErrWaitTimeout is returned when a bounded wait expires.
	ErrWaitTimeout = errors.New("wait timed out")
)

// Kind is the DOM-level control category reported by the surface.
type Kind string

const (
	KindText     Kind = "text"
	KindTextarea Kind = "textarea"
	KindSelect   Kind = "select"
	KindCombobox Kind = "combobox"
	KindRadio    Kind = "radio"
	KindCheckbox Kind = "checkbox"
	KindFile     Kind = "file"
	KindButton   Kind = "button"
	KindLink     Kind = "link"
)

// Option is one selectable entry of a select/combobox control.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Control is a point-in-time snapshot of one interactive control. The surface
// reports raw label material (accessible name references, label associations,
// placeholder, nearby text); resolving a human-readable label from it is the
// engine's job, not the surface's.
type Control struct {
	ID       string   `json:"id"`
	Kind     Kind     `json:"kind"`
	Name     string   `json:"name"` // name attribute; groups radio controls
	Required bool     `json:"required"`
	Value    string   `json:"value"`
	Checked  bool     `json:"checked"`
	Options  []Option `json:"options,omitempty"`
	Visible  bool     `json:"visible"`
	Enabled  bool     `json:"enabled"`

	LabelledByText    string `json:"labelled_by_text,omitempty"`
	AriaLabel         string `json:"aria_label,omitempty"`
	LabelForText      string `json:"label_for_text,omitempty"`
	AncestorLabelText string `json:"ancestor_label_text,omitempty"`
	Placeholder       string `json:"placeholder,omitempty"`
	PrecedingText     string `json:"preceding_text,omitempty"`
	SectionText       string `json:"section_text,omitempty"` // text of the closest containing fieldset/section
}

// MarkerSource identifies how a validation-marker candidate was found.
type MarkerSource string

const (
	MarkerRoleAlert   MarkerSource = "role-alert"
	MarkerErrorClass  MarkerSource = "error-class"
	MarkerAriaInvalid MarkerSource = "aria-invalid"
)

// Marker is a candidate validation-error element collected after submission.
type Marker struct {
	Source MarkerSource `json:"source"`
	Text   string       `json:"text"`
	HTML   string       `json:"html,omitempty"`
}

// Query describes what WaitAttached should wait for. Kinds and TextPattern
// are alternatives: the wait resolves when any control of one of the kinds,
// or any control whose label material matches the pattern, is attached.
type Query struct {
	Kinds       []Kind `json:"kinds,omitempty"`
	TextPattern string `json:"text_pattern,omitempty"` // case-insensitive substring
}

// Surface is the per-page automation capability. All blocking operations take
// a context; waits additionally take an explicit timeout so there is no
// unbounded wait anywhere in the engine.
type Surface interface {
	Navigate(ctx context.Context, url string) error

	// Controls returns the visible, enabled interactive controls currently
	// attached, including buttons and links.
	Controls(ctx context.Context) ([]Control, error)

	// PageText returns the rendered text content of the whole page.
	PageText(ctx context.Context) (string, error)

	// Markers returns validation-marker candidates: role="alert" elements,
	// elements carrying error/invalid CSS classes, and aria-invalid="true"
	// elements, in document order.
	Markers(ctx context.Context) ([]Marker, error)

	Click(ctx context.Context, controlID string) error
	ReadValue(ctx context.Context, controlID string) (string, error)
	SetValue(ctx context.Context, controlID, value string) error
	SelectByLabel(ctx context.Context, controlID, optionLabel string) error
	SelectByValue(ctx context.Context, controlID, optionValue string) error
	SetChecked(ctx context.Context, controlID string, checked bool) error

	UploadFile(ctx context.Context, controlID, path string) error

	// UploadViaChooser clicks the given button and feeds path to the file
	// chooser it opens.
	UploadViaChooser(ctx context.Context, buttonID, path string) error

	// WaitAttached blocks until a control matching q is attached and returns
	// its ID, or ErrWaitTimeout.
	WaitAttached(ctx context.Context, q Query, timeout time.Duration) (string, error)

	// WaitNewPage reports whether a new page/tab opened since the last call,
	// returning its surface when one did.
	WaitNewPage(ctx context.Context, timeout time.Duration) (Surface, bool, error)

	// Screenshot captures a full-page PNG.
	Screenshot(ctx context.Context) ([]byte, error)

	Close(ctx context.Context) error
}

// Browser creates page surfaces. One page is scoped to one application
// attempt and must be closed when the attempt ends.
type Browser interface {
	NewPage(ctx context.Context) (Surface, error)
}
