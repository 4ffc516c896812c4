package page

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Driver talks to a local browser-automation sidecar over HTTP. The sidecar
// owns the actual browser (Playwright or similar) and exposes page primitives
// as JSON endpoints; applyd only ever sees Control and Marker snapshots.
type Driver struct {
	baseURL    string
	httpClient *http.Client
}

// NewDriver creates a Driver targeting the given sidecar base URL.
func NewDriver(baseURL string) *Driver {
	return &Driver{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 0, // per-call contexts bound every request
		},
	}
}

// IsRunning returns true if the sidecar responds to GET /health with 200.
func (d *Driver) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// NewPage opens an isolated browser context with a single page and returns
// its surface.
func (d *Driver) NewPage(ctx context.Context) (Surface, error) {
	var out struct {
		PageID string `json:"page_id"`
	}
	if err := d.call(ctx, http.MethodPost, "/pages", nil, &out); err != nil {
		return nil, fmt.Errorf("opening page: %w", err)
	}
	return &driverPage{driver: d, id: out.PageID}, nil
}

// driverErr mirrors the sidecar's JSON error envelope.
type driverErr struct {
	Code    string `json:"code"` // "no_match", "ambiguous", "timeout", or empty
	Message string `json:"message"`
}

func (d *Driver) call(ctx context.Context, method, path string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("driver request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var de driverErr
		if json.NewDecoder(resp.Body).Decode(&de) == nil {
			switch de.Code {
			case "no_match":
				return ErrNoMatch
			case "ambiguous":
				return ErrAmbiguous
			case "timeout":
				return ErrWaitTimeout
			}
			if de.Message != "" {
				return errors.New(de.Message)
			}
		}
		return fmt.Errorf("driver: unexpected status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding driver response: %w", err)
		}
	}
	return nil
}

// driverPage is one sidecar-managed page.
type driverPage struct {
	driver *Driver
	id     string
}

func (p *driverPage) path(suffix string) string {
	return "/pages/" + p.id + suffix
}

func (p *driverPage) Navigate(ctx context.Context, url string) error {
	in := map[string]string{"url": url}
	return p.driver.call(ctx, http.MethodPost, p.path("/navigate"), in, nil)
}

func (p *driverPage) Controls(ctx context.Context) ([]Control, error) {
	var out struct {
		Controls []Control `json:"controls"`
	}
	if err := p.driver.call(ctx, http.MethodGet, p.path("/controls"), nil, &out); err != nil {
		return nil, err
	}
	return out.Controls, nil
}

func (p *driverPage) PageText(ctx context.Context) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	if err := p.driver.call(ctx, http.MethodGet, p.path("/text"), nil, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

func (p *driverPage) Markers(ctx context.Context) ([]Marker, error) {
	var out struct {
		Markers []Marker `json:"markers"`
	}
	if err := p.driver.call(ctx, http.MethodGet, p.path("/markers"), nil, &out); err != nil {
		return nil, err
	}
	return out.Markers, nil
}

func (p *driverPage) Click(ctx context.Context, controlID string) error {
	in := map[string]string{"control_id": controlID}
	return p.driver.call(ctx, http.MethodPost, p.path("/click"), in, nil)
}

func (p *driverPage) ReadValue(ctx context.Context, controlID string) (string, error) {
	var out struct {
		Value string `json:"value"`
	}
	in := map[string]string{"control_id": controlID}
	if err := p.driver.call(ctx, http.MethodPost, p.path("/read"), in, &out); err != nil {
		return "", err
	}
	return out.Value, nil
}

func (p *driverPage) SetValue(ctx context.Context, controlID, value string) error {
	in := map[string]string{"control_id": controlID, "value": value}
	return p.driver.call(ctx, http.MethodPost, p.path("/set"), in, nil)
}

func (p *driverPage) SelectByLabel(ctx context.Context, controlID, optionLabel string) error {
	in := map[string]string{"control_id": controlID, "label": optionLabel}
	return p.driver.call(ctx, http.MethodPost, p.path("/select"), in, nil)
}

func (p *driverPage) SelectByValue(ctx context.Context, controlID, optionValue string) error {
	in := map[string]string{"control_id": controlID, "value": optionValue}
	return p.driver.call(ctx, http.MethodPost, p.path("/select"), in, nil)
}

func (p *driverPage) SetChecked(ctx context.Context, controlID string, checked bool) error {
	in := map[string]any{"control_id": controlID, "checked": checked}
	return p.driver.call(ctx, http.MethodPost, p.path("/check"), in, nil)
}

func (p *driverPage) UploadFile(ctx context.Context, controlID, path string) error {
	in := map[string]string{"control_id": controlID, "path": path}
	return p.driver.call(ctx, http.MethodPost, p.path("/upload"), in, nil)
}

func (p *driverPage) UploadViaChooser(ctx context.Context, buttonID, path string) error {
	in := map[string]string{"control_id": buttonID, "path": path}
	return p.driver.call(ctx, http.MethodPost, p.path("/upload-chooser"), in, nil)
}

func (p *driverPage) WaitAttached(ctx context.Context, q Query, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout+2*time.Second)
	defer cancel()

	in := struct {
		Query     Query `json:"query"`
		TimeoutMs int64 `json:"timeout_ms"`
	}{Query: q, TimeoutMs: timeout.Milliseconds()}
	var out struct {
		ControlID string `json:"control_id"`
	}
	if err := p.driver.call(ctx, http.MethodPost, p.path("/wait-attached"), in, &out); err != nil {
		return "", err
	}
	return out.ControlID, nil
}

func (p *driverPage) WaitNewPage(ctx context.Context, timeout time.Duration) (Surface, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout+2*time.Second)
	defer cancel()

	in := struct {
		TimeoutMs int64 `json:"timeout_ms"`
	}{TimeoutMs: timeout.Milliseconds()}
	var out struct {
		PageID string `json:"page_id"`
	}
	err := p.driver.call(ctx, http.MethodPost, p.path("/wait-new-page"), in, &out)
	if errors.Is(err, ErrWaitTimeout) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if out.PageID == "" {
		return nil, false, nil
	}
	return &driverPage{driver: p.driver, id: out.PageID}, true, nil
}

func (p *driverPage) Screenshot(ctx context.Context) ([]byte, error) {
	var out struct {
		PNG []byte `json:"png"` // base64 in transit
	}
	if err := p.driver.call(ctx, http.MethodGet, p.path("/screenshot"), nil, &out); err != nil {
		return nil, err
	}
	return out.PNG, nil
}

func (p *driverPage) Close(ctx context.Context) error {
	return p.driver.call(ctx, http.MethodDelete, p.path(""), nil, nil)
}
