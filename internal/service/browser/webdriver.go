// Package browser drives the call UI in a running Chrome through the W3C WebDriver protocol.
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// elementKey is the W3C web element identifier key.
const elementKey = "element-6066-11e4-a52e-4f97ee3e1e1b"

// ErrNoSuchElement is matched by WebDriver "no such element" errors.
var ErrNoSuchElement = errors.New("browser: no such element")

// WebDriverError is an error response from the WebDriver server.
type WebDriverError struct {
	Status  int
	Code    string
	Message string
}

func (e *WebDriverError) Error() string {
	return fmt.Sprintf("webdriver %d %s: %s", e.Status, e.Code, e.Message)
}

// Is maps protocol error codes onto package sentinels.
func (e *WebDriverError) Is(target error) bool {
	return target == ErrNoSuchElement && e.Code == "no such element"
}

// Stale reports whether the element reference went stale because the DOM changed.
func (e *WebDriverError) Stale() bool {
	return e.Code == "stale element reference"
}

// WebDriver is a minimal W3C WebDriver client bound to one session.
type WebDriver struct {
	baseURL   string
	sessionID string
	client    *http.Client
}

// Attach opens a session on the WebDriver server at baseURL that attaches to
// the Chrome instance exposing its DevTools endpoint at debuggerAddress.
func Attach(ctx context.Context, baseURL, debuggerAddress string) (*WebDriver, error) {
	wd := &WebDriver{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}

	caps := map[string]any{
		"capabilities": map[string]any{
			"alwaysMatch": map[string]any{
				"browserName": "chrome",
				"goog:chromeOptions": map[string]any{
					"debuggerAddress": debuggerAddress,
				},
			},
		},
	}

	var session struct {
		SessionID string `json:"sessionId"`
	}
	if err := wd.do(ctx, http.MethodPost, "/session", caps, &session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if session.SessionID == "" {
		return nil, errors.New("create session: empty session id")
	}
	wd.sessionID = session.SessionID
	return wd, nil
}

// SessionID returns the WebDriver session id.
func (wd *WebDriver) SessionID() string {
	return wd.sessionID
}

// FindElements returns references to every element matching xpath.
func (wd *WebDriver) FindElements(ctx context.Context, xpath string) ([]string, error) {
	return wd.findElements(ctx, wd.sessionPath("/elements"), xpath)
}

// FindElementsFrom searches below the element ref.
func (wd *WebDriver) FindElementsFrom(ctx context.Context, ref, xpath string) ([]string, error) {
	return wd.findElements(ctx, wd.elementPath(ref, "/elements"), xpath)
}

func (wd *WebDriver) findElements(ctx context.Context, path, xpath string) ([]string, error) {
	var found []map[string]string
	body := map[string]string{"using": "xpath", "value": xpath}
	if err := wd.do(ctx, http.MethodPost, path, body, &found); err != nil {
		return nil, err
	}
	refs := make([]string, 0, len(found))
	for _, el := range found {
		if ref := el[elementKey]; ref != "" {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// Click clicks the element ref.
func (wd *WebDriver) Click(ctx context.Context, ref string) error {
	return wd.do(ctx, http.MethodPost, wd.elementPath(ref, "/click"), struct{}{}, nil)
}

// Text returns the rendered text of the element ref.
func (wd *WebDriver) Text(ctx context.Context, ref string) (string, error) {
	var text string
	err := wd.do(ctx, http.MethodGet, wd.elementPath(ref, "/text"), nil, &text)
	return text, err
}

// Attribute returns the named attribute, or "" when it is absent.
func (wd *WebDriver) Attribute(ctx context.Context, ref, name string) (string, error) {
	var value *string
	if err := wd.do(ctx, http.MethodGet, wd.elementPath(ref, "/attribute/"+url.PathEscape(name)), nil, &value); err != nil {
		return "", err
	}
	if value == nil {
		return "", nil
	}
	return *value, nil
}

// Displayed reports whether the element ref is visible.
func (wd *WebDriver) Displayed(ctx context.Context, ref string) (bool, error) {
	var shown bool
	err := wd.do(ctx, http.MethodGet, wd.elementPath(ref, "/displayed"), nil, &shown)
	return shown, err
}

// Close ends the session. The attached browser keeps running.
func (wd *WebDriver) Close(ctx context.Context) error {
	return wd.do(ctx, http.MethodDelete, "/session/"+wd.sessionID, nil, nil)
}

func (wd *WebDriver) sessionPath(suffix string) string {
	return "/session/" + wd.sessionID + suffix
}

func (wd *WebDriver) elementPath(ref, suffix string) string {
	return wd.sessionPath("/element/" + url.PathEscape(ref) + suffix)
}

// do sends a command and decodes the "value" member of the response into out.
func (wd *WebDriver) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, wd.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := wd.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope struct {
		Value json.RawMessage `json:"value"`
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &envelope); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	if resp.StatusCode >= 300 {
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if len(envelope.Value) > 0 {
			json.Unmarshal(envelope.Value, &e)
		}
		if e.Message == "" {
			e.Message = strings.TrimSpace(string(raw))
		}
		return &WebDriverError{Status: resp.StatusCode, Code: e.Error, Message: e.Message}
	}

	if out == nil || len(envelope.Value) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Value, out)
}
