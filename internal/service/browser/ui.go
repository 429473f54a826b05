package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrControlNotFound is returned when no visible control carries the label.
var ErrControlNotFound = errors.New("browser: control not found")

// Caption is one caption entry as shown in the call UI.
type Caption struct {
	ID      string
	Speaker string
	Text    string
}

// Driver is the UI surface the pipeline needs.
type Driver interface {
	// ClickLabel activates the first visible control whose text contains label.
	ClickLabel(ctx context.Context, label string) error
	// Captions returns up to the last k caption entries, oldest first.
	Captions(ctx context.Context, k int) ([]Caption, error)
}

// Selectors locate captions in the page. Speaker and Text are searched below
// each caption element; an empty or unmatched Text falls back to the whole
// element text.
type Selectors struct {
	Caption     string
	Speaker     string
	Text        string
	IDAttribute string
}

// DefaultSelectors match a generic caption list.
func DefaultSelectors() Selectors {
	return Selectors{
		Caption:     "//div[contains(@class,'caption')]",
		Speaker:     ".//*[contains(@class,'speaker')]",
		Text:        ".//*[contains(@class,'text')]",
		IDAttribute: "data-id",
	}
}

// UI implements Driver over a WebDriver session.
type UI struct {
	wd  *WebDriver
	sel Selectors

	mu  sync.Mutex
	ids map[string]string // element ref -> generated caption id
}

// NewUI wraps a WebDriver session.
func NewUI(wd *WebDriver, sel Selectors) *UI {
	return &UI{wd: wd, sel: sel, ids: make(map[string]string)}
}

// ClickLabel implements Driver.
func (u *UI) ClickLabel(ctx context.Context, label string) error {
	xpath := fmt.Sprintf("//*[contains(text(), %s)]", xpathLiteral(label))
	refs, err := u.wd.FindElements(ctx, xpath)
	if err != nil {
		return fmt.Errorf("find %q: %w", label, err)
	}
	for _, ref := range refs {
		shown, err := u.wd.Displayed(ctx, ref)
		if err != nil || !shown {
			continue
		}
		if err := u.wd.Click(ctx, ref); err != nil {
			return fmt.Errorf("click %q: %w", label, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrControlNotFound, label)
}

// Captions implements Driver. Entries without an id attribute get a generated
// id that stays stable while the element stays in the DOM.
func (u *UI) Captions(ctx context.Context, k int) ([]Caption, error) {
	refs, err := u.wd.FindElements(ctx, u.sel.Caption)
	if err != nil {
		return nil, fmt.Errorf("find captions: %w", err)
	}
	if k > 0 && len(refs) > k {
		refs = refs[len(refs)-k:]
	}

	captions := make([]Caption, 0, len(refs))
	for _, ref := range refs {
		c, err := u.caption(ctx, ref)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		captions = append(captions, c)
	}
	return captions, nil
}

func (u *UI) caption(ctx context.Context, ref string) (Caption, error) {
	var c Caption

	if u.sel.IDAttribute != "" {
		id, err := u.wd.Attribute(ctx, ref, u.sel.IDAttribute)
		if err != nil {
			return c, fmt.Errorf("caption id: %w", err)
		}
		c.ID = id
	}
	if c.ID == "" {
		c.ID = u.generatedID(ref)
	}

	if u.sel.Speaker != "" {
		speaker, err := u.childText(ctx, ref, u.sel.Speaker)
		if err != nil {
			return c, fmt.Errorf("caption speaker: %w", err)
		}
		c.Speaker = speaker
	}

	text := ""
	if u.sel.Text != "" {
		t, err := u.childText(ctx, ref, u.sel.Text)
		if err != nil {
			return c, fmt.Errorf("caption text: %w", err)
		}
		text = t
	}
	if text == "" {
		t, err := u.wd.Text(ctx, ref)
		if err != nil {
			return c, fmt.Errorf("caption text: %w", err)
		}
		text = t
	}
	c.Text = strings.TrimSpace(text)
	return c, nil
}

func (u *UI) childText(ctx context.Context, ref, xpath string) (string, error) {
	children, err := u.wd.FindElementsFrom(ctx, ref, xpath)
	if err != nil || len(children) == 0 {
		return "", err
	}
	text, err := u.wd.Text(ctx, children[0])
	return strings.TrimSpace(text), err
}

func (u *UI) generatedID(ref string) string {
	u.mu.Lock()
	defer u.mu.Unlock()
	id, ok := u.ids[ref]
	if !ok {
		id = uuid.NewString()
		u.ids[ref] = id
	}
	return id
}

// xpathLiteral quotes s as an XPath 1.0 string literal.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}
