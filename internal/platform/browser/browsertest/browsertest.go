// Package browsertest provides in-memory browser.Page and browser.Pages fakes
// for driver tests. Pages answer from canned selector tables and record every
// action.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/claimbot/claimbot/internal/platform/browser"
)

// ErrNotFound is returned when no alternative has canned content.
var ErrNotFound = errors.New("fake page: element not found")

// Page is a scripted browser.Page.
type Page struct {
	name string

	mu sync.Mutex
	// Texts, Values and Tables are read by Text, Value, Table and Labels.
	Texts  map[string]string
	Values map[string]string
	Tables map[string][][]string
	Counts map[string]int
	// Shown lists the selectors Visible reports as present.
	Shown map[string]bool
	// Absent lists selectors Click, Fill and Upload fail on.
	Absent map[string]bool
	// Options holds the option labels of select elements.
	Options map[string][]string
	// OnClick runs after a successful click on the selector.
	OnClick map[string]func(p *Page)

	URLs     []string
	Actions  []string
	Filled   map[string]string
	Uploaded []string

	// ScreenshotPath is returned by Screenshot; empty yields /tmp/<label>.png.
	ScreenshotPath string
}

var _ browser.Page = (*Page)(nil)

func NewPage(name string) *Page {
	return &Page{
		name:    name,
		Texts:   map[string]string{},
		Values:  map[string]string{},
		Tables:  map[string][][]string{},
		Counts:  map[string]int{},
		Shown:   map[string]bool{},
		Absent:  map[string]bool{},
		Options: map[string][]string{},
		OnClick: map[string]func(p *Page){},
		Filled:  map[string]string{},
	}
}

func (p *Page) record(format string, args ...any) {
	p.Actions = append(p.Actions, fmt.Sprintf(format, args...))
}

// Did reports whether an action was recorded.
func (p *Page) Did(action string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// present returns the first alternative not marked absent.
func (p *Page) present(sels []string) (string, error) {
	if len(sels) == 0 {
		return "", browser.ErrNoSelector
	}
	for _, s := range sels {
		if !p.Absent[s] {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %v", ErrNotFound, sels)
}

func (p *Page) Name() string { return p.name }

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.URLs = append(p.URLs, url)
	p.record("navigate %s", url)
	return nil
}

func (p *Page) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.URLs) == 0 {
		return "about:blank", nil
	}
	return p.URLs[len(p.URLs)-1], nil
}

func (p *Page) Click(ctx context.Context, sels ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	sel, err := p.present(sels)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.record("click %s", sel)
	hook := p.OnClick[sel]
	p.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) Fill(ctx context.Context, value string, sels ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, err := p.present(sels)
	if err != nil {
		return err
	}
	p.Filled[sel] = value
	p.record("fill %s=%s", sel, value)
	return nil
}

func (p *Page) SetValue(ctx context.Context, value string, sels ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, err := p.present(sels)
	if err != nil {
		return err
	}
	p.Filled[sel] = value
	p.record("set %s=%s", sel, value)
	return nil
}

func (p *Page) SelectOption(ctx context.Context, label string, sels ...string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, err := p.present(sels)
	if err != nil {
		return false, err
	}
	opts, ok := p.Options[sel]
	if !ok {
		p.Filled[sel] = label
		p.record("select %s=%s", sel, label)
		return true, nil
	}
	for _, o := range opts {
		if containsFold(o, label) {
			p.Filled[sel] = o
			p.record("select %s=%s", sel, o)
			return true, nil
		}
	}
	return false, nil
}

func (p *Page) Text(ctx context.Context, sels ...string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range sels {
		if v, ok := p.Texts[s]; ok && v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %v", ErrNotFound, sels)
}

func (p *Page) Value(ctx context.Context, sels ...string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range sels {
		if v, ok := p.Values[s]; ok && v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %v", ErrNotFound, sels)
}

func (p *Page) Visible(ctx context.Context, sels ...string) bool {
	if ctx.Err() != nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range sels {
		if p.Shown[s] {
			return true
		}
	}
	return false
}

func (p *Page) Count(ctx context.Context, sel string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if n, ok := p.Counts[sel]; ok {
		return n, nil
	}
	return len(p.Tables[sel]), nil
}

func (p *Page) Table(ctx context.Context, rowSel string) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Tables[rowSel], nil
}

func (p *Page) Labels(ctx context.Context, rowSel string) (map[string]string, error) {
	rows, err := p.Table(ctx, rowSel)
	if err != nil {
		return nil, err
	}
	return browser.LabelMap(rows), nil
}

// Evaluate records the script; out is left untouched.
func (p *Page) Evaluate(ctx context.Context, js string, _ any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("eval")
	return nil
}

func (p *Page) AcceptDialogs(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("accept dialogs")
	return nil
}

func (p *Page) Upload(ctx context.Context, path string, sels ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, err := p.present(sels)
	if err != nil {
		return err
	}
	p.Uploaded = append(p.Uploaded, path)
	p.record("upload %s=%s", sel, path)
	return nil
}

func (p *Page) Screenshot(ctx context.Context, label string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("screenshot %s", label)
	if p.ScreenshotPath == "" {
		return "/tmp/" + label + ".png", nil
	}
	return p.ScreenshotPath, nil
}

// ---------------------------------------------------------------------------
// Pages
// ---------------------------------------------------------------------------

// Pages is a scripted browser.Pages. Pages opened by Follow are taken from
// Pending when present.
type Pages struct {
	mu      sync.Mutex
	open    map[string]*Page
	Pending map[string]*Page
	Closed  []string
	// FollowErr makes Follow fail for the named target page.
	FollowErr map[string]error
}

var _ browser.Pages = (*Pages)(nil)

func NewPages() *Pages {
	return &Pages{
		open:      map[string]*Page{},
		Pending:   map[string]*Page{},
		FollowErr: map[string]error{},
	}
}

// Get returns the named fake page, creating it when needed.
func (ps *Pages) Get(name string) *Page {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if p, ok := ps.open[name]; ok {
		return p
	}
	p := NewPage(name)
	ps.open[name] = p
	return p
}

func (ps *Pages) Page(name string) (browser.Page, error) {
	return ps.Get(name), nil
}

func (ps *Pages) Follow(ctx context.Context, from, name string, sels ...string) (browser.Page, error) {
	if err := ps.Get(from).Click(ctx, sels...); err != nil {
		return nil, err
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if err := ps.FollowErr[name]; err != nil {
		return nil, err
	}
	p, ok := ps.Pending[name]
	if !ok {
		p = NewPage(name)
	}
	delete(ps.Pending, name)
	ps.open[name] = p
	return p, nil
}

func (ps *Pages) HasPage(name string) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	_, ok := ps.open[name]
	return ok
}

func (ps *Pages) ClosePage(name string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if _, ok := ps.open[name]; ok {
		ps.Closed = append(ps.Closed, name)
	}
	delete(ps.open, name)
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
