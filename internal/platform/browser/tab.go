package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// Tab is one named page of the session.
type Tab struct {
	name   string
	ctx    context.Context
	cancel context.CancelFunc
	s      *Session
}

// Name returns the tab name.
func (t *Tab) Name() string { return t.name }

// run executes actions on the tab with a deadline and the caller's
// cancellation.
func (t *Tab) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tctx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(tctx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// tryEach calls fn for every alternative until one succeeds.
func tryEach(ctx context.Context, sels []string, fn func(sel string) error) (string, error) {
	if len(sels) == 0 {
		return "", ErrNoSelector
	}
	var errs []error
	for _, sel := range sels {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := fn(sel); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sel, err))
			continue
		}
		return sel, nil
	}
	return "", errors.Join(errs...)
}

// Navigate loads url and waits for the body.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	return t.run(ctx, t.s.cfg.Timeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// URL returns the current location.
func (t *Tab) URL(ctx context.Context) (string, error) {
	var u string
	err := t.run(ctx, t.s.cfg.Timeout, chromedp.Location(&u))
	return u, err
}

// Click waits for the first visible alternative and clicks it.
func (t *Tab) Click(ctx context.Context, sels ...string) error {
	_, err := tryEach(ctx, sels, func(sel string) error {
		return t.run(ctx, t.s.cfg.Timeout,
			chromedp.WaitVisible(sel, chromedp.ByQuery),
			chromedp.Click(sel, chromedp.ByQuery),
		)
	})
	if err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

// Fill clears the first visible alternative and types value into it.
func (t *Tab) Fill(ctx context.Context, value string, sels ...string) error {
	_, err := tryEach(ctx, sels, func(sel string) error {
		return t.run(ctx, t.s.cfg.Timeout,
			chromedp.WaitVisible(sel, chromedp.ByQuery),
			chromedp.Clear(sel, chromedp.ByQuery),
			chromedp.SendKeys(sel, value, chromedp.ByQuery),
		)
	})
	if err != nil {
		return fmt.Errorf("fill: %w", err)
	}
	return nil
}

// SetValue assigns value to an input or select without typing and fires
// its change event.
func (t *Tab) SetValue(ctx context.Context, value string, sels ...string) error {
	_, err := tryEach(ctx, sels, func(sel string) error {
		var ok bool
		return t.run(ctx, t.s.cfg.Timeout,
			chromedp.WaitReady(sel, chromedp.ByQuery),
			chromedp.SetValue(sel, value, chromedp.ByQuery),
			chromedp.Evaluate(dispatchChangeJS(sel), &ok),
		)
	})
	if err != nil {
		return fmt.Errorf("set value: %w", err)
	}
	return nil
}

// SelectOption picks the option of a select element whose visible text
// contains label, case-insensitively.
func (t *Tab) SelectOption(ctx context.Context, label string, sels ...string) (bool, error) {
	var found bool
	_, err := tryEach(ctx, sels, func(sel string) error {
		if err := t.run(ctx, t.s.cfg.Timeout,
			chromedp.WaitReady(sel, chromedp.ByQuery),
			chromedp.Evaluate(selectOptionJS(sel, label), &found),
		); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("select option: %w", err)
	}
	return found, nil
}

// Text reads the trimmed text of the first alternative that has any.
func (t *Tab) Text(ctx context.Context, sels ...string) (string, error) {
	var out string
	_, err := tryEach(ctx, sels, func(sel string) error {
		var s string
		if err := t.run(ctx, t.s.cfg.ProbeTimeout, chromedp.Text(sel, &s, chromedp.ByQuery, chromedp.NodeReady)); err != nil {
			return err
		}
		if s = strings.TrimSpace(s); s == "" {
			return errors.New("empty text")
		}
		out = s
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("text: %w", err)
	}
	return out, nil
}

// Value reads the value attribute of the first alternative that has one.
func (t *Tab) Value(ctx context.Context, sels ...string) (string, error) {
	var out string
	_, err := tryEach(ctx, sels, func(sel string) error {
		var s string
		if err := t.run(ctx, t.s.cfg.ProbeTimeout, chromedp.Value(sel, &s, chromedp.ByQuery, chromedp.NodeReady)); err != nil {
			return err
		}
		if s = strings.TrimSpace(s); s == "" {
			return errors.New("empty value")
		}
		out = s
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("value: %w", err)
	}
	return out, nil
}

// Visible probes for a visible alternative within the probe timeout. A miss
// is not an error.
func (t *Tab) Visible(ctx context.Context, sels ...string) bool {
	_, err := tryEach(ctx, sels, func(sel string) error {
		return t.run(ctx, t.s.cfg.ProbeTimeout, chromedp.WaitVisible(sel, chromedp.ByQuery))
	})
	return err == nil
}

// Count returns how many elements match sel right now.
func (t *Tab) Count(ctx context.Context, sel string) (int, error) {
	var n int
	err := t.run(ctx, t.s.cfg.Timeout, chromedp.Evaluate(countJS(sel), &n))
	return n, err
}

// Table returns the trimmed cell texts of every row matching rowSel.
func (t *Tab) Table(ctx context.Context, rowSel string) ([][]string, error) {
	var rows [][]string
	if err := t.run(ctx, t.s.cfg.Timeout, chromedp.Evaluate(tableJS(rowSel), &rows)); err != nil {
		return nil, fmt.Errorf("read table %s: %w", rowSel, err)
	}
	return rows, nil
}

// Labels returns label -> value pairs from a definition-style block, where
// each element matching rowSel holds a label cell and a value cell.
func (t *Tab) Labels(ctx context.Context, rowSel string) (map[string]string, error) {
	rows, err := t.Table(ctx, rowSel)
	if err != nil {
		return nil, err
	}
	return LabelMap(rows), nil
}

// LabelMap turns label/value rows into a map, keeping the first value seen
// for each label.
func LabelMap(rows [][]string) map[string]string {
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		if len(r) < 2 {
			continue
		}
		k := strings.TrimSuffix(strings.TrimSpace(r[0]), ":")
		if k == "" {
			continue
		}
		if _, dup := out[k]; !dup {
			out[k] = strings.TrimSpace(r[1])
		}
	}
	return out
}

// Evaluate runs a script and decodes its result into out.
func (t *Tab) Evaluate(ctx context.Context, js string, out any) error {
	return t.run(ctx, t.s.cfg.Timeout, chromedp.Evaluate(js, out))
}

// AcceptDialogs makes window.confirm and window.alert return immediately
// on the current page.
func (t *Tab) AcceptDialogs(ctx context.Context) error {
	var ok bool
	return t.run(ctx, t.s.cfg.Timeout, chromedp.Evaluate(acceptDialogsJS, &ok))
}

// Upload sets path on the first file input alternative.
func (t *Tab) Upload(ctx context.Context, path string, sels ...string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	_, err := tryEach(ctx, sels, func(sel string) error {
		return t.run(ctx, t.s.cfg.Timeout,
			chromedp.WaitReady(sel, chromedp.ByQuery),
			chromedp.SetUploadFiles(sel, []string{path}, chromedp.ByQuery),
		)
	})
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return nil
}

// Screenshot captures the full page to a PNG under the screenshot directory
// and returns its path.
func (t *Tab) Screenshot(ctx context.Context, label string) (string, error) {
	var buf []byte
	if err := t.run(ctx, t.s.cfg.Timeout, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}
	path := t.s.screenshotPath(label)
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

// Follow clicks sels and adopts the page target that the click opens as the
// named tab.
func (t *Tab) Follow(ctx context.Context, name string, sels ...string) (*Tab, error) {
	before, err := chromedp.Targets(t.s.root)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	known := make(map[string]bool, len(before))
	for _, ti := range before {
		known[string(ti.TargetID)] = true
	}

	if err := t.Click(ctx, sels...); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(t.s.cfg.Timeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		infos, err := chromedp.Targets(t.s.root)
		if err != nil {
			return nil, fmt.Errorf("list targets: %w", err)
		}
		for _, ti := range infos {
			if ti.Type != "page" || known[string(ti.TargetID)] {
				continue
			}
			tctx, cancel := chromedp.NewContext(t.s.root, chromedp.WithTargetID(ti.TargetID))
			tab, err := t.s.adopt(name, tctx, cancel)
			if err != nil {
				return nil, err
			}
			if err := tab.run(ctx, t.s.cfg.Timeout, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
				return nil, fmt.Errorf("new tab %s: %w", name, err)
			}
			return tab, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return nil, fmt.Errorf("%w: %s", ErrNoNewTab, name)
}
