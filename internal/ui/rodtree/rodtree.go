// Package rodtree implements the ui contract on a live Chromium page using
// the DevTools protocol through go-rod.
package rodtree

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/MrWong99/voxfill/internal/ui"
)

// Config selects the browser and page to attach to.
type Config struct {
	// DebuggerURL is the DevTools WebSocket URL of a running browser. When
	// empty a browser is launched.
	DebuggerURL string

	// Bin is the browser binary used when launching. Empty lets the launcher
	// find or download one.
	Bin string

	Headless bool

	// URL is opened in a new tab. When empty the first existing tab is used.
	URL string

	// FormSelector scopes the element scan. Empty scans the whole document.
	FormSelector string
}

var (
	_ ui.Tree        = (*Tree)(nil)
	_ ui.EventSource = (*Tree)(nil)
)

// Tree is a ui.Tree backed by one browser page.
type Tree struct {
	cfg      Config
	browser  *rod.Browser
	page     *rod.Page
	launched bool

	mu   sync.Mutex
	subs int
}

// Connect attaches to (or launches) a browser and selects the target page.
func Connect(ctx context.Context, cfg Config) (*Tree, error) {
	controlURL := cfg.DebuggerURL
	launched := false
	if controlURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("rodtree: launch browser: %w", err)
		}
		controlURL = u
		launched = true
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("rodtree: connect to browser: %w", err)
	}

	page, err := selectPage(browser, cfg.URL)
	if err != nil {
		_ = browser.Close()
		return nil, err
	}

	slog.Info("rodtree: attached to page", "launched", launched, "url", cfg.URL, "form_selector", cfg.FormSelector)
	return &Tree{cfg: cfg, browser: browser, page: page, launched: launched}, nil
}

func selectPage(browser *rod.Browser, url string) (*rod.Page, error) {
	if url != "" {
		page, err := browser.Page(proto.TargetCreateTarget{URL: url})
		if err != nil {
			return nil, fmt.Errorf("rodtree: open %s: %w", url, err)
		}
		if err := page.WaitLoad(); err != nil {
			return nil, fmt.Errorf("rodtree: wait for %s: %w", url, err)
		}
		return page, nil
	}
	pages, err := browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("rodtree: list pages: %w", err)
	}
	if p := pages.First(); p != nil {
		return p, nil
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("rodtree: open blank page: %w", err)
	}
	return page, nil
}

// Close detaches from the browser. A launched browser is shut down.
func (t *Tree) Close() error {
	if t.launched {
		return t.browser.Close()
	}
	return nil
}

// Ping checks that the page still answers.
func (t *Tree) Ping(ctx context.Context) error {
	_, err := t.page.Context(ctx).Evaluate(rod.Eval(`() => 1`))
	if err != nil {
		return fmt.Errorf("rodtree: ping: %w", err)
	}
	return nil
}

// Elements implements ui.Tree.
func (t *Tree) Elements(ctx context.Context) ([]ui.Element, error) {
	els, err := t.page.Context(ctx).ElementsByJS(rod.Eval(candidatesJS, t.cfg.FormSelector))
	if err != nil {
		return nil, fmt.Errorf("rodtree: scan: %w", err)
	}
	out := make([]ui.Element, 0, len(els))
	for _, el := range els {
		res, err := el.Context(ctx).Eval(attrsJS)
		if err != nil {
			// The element vanished between the scan and the attribute read.
			slog.Debug("rodtree: skipping element", "err", err)
			continue
		}
		a, err := decodeAttrs(res.Value)
		if err != nil {
			return nil, fmt.Errorf("rodtree: decode attributes: %w", err)
		}
		out = append(out, &element{el: el, attrs: a})
	}
	return out, nil
}

// attrs is the JSON shape produced by attrsJS.
type attrs struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Tag         string `json:"tag"`
	Type        string `json:"type"`
	Label       string `json:"label"`
	Placeholder string `json:"placeholder"`
	Disabled    bool   `json:"disabled"`
	ReadOnly    bool   `json:"readOnly"`
}

func decodeAttrs(v gson.JSON) (attrs, error) {
	raw, err := v.MarshalJSON()
	if err != nil {
		return attrs{}, err
	}
	var a attrs
	if err := json.Unmarshal(raw, &a); err != nil {
		return attrs{}, err
	}
	return a, nil
}

var bindingUnsafe = regexp.MustCompile(`[^A-Za-z0-9_]`)

// bindingName derives a JS-safe global binding name for an event.
func bindingName(event string, n int) string {
	return fmt.Sprintf("__voxfill_%s_%d", bindingUnsafe.ReplaceAllString(event, "_"), n)
}

// Subscribe implements ui.EventSource. The named DOM event is observed on
// window and document and survives navigations.
func (t *Tree) Subscribe(ctx context.Context, name string, fn func()) (func(), error) {
	t.mu.Lock()
	t.subs++
	binding := bindingName(name, t.subs)
	t.mu.Unlock()

	page := t.page.Context(ctx)
	stop, err := page.Expose(binding, func(gson.JSON) (any, error) {
		fn()
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("rodtree: expose %s: %w", binding, err)
	}

	install := fmt.Sprintf("(%s)(%q, %q)", listenJS, name, binding)
	remove, err := page.EvalOnNewDocument(install)
	if err != nil {
		_ = stop()
		return nil, fmt.Errorf("rodtree: install listener: %w", err)
	}
	if _, err := page.Evaluate(rod.Eval(listenJS, name, binding)); err != nil {
		_ = remove()
		_ = stop()
		return nil, fmt.Errorf("rodtree: install listener: %w", err)
	}

	return func() {
		_, _ = t.page.Evaluate(rod.Eval(unlistenJS, name, binding))
		_ = remove()
		_ = stop()
	}, nil
}

// ---- element ----------------------------------------------------------------

type element struct {
	el    *rod.Element
	attrs attrs
}

var _ ui.Element = (*element)(nil)

func (e *element) ID() string          { return e.attrs.ID }
func (e *element) Name() string        { return e.attrs.Name }
func (e *element) Tag() string         { return e.attrs.Tag }
func (e *element) Type() string        { return e.attrs.Type }
func (e *element) Label() string       { return e.attrs.Label }
func (e *element) Placeholder() string { return e.attrs.Placeholder }
func (e *element) Disabled() bool      { return e.attrs.Disabled }
func (e *element) ReadOnly() bool      { return e.attrs.ReadOnly }

func (e *element) Alive(ctx context.Context) bool {
	res, err := e.el.Context(ctx).Eval(aliveJS)
	return err == nil && res.Value.Bool()
}

func (e *element) Focus(ctx context.Context) error {
	if err := e.el.Context(ctx).Focus(); err != nil {
		return detached(err)
	}
	return nil
}

func (e *element) ScrollIntoView(ctx context.Context) error {
	if err := e.el.Context(ctx).ScrollIntoView(); err != nil {
		return detached(err)
	}
	return nil
}

func (e *element) ChangeHandler(ctx context.Context) (ui.Handler, bool) {
	res, err := e.el.Context(ctx).Eval(probeHandlerJS)
	if err != nil {
		return nil, false
	}
	shape := res.Value.Str()
	if shape == "" {
		return nil, false
	}
	return &handler{el: e.el, shape: shape}, true
}

func (e *element) SetNativeValue(ctx context.Context, value string) error {
	if _, err := e.el.Context(ctx).Eval(nativeSetJS, value); err != nil {
		return detached(err)
	}
	return nil
}

func (e *element) Value(ctx context.Context) (string, error) {
	res, err := e.el.Context(ctx).Eval(valueJS)
	if err != nil {
		return "", detached(err)
	}
	return res.Value.Str(), nil
}

func (e *element) Dispatch(ctx context.Context, ev ui.Event) error {
	if _, err := e.el.Context(ctx).Eval(dispatchJS, ev.Type, ev.Target); err != nil {
		return detached(err)
	}
	return nil
}

func (e *element) Form(ctx context.Context) (ui.Form, bool) {
	f, err := e.el.Context(ctx).ElementByJS(rod.Eval(formJS))
	if err != nil || f == nil {
		return nil, false
	}
	return &form{el: f}, true
}

// detached maps a lost-node failure to ui.ErrDetached.
func detached(err error) error {
	var nf *rod.ObjectNotFoundError
	if errors.As(err, &nf) {
		return fmt.Errorf("%w: %w", ui.ErrDetached, err)
	}
	return err
}

// ---- handler ----------------------------------------------------------------

type handler struct {
	el    *rod.Element
	shape string
}

func (h *handler) Shape() string { return h.shape }

func (h *handler) Invoke(ctx context.Context, t ui.Target) error {
	if _, err := h.el.Context(ctx).Eval(invokeHandlerJS, h.shape, t); err != nil {
		return fmt.Errorf("rodtree: invoke %s handler: %w", h.shape, err)
	}
	return nil
}

// ---- form -------------------------------------------------------------------

type form struct {
	el *rod.Element
}

func (f *form) SubmitControl(ctx context.Context) (ui.Element, bool) {
	ctl, err := f.el.Context(ctx).ElementByJS(rod.Eval(submitControlJS))
	if err != nil || ctl == nil {
		return nil, false
	}
	res, err := ctl.Context(ctx).Eval(attrsJS)
	if err != nil {
		return nil, false
	}
	a, err := decodeAttrs(res.Value)
	if err != nil {
		return nil, false
	}
	return &element{el: ctl, attrs: a}, true
}

func (f *form) RequestSubmit(ctx context.Context, submitter ui.Element) error {
	var arg any
	if s, ok := submitter.(*element); ok && s != nil {
		arg = s.el.Object
	}
	if _, err := f.el.Context(ctx).Eval(requestSubmitJS, arg); err != nil {
		return fmt.Errorf("rodtree: request submit: %w", err)
	}
	return nil
}
