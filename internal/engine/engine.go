package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxfill/internal/fields"
	"github.com/MrWong99/voxfill/internal/observe"
	"github.com/MrWong99/voxfill/internal/ui"
	"github.com/MrWong99/voxfill/internal/voicecmd"
	"github.com/MrWong99/voxfill/internal/writer"
	"github.com/MrWong99/voxfill/pkg/types"
)

// Defaults applied by [New].
const (
	DefaultActivationEvent = "voxfill:activate"
	DefaultSettleDelay     = 150 * time.Millisecond
)

// FieldWriter writes values into fields and focuses them. *writer.Writer
// implements it.
type FieldWriter interface {
	Write(ctx context.Context, f fields.Descriptor, value string) (writer.Result, error)
	Focus(ctx context.Context, f fields.Descriptor) error
}

var _ FieldWriter = (*writer.Writer)(nil)

// Config configures a [Session].
type Config struct {
	// Tree is the UI tree to operate on. Required.
	Tree ui.Tree

	// Writer defaults to writer.New().
	Writer FieldWriter

	// Matcher defaults to a matcher over the built-in alias table.
	Matcher *fields.Matcher

	// ActivationEvent is the host event that triggers an initial scan and
	// focuses the first field. Defaults to DefaultActivationEvent.
	ActivationEvent string

	// SettleDelay is waited after the activation event before scanning.
	// Zero selects DefaultSettleDelay; negative disables the delay.
	SettleDelay time.Duration

	// OnFieldFilled is called after every successful write, including the
	// empty write of a cancel. It runs while the session lock is held and
	// must not call back into the Session.
	OnFieldFilled func(fieldID, value string)

	// OnCommandRecognized is called with every transcript that passed the
	// confidence filter, whether or not it produced a command. Same locking
	// rules as OnFieldFilled.
	OnCommandRecognized func(transcript string)

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Session is one engine instance. All methods are safe for concurrent use;
// commands are applied one at a time.
type Session struct {
	cfg        Config
	registry   *fields.Registry
	matcher    *fields.Matcher
	classifier *voicecmd.Classifier
	writer     FieldWriter
	metrics    *observe.Metrics

	mu          sync.Mutex
	state       State
	lastFieldID string
	id          string
	unavailable error
}

// New validates cfg and returns an inactive Session.
func New(cfg Config) (*Session, error) {
	if cfg.Tree == nil {
		return nil, errors.New("engine: Tree is required")
	}
	if cfg.Writer == nil {
		cfg.Writer = writer.New()
	}
	if cfg.Matcher == nil {
		cfg.Matcher = fields.NewMatcher(nil)
	}
	if cfg.ActivationEvent == "" {
		cfg.ActivationEvent = DefaultActivationEvent
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Session{
		cfg:        cfg,
		registry:   fields.NewRegistry(cfg.Tree),
		matcher:    cfg.Matcher,
		classifier: voicecmd.NewClassifier(cfg.Matcher),
		writer:     cfg.Writer,
		metrics:    cfg.Metrics,
		state:      inactive(),
	}, nil
}

// SetMatcher replaces the field matcher used by subsequent commands, e.g.
// after the alias configuration was reloaded.
func (s *Session) SetMatcher(m *fields.Matcher) {
	if m == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matcher = m
	s.classifier = voicecmd.NewClassifier(m)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID returns the identifier of the current activation, or "" while
// inactive.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Active reports whether the session is listening.
func (s *Session) Active() bool {
	return s.State().Mode != ModeInactive
}

// Err returns the error passed to the last Unavailable call, cleared by
// Activate.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unavailable
}

// Activate moves an inactive session to Idle. Activating an active session
// is a no-op.
func (s *Session) Activate(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Mode != ModeInactive {
		return
	}
	s.state = idle()
	s.id = uuid.NewString()
	s.unavailable = nil
	s.lastFieldID = ""
	s.metrics.EngineActive.Add(ctx, 1)
	slog.Info("engine: activated", "session_id", s.id)
}

// Deactivate returns the session to Inactive. A command that is being
// applied finishes first; no transcript is classified afterwards.
func (s *Session) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivateLocked()
}

func (s *Session) deactivateLocked() {
	if s.state.Mode == ModeInactive {
		return
	}
	slog.Info("engine: deactivated", "session_id", s.id)
	s.state = inactive()
	s.lastFieldID = ""
	s.id = ""
	s.metrics.EngineActive.Add(context.Background(), -1)
}

// Unavailable reports that speech recognition cannot run at all. The session
// becomes Inactive and stays there until the next Activate.
func (s *Session) Unavailable(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slog.Error("engine: recognition unavailable", "err", err)
	s.unavailable = err
	s.deactivateLocked()
}

// HandleResult processes one recognizer final. It is a no-op while inactive.
func (s *Session) HandleResult(ctx context.Context, t types.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Mode == ModeInactive {
		return
	}
	ctx, span := observe.StartSpan(observe.WithSessionID(ctx, s.id), "engine.HandleTranscript")
	defer span.End()
	log := observe.Logger(ctx)

	text, ok := voicecmd.Filter(t)
	s.metrics.RecordTranscript(ctx, ok)
	if !ok {
		log.Debug("engine: low-confidence transcript dropped", "text", t.Text, "confidence", t.Confidence)
		return
	}
	if cb := s.cfg.OnCommandRecognized; cb != nil {
		cb(text)
	}

	snap := s.scan(ctx, log)
	cmd, ok := s.classifier.Classify(text, s.state.Mode == ModeAwaitingValue, snap)
	if !ok {
		log.Debug("engine: utterance produced no command", "text", text)
		return
	}
	s.metrics.RecordCommand(ctx, cmd.Kind.String())
	span.SetAttributes(attribute.String("command", cmd.Kind.String()))
	log.Info("engine: command", "command", cmd.String(), "state", s.state.Mode.String())

	s.apply(ctx, log, span, cmd, snap)
}

// HandleEvent processes a named host event. The activation event, seen while
// active, waits SettleDelay, scans the tree and focuses its first field.
// Other events are ignored.
func (s *Session) HandleEvent(ctx context.Context, name string) {
	if name != s.cfg.ActivationEvent || !s.Active() {
		slog.Debug("engine: event ignored", "event", name)
		return
	}
	if d := s.cfg.SettleDelay; d > 0 {
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Mode == ModeInactive {
		return
	}
	ctx = observe.WithSessionID(ctx, s.id)
	log := observe.Logger(ctx)
	snap := s.scan(ctx, log)
	if len(snap) == 0 {
		log.Info("engine: activation found no fillable fields")
		return
	}
	s.focus(ctx, log, snap[0])
}

// Bind subscribes the session to its activation event on src. Events are
// handled on their own goroutine so the source is never blocked by the
// settle delay.
func (s *Session) Bind(ctx context.Context, src ui.EventSource) (cancel func(), err error) {
	name := s.cfg.ActivationEvent
	return src.Subscribe(ctx, name, func() {
		go s.HandleEvent(ctx, name)
	})
}

// ---- transitions (s.mu held) ------------------------------------------------

func (s *Session) apply(ctx context.Context, log *slog.Logger, span trace.Span, cmd voicecmd.Command, snap []fields.Descriptor) {
	switch cmd.Kind {
	case voicecmd.KindFocusByName:
		d, stage, err := s.matcher.Resolve(cmd.Field, snap)
		if err != nil {
			log.Info("engine: unresolved field", "phrase", cmd.Field)
			return
		}
		span.SetAttributes(attribute.String("match_stage", string(stage)))
		s.focus(ctx, log, d)

	case voicecmd.KindFillCurrentWith:
		s.fillCurrent(ctx, log, cmd.Value, snap)

	case voicecmd.KindFillNamedWith:
		d, _, err := s.matcher.Resolve(cmd.Field, snap)
		if err != nil {
			log.Info("engine: unresolved field", "phrase", cmd.Field)
			return
		}
		s.write(ctx, log, d, cmd.Value)
		s.lastFieldID = d.ID

	case voicecmd.KindNavigate:
		s.navigate(ctx, log, cmd.Direction, snap)

	case voicecmd.KindSubmit:
		s.submit(ctx, log, snap)

	case voicecmd.KindCancelCurrent:
		s.cancelCurrent(ctx, log, snap)

	default:
		log.Info("engine: unrecognized command", "transcript", cmd.Raw)
	}
}

func (s *Session) scan(ctx context.Context, log *slog.Logger) []fields.Descriptor {
	snap, err := s.registry.Scan(ctx)
	if err != nil {
		log.Warn("engine: registry scan failed", "err", err)
		return nil
	}
	return snap
}

// focus brings d into focus and makes it the current field. The field
// becomes current even when the focus request itself fails.
func (s *Session) focus(ctx context.Context, log *slog.Logger, d fields.Descriptor) {
	if err := s.writer.Focus(ctx, d); err != nil {
		log.Warn("engine: focus failed", "field_id", d.ID, "err", err)
	}
	s.state = awaiting(d.ID)
	s.lastFieldID = d.ID
}

// write delivers value into d and reports success.
func (s *Session) write(ctx context.Context, log *slog.Logger, d fields.Descriptor, value string) bool {
	res, err := s.writer.Write(ctx, d, value)
	status := "ok"
	if err != nil {
		status = "failed"
	}
	s.metrics.RecordFieldWrite(ctx, res.Strategy, status, res.Duration)
	if err != nil {
		log.Warn("engine: field write failed", "field_id", d.ID, "err", err)
		return false
	}
	log.Info("engine: field filled", "field_id", d.ID, "strategy", res.Strategy)
	if cb := s.cfg.OnFieldFilled; cb != nil {
		cb(d.ID, value)
	}
	return true
}

// current returns the focused field from snap.
func (s *Session) current(snap []fields.Descriptor) (fields.Descriptor, bool) {
	if s.state.Mode != ModeAwaitingValue {
		return fields.Descriptor{}, false
	}
	i := fields.IndexOf(snap, s.state.FocusedFieldID)
	if i < 0 {
		return fields.Descriptor{}, false
	}
	return snap[i], true
}

// fillCurrent writes value into the focused field, then advances to the
// field after it in a fresh scan, or to Idle at the end of the form.
func (s *Session) fillCurrent(ctx context.Context, log *slog.Logger, value string, snap []fields.Descriptor) {
	f, ok := s.current(snap)
	if !ok {
		log.Warn("engine: focused field no longer present", "field_id", s.state.FocusedFieldID)
		s.state = idle()
		return
	}
	s.write(ctx, log, f, value)
	s.lastFieldID = f.ID

	fresh := s.scan(ctx, log)
	i := fields.IndexOf(fresh, f.ID)
	if i < 0 || i+1 >= len(fresh) {
		s.state = idle()
		return
	}
	s.focus(ctx, log, fresh[i+1])
}

func (s *Session) cancelCurrent(ctx context.Context, log *slog.Logger, snap []fields.Descriptor) {
	f, ok := s.current(snap)
	if ok {
		s.write(ctx, log, f, "")
		s.lastFieldID = f.ID
	} else {
		log.Warn("engine: focused field no longer present", "field_id", s.state.FocusedFieldID)
	}
	s.state = idle()
}

// navigate moves to the next or previous field relative to the focused (or,
// when idle, the last used) field, wrapping around. Without a reference it
// starts at the first or last field. An empty registry leaves the state
// unchanged.
func (s *Session) navigate(ctx context.Context, log *slog.Logger, dir voicecmd.Direction, snap []fields.Descriptor) {
	n := len(snap)
	if n == 0 {
		log.Info("engine: nothing to navigate to")
		return
	}
	ref := s.lastFieldID
	if s.state.Mode == ModeAwaitingValue {
		ref = s.state.FocusedFieldID
	}

	var next int
	switch i := fields.IndexOf(snap, ref); {
	case i < 0 && dir == voicecmd.Previous:
		next = n - 1
	case i < 0:
		next = 0
	case dir == voicecmd.Previous:
		next = (i - 1 + n) % n
	default:
		next = (i + 1) % n
	}
	s.focus(ctx, log, snap[next])
}

// submit submits the form enclosing the relevant field: the focused one,
// else the last used one, else the first field. A form without a submit
// control gets a generic submission.
func (s *Session) submit(ctx context.Context, log *slog.Logger, snap []fields.Descriptor) {
	defer func() {
		if s.state.Mode == ModeAwaitingValue {
			s.state = idle()
		}
	}()

	ref := s.lastFieldID
	if s.state.Mode == ModeAwaitingValue {
		ref = s.state.FocusedFieldID
	}
	var target fields.Descriptor
	if i := fields.IndexOf(snap, ref); i >= 0 {
		target = snap[i]
	} else if len(snap) > 0 {
		target = snap[0]
	} else {
		log.Info("engine: no field to submit")
		return
	}

	form, ok := target.Handle.Form(ctx)
	if !ok {
		log.Warn("engine: field has no enclosing form", "field_id", target.ID)
		return
	}
	var submitter ui.Element
	if ctl, ok := form.SubmitControl(ctx); ok {
		submitter = ctl
	}
	if err := form.RequestSubmit(ctx, submitter); err != nil {
		log.Warn("engine: submit failed", "field_id", target.ID, "err", err)
		return
	}
	log.Info("engine: form submitted", "field_id", target.ID, "generic", submitter == nil)
}
