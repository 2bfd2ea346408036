package entitlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fatflowers/subtrack/internal/app/session"
	"github.com/fatflowers/subtrack/pkg/errs"
	"github.com/fatflowers/subtrack/pkg/logctx"
	"github.com/fatflowers/subtrack/pkg/metrics"
	"github.com/fatflowers/subtrack/pkg/types"
)

// ErrIdentityChanged is returned by an operation whose result was discarded
// because the session switched users while it ran.
var ErrIdentityChanged = errors.New("identity changed during entitlement operation")

type Status int

const (
	StatusUninitialized Status = iota
	StatusDisabled
	StatusInitializing
	StatusReady
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusDisabled:
		return "disabled"
	case StatusInitializing:
		return "initializing"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// State is what a reconciler exposes. Err holds the last failure; a Ready
// state may carry one after a failed refresh or purchase.
type State struct {
	Provider              string     `json:"provider"`
	Status                Status     `json:"status"`
	Snapshot              *Snapshot  `json:"snapshot,omitempty"`
	HasActiveSubscription bool       `json:"has_active_subscription"`
	Plan                  types.Plan `json:"plan"`
	Err                   error      `json:"-"`
	Error                 string     `json:"error,omitempty"`
	Generation            uint64     `json:"generation"`
}

// ChangeListener observes every state transition.
type ChangeListener func(ctx context.Context, st State)

// Reconciler drives one provider for one session:
//
//	uninitialized -> disabled                      (CheckConfig failed, terminal)
//	uninitialized -> initializing -> ready|failed
//	failed        -> initializing                  (Refresh)
//	ready         -> ready                         (Purchase, Restore, Refresh)
//
// Any identity change resets to uninitialized and, if a user is present,
// starts a new initializing cycle. Results of the previous cycle are dropped.
type Reconciler struct {
	provider Provider
	sess     *session.Session
	notifier Notifier
	log      *zap.SugaredLogger

	mu          sync.Mutex
	state       State
	gen         uint64
	started     bool
	disposed    bool
	baseCtx     context.Context
	unsubscribe func()
	listeners   []ChangeListener
}

func NewReconciler(p Provider, sess *session.Session, notifier Notifier, log *zap.SugaredLogger) *Reconciler {
	r := &Reconciler{provider: p, sess: sess, notifier: notifier, log: log, baseCtx: context.Background()}
	r.state = State{Provider: p.Name(), Status: StatusUninitialized, Plan: types.PlanFree}
	return r
}

func (r *Reconciler) Name() string { return r.provider.Name() }

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// OnChange registers fn for every later transition.
func (r *Reconciler) OnChange(fn ChangeListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Start checks the provider configuration, subscribes to identity changes
// and initializes for the current identity, if any. It never panics and
// never returns an error: failures land in State.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started || r.disposed {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.baseCtx = context.WithoutCancel(ctx)

	if err := r.checkConfig(); err != nil {
		st := r.setLocked(State{Status: StatusDisabled, Err: err})
		r.mu.Unlock()
		logctx.FromCtx(ctx, r.log).Warnw("entitlement provider disabled", "provider", r.Name(), "error", err)
		r.emit(ctx, st)
		return
	}
	r.mu.Unlock()

	unsubscribe := r.sess.OnIdentityChange(r.onIdentityChange)
	r.mu.Lock()
	r.unsubscribe = unsubscribe
	r.mu.Unlock()

	if id, ok := r.sess.Identity(); ok {
		_ = r.initialize(ctx, id)
	}
}

// Dispose detaches from the session. In-flight operations finish but their
// results are discarded.
func (r *Reconciler) Dispose() {
	r.mu.Lock()
	r.disposed = true
	r.gen++
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.listeners = nil
	r.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Refresh re-fetches entitlements. From failed (or uninitialized with a
// user present) it runs a new initializing cycle. Failures are logged and
// recorded in State.Err but never notified.
func (r *Reconciler) Refresh(ctx context.Context) error {
	r.mu.Lock()
	st, gen := r.state, r.gen
	r.mu.Unlock()
	id, ok := r.sess.Identity()

	switch st.Status {
	case StatusDisabled:
		return st.Err
	case StatusUninitialized, StatusFailed:
		if !ok {
			return errs.ErrNotInitialized
		}
		return r.initialize(ctx, id)
	case StatusInitializing:
		return errs.ErrNotInitialized
	}

	start := time.Now()
	snap, err := call(func() (*Snapshot, error) { return r.provider.Fetch(ctx, id) })
	r.observe("refresh", start, err)

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return ErrIdentityChanged
	}
	var next State
	if err != nil {
		next = r.state
		next.Err = err
		next = r.setLocked(next)
	} else {
		next = r.setLocked(readyState(snap))
	}
	r.mu.Unlock()

	if err != nil {
		logctx.FromCtx(ctx, r.log).Warnw("entitlement refresh failed", "provider", r.Name(), "error", err)
	}
	r.emit(ctx, next)
	return err
}

func (r *Reconciler) Purchase(ctx context.Context, req *PurchaseRequest) (*PurchaseResult, error) {
	id, gen, err := r.readyIdentity()
	if err != nil {
		r.notify(ctx, "purchase", id.UserID, err, "")
		return nil, err
	}

	start := time.Now()
	res, err := call(func() (*PurchaseResult, error) { return r.provider.Purchase(ctx, id, req) })
	r.observe("purchase", start, err)
	if err != nil {
		r.recordFailure(ctx, gen, err)
		r.notify(ctx, "purchase", id.UserID, err, "")
		return nil, err
	}
	if err := r.applySnapshot(ctx, gen, res.Snapshot); err != nil {
		return nil, err
	}

	msg := "purchase completed"
	if res.CheckoutURL != "" {
		msg = "checkout started"
	} else if res.Snapshot != nil {
		msg = fmt.Sprintf("purchase completed, plan is now %s", res.Snapshot.Plan)
	}
	r.notify(ctx, "purchase", id.UserID, nil, msg)
	return res, nil
}

func (r *Reconciler) Restore(ctx context.Context, req *RestoreRequest) (*Snapshot, error) {
	id, gen, err := r.readyIdentity()
	if err != nil {
		r.notify(ctx, "restore", id.UserID, err, "")
		return nil, err
	}

	start := time.Now()
	snap, err := call(func() (*Snapshot, error) { return r.provider.Restore(ctx, id, req) })
	r.observe("restore", start, err)
	if err != nil {
		r.recordFailure(ctx, gen, err)
		r.notify(ctx, "restore", id.UserID, err, "")
		return nil, err
	}
	if err := r.applySnapshot(ctx, gen, snap); err != nil {
		return nil, err
	}
	msg := "purchases restored"
	if snap != nil {
		msg = fmt.Sprintf("purchases restored, plan is %s", snap.Plan)
	}
	r.notify(ctx, "restore", id.UserID, nil, msg)
	return snap, nil
}

func (r *Reconciler) readyIdentity() (session.Identity, uint64, error) {
	r.mu.Lock()
	status, gen := r.state.Status, r.gen
	r.mu.Unlock()
	id, ok := r.sess.Identity()
	if status != StatusReady || !ok {
		return id, gen, errs.ErrNotInitialized
	}
	return id, gen, nil
}

func (r *Reconciler) onIdentityChange(_, next *session.Identity) {
	r.mu.Lock()
	if r.disposed || r.state.Status == StatusDisabled {
		r.mu.Unlock()
		return
	}
	r.gen++
	st := r.setLocked(State{Status: StatusUninitialized})
	ctx := r.baseCtx
	r.mu.Unlock()
	r.emit(ctx, st)

	if next != nil {
		_ = r.initialize(ctx, *next)
	}
}

func (r *Reconciler) initialize(ctx context.Context, id session.Identity) error {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return ErrIdentityChanged
	}
	gen := r.gen
	st := r.setLocked(State{Status: StatusInitializing})
	r.mu.Unlock()
	r.emit(ctx, st)

	start := time.Now()
	snap, err := call(func() (*Snapshot, error) {
		if err := r.provider.Configure(ctx, id); err != nil {
			return nil, fmt.Errorf("configure: %w", err)
		}
		return r.provider.Fetch(ctx, id)
	})
	r.observe("initialize", start, err)

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return ErrIdentityChanged
	}
	if err != nil {
		st = r.setLocked(State{Status: StatusFailed, Err: err})
	} else {
		st = r.setLocked(readyState(snap))
	}
	r.mu.Unlock()

	if err != nil {
		logctx.FromCtx(ctx, r.log).Warnw("entitlement initialization failed", "provider", r.Name(), "user_id", id.UserID, "error", err)
	}
	r.emit(ctx, st)
	return err
}

func (r *Reconciler) applySnapshot(ctx context.Context, gen uint64, snap *Snapshot) error {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return ErrIdentityChanged
	}
	if snap == nil {
		r.mu.Unlock()
		return nil
	}
	st := r.setLocked(readyState(snap))
	r.mu.Unlock()
	r.emit(ctx, st)
	return nil
}

// recordFailure keeps the ready state and stores err.
func (r *Reconciler) recordFailure(ctx context.Context, gen uint64, err error) {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	next := r.state
	next.Err = err
	st := r.setLocked(next)
	r.mu.Unlock()
	r.emit(ctx, st)
}

func (r *Reconciler) checkConfig() (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &errs.ConfigurationError{Component: r.Name(), Reason: fmt.Sprintf("config check panicked: %v", p)}
		}
	}()
	err = r.provider.CheckConfig()
	if err != nil && !errs.IsConfiguration(err) {
		err = &errs.ConfigurationError{Component: r.Name(), Reason: err.Error()}
	}
	return err
}

// setLocked normalises st and installs it. Callers hold r.mu.
func (r *Reconciler) setLocked(st State) State {
	st.Provider = r.provider.Name()
	st.Generation = r.gen
	st.Error = ""
	if st.Err != nil {
		st.Error = st.Err.Error()
	}
	if st.Status != StatusReady {
		st.Snapshot = nil
		st.HasActiveSubscription = false
		st.Plan = types.PlanFree
	}
	r.state = st
	return st
}

func (r *Reconciler) emit(ctx context.Context, st State) {
	r.mu.Lock()
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(ctx, st)
	}
}

func (r *Reconciler) notify(ctx context.Context, op, userID string, err error, msg string) {
	if r.notifier == nil {
		return
	}
	n := Notification{Kind: NotificationSuccess, Provider: r.Name(), Op: op, UserID: userID, Message: msg, At: time.Now()}
	if err != nil {
		n.Kind = NotificationFailure
		n.Message = fmt.Sprintf("%s failed: %v", op, err)
	}
	r.notifier.Notify(ctx, n)
}

func (r *Reconciler) observe(op string, start time.Time, err error) {
	metrics.EntitlementOps.WithLabelValues(r.Name(), op, metrics.Result(err)).Inc()
	metrics.ProviderLatency.WithLabelValues(r.Name(), op).Observe(metrics.MillisecondsSince(start))
}

func readyState(snap *Snapshot) State {
	if snap == nil {
		snap = NewSnapshot("", nil, nil, time.Now())
	}
	return State{
		Status:                StatusReady,
		Snapshot:              snap,
		HasActiveSubscription: snap.Active,
		Plan:                  snap.Plan,
	}
}

// call turns a panicking provider adapter into an error.
func call[T any](fn func() (T, error)) (out T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("provider panicked: %v", p)
		}
	}()
	return fn()
}
