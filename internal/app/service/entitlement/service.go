package entitlement

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/subtrack/internal/app/session"
	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/pkg/config"
	"github.com/fatflowers/subtrack/pkg/logctx"
	"github.com/fatflowers/subtrack/pkg/types"
)

// PlanWriter stores the authoritative plan on the user row and audits the
// change. It reports whether anything changed.
type PlanWriter interface {
	ApplyPlan(ctx context.Context, userID string, next models.EntitlementState, reason types.SubscriptionChangeReason) (bool, error)
}

type Params struct {
	fx.In

	Cfg       *config.Config
	Providers []Provider `group:"entitlement_providers"`
	Writer    PlanWriter
	Broker    *BrokerNotifier `optional:"true"`
	Log       *zap.SugaredLogger
}

type Service struct {
	source    string
	providers []Provider
	writer    PlanWriter
	notifier  Notifier
	log       *zap.SugaredLogger
}

func NewService(p Params) (*Service, error) {
	found := false
	for _, prov := range p.Providers {
		if prov.Name() == p.Cfg.Entitlement.Source {
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("entitlement source %q has no registered provider", p.Cfg.Entitlement.Source)
	}
	var notifier Notifier
	if p.Broker != nil {
		notifier = p.Broker
	}
	return &Service{
		source:    p.Cfg.Entitlement.Source,
		providers: p.Providers,
		writer:    p.Writer,
		notifier:  notifier,
		log:       p.Log,
	}, nil
}

var Module = fx.Options(
	fx.Provide(NewBrokerNotifier),
	fx.Provide(NewService),
)

// Source names the provider whose state is written to the user row.
func (s *Service) Source() string { return s.source }

// Set is the reconcilers mounted on one session.
type Set struct {
	source      string
	order       []string
	reconcilers map[string]*Reconciler
}

// Open mounts and starts one reconciler per provider on sess. extra
// receives purchase and restore notifications next to the broker.
func (s *Service) Open(ctx context.Context, sess *session.Session, extra Notifier) *Set {
	set := &Set{source: s.source, reconcilers: map[string]*Reconciler{}}
	notifier := Notifiers{s.notifier, extra}
	for _, p := range s.providers {
		r := NewReconciler(p, sess, notifier, s.log)
		if p.Name() == s.source {
			r.OnChange(func(ctx context.Context, st State) { s.persist(ctx, sess, st) })
		}
		set.order = append(set.order, p.Name())
		set.reconcilers[p.Name()] = r
	}
	for _, name := range set.order {
		set.reconcilers[name].Start(ctx)
	}
	return set
}

// Sync reconciles every provider for id once and returns the states. It
// is used after webhooks so the user row follows provider-side changes.
func (s *Service) Sync(ctx context.Context, id session.Identity) []State {
	sess := session.New()
	sess.Init(&id)
	set := s.Open(ctx, sess, nil)
	defer func() {
		set.Dispose()
		sess.Dispose()
	}()
	return set.States()
}

// Offerings lists packages of every configured provider.
func (s *Service) Offerings(ctx context.Context) ([]Offering, error) {
	var out []Offering
	for _, p := range s.providers {
		if p.CheckConfig() != nil {
			continue
		}
		items, err := p.Offerings(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s offerings: %w", p.Name(), err)
		}
		out = append(out, items...)
	}
	return out, nil
}

func (s *Service) persist(ctx context.Context, sess *session.Session, st State) {
	if st.Status != StatusReady || st.Err != nil || st.Snapshot == nil {
		return
	}
	id, ok := sess.Identity()
	if !ok {
		return
	}
	next := models.EntitlementState{Plan: st.Plan, ExpiresAt: st.Snapshot.ExpiresAt, Source: st.Provider}
	changed, err := s.writer.ApplyPlan(ctx, id.UserID, next, types.UserSubscriptionChangeReasonSync)
	log := logctx.FromCtx(ctx, s.log)
	if err != nil {
		log.Errorw("failed to persist plan", "user_id", id.UserID, "provider", st.Provider, "error", err)
		return
	}
	if changed {
		log.Infow("user plan updated", "user_id", id.UserID, "plan", next.Plan, "provider", st.Provider)
	}
}

func (set *Set) Get(name string) (*Reconciler, bool) {
	r, ok := set.reconcilers[name]
	return r, ok
}

func (set *Set) Authoritative() *Reconciler {
	return set.reconcilers[set.source]
}

func (set *Set) States() []State {
	out := make([]State, 0, len(set.order))
	for _, name := range set.order {
		out = append(out, set.reconcilers[name].State())
	}
	return out
}

// Effective is the plan the rest of the system acts on.
type Effective struct {
	Source    string     `json:"source"`
	Status    Status     `json:"status"`
	Plan      types.Plan `json:"plan"`
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// Effective reads only the authoritative reconciler. Anything but ready
// means free.
func (set *Set) Effective() Effective {
	st := set.Authoritative().State()
	e := Effective{Source: set.source, Status: st.Status, Plan: st.Plan, Active: st.HasActiveSubscription}
	if st.Status == StatusReady && st.Snapshot != nil {
		e.ExpiresAt = st.Snapshot.ExpiresAt
	}
	return e
}

func (set *Set) Dispose() {
	for _, r := range set.reconcilers {
		r.Dispose()
	}
}
