// Package reminder runs the periodic subscription job. Each tick rolls
// overdue subscriptions forward, publishes renewal reminders to the broker
// and once a day snapshots every user's plan for statistics.
package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/subtrack/internal/app/service/subscription"
	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/internal/platform/mq"
	"github.com/fatflowers/subtrack/pkg/config"
	"github.com/fatflowers/subtrack/pkg/logctx"
	"github.com/fatflowers/subtrack/pkg/metrics"
	"github.com/fatflowers/subtrack/pkg/tool"
	"github.com/fatflowers/subtrack/pkg/types"
)

// Subscriptions is the write side, owned by the subscription service so
// list caches stay coherent.
type Subscriptions interface {
	RollForward(ctx context.Context, sub *models.Subscription, now time.Time) (bool, error)
	MarkReminded(ctx context.Context, sub *models.Subscription, at time.Time) error
}

const (
	ChannelEmail = "email"
	ChannelPush  = "push"
)

// Message is the reminder body published to the broker.
type Message struct {
	SubscriptionID string             `json:"subscription_id"`
	UserID         string             `json:"user_id"`
	Email          string             `json:"email"`
	Name           string             `json:"name"`
	Amount         int64              `json:"amount"`
	Currency       string             `json:"currency"`
	BillingCycle   types.BillingCycle `json:"billing_cycle"`
	DueDate        time.Time          `json:"due_date"`
	DaysLeft       int                `json:"days_left"`
	Channels       []string           `json:"channels"`
}

// TickResult counts what one tick did.
type TickResult struct {
	RolledForward int
	Reminded      int
	Snapshots     int
}

type Scheduler struct {
	cfg   config.RemindersConfig
	key   string
	store Store
	subs  Subscriptions
	pub   mq.Publisher
	log   *zap.SugaredLogger
	now   func() time.Time

	mu           sync.Mutex
	snapshotDate string
	cancel       context.CancelFunc
	done         chan struct{}
}

func NewScheduler(cfg *config.Config, store Store, subs Subscriptions, pub mq.Publisher, log *zap.SugaredLogger) *Scheduler {
	rc := cfg.Reminders
	if rc.Interval <= 0 {
		rc.Interval = time.Hour
	}
	if rc.BatchSize <= 0 {
		rc.BatchSize = 500
	}
	return &Scheduler{
		cfg:   rc,
		key:   cfg.RabbitMQ.RoutingKey,
		store: store,
		subs:  subs,
		pub:   pub,
		log:   log,
		now:   time.Now,
	}
}

// Start runs a tick right away and then every interval until Stop.
func (s *Scheduler) Start(context.Context) error {
	if !s.cfg.Enabled {
		s.log.Infow("reminder scheduler disabled")
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx)
	s.log.Infow("reminder scheduler started", "interval", s.cfg.Interval)
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("reminder scheduler did not stop: %w", ctx.Err())
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		tickCtx := logctx.WithTraceID(ctx, tool.GenerateUUIDV7())
		if _, err := s.Tick(tickCtx); err != nil && ctx.Err() == nil {
			s.log.Errorw("reminder tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick runs the three steps once. A failing step is logged and does not
// stop the later ones; the first error is returned.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	var res TickResult
	var firstErr error
	keep := func(step string, err error) {
		if err == nil {
			return
		}
		logctx.FromCtx(ctx, s.log).Errorw("reminder step failed", "step", step, "error", err)
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", step, err)
		}
	}

	var err error
	res.RolledForward, err = s.rollForward(ctx, now)
	keep("roll forward", err)
	res.Reminded, err = s.remind(ctx, now)
	keep("remind", err)
	res.Snapshots, err = s.snapshot(ctx, now)
	keep("snapshot", err)

	if res.RolledForward+res.Reminded+res.Snapshots > 0 {
		logctx.FromCtx(ctx, s.log).Infow("reminder tick done",
			"rolled_forward", res.RolledForward, "reminded", res.Reminded, "snapshots", res.Snapshots)
	}
	return res, firstErr
}

func (s *Scheduler) rollForward(ctx context.Context, now time.Time) (int, error) {
	n := 0
	after := ""
	for {
		batch, err := s.store.Due(ctx, now, after, s.cfg.BatchSize)
		if err != nil {
			return n, err
		}
		for _, sub := range batch {
			changed, err := s.subs.RollForward(ctx, sub, now)
			if err != nil {
				logctx.FromCtx(ctx, s.log).Warnw("roll forward failed", "subscription_id", sub.ID, "error", err)
				continue
			}
			if changed {
				n++
			}
		}
		if len(batch) < s.cfg.BatchSize {
			return n, nil
		}
		after = batch[len(batch)-1].ID
	}
}

// remind publishes one message per candidate. Unpublished ones are not
// stamped and are retried next tick.
func (s *Scheduler) remind(ctx context.Context, now time.Time) (int, error) {
	n := 0
	after := ""
	for {
		batch, err := s.store.ReminderCandidates(ctx, now, after, s.cfg.BatchSize)
		if err != nil {
			return n, err
		}
		for _, c := range batch {
			err := s.pub.Publish(ctx, s.key, newMessage(c, now))
			metrics.RemindersPublished.WithLabelValues(metrics.Result(err)).Inc()
			if err != nil {
				return n, fmt.Errorf("publish reminder %s: %w", c.ID, err)
			}
			if err := s.subs.MarkReminded(ctx, &c.Subscription, now); err != nil {
				logctx.FromCtx(ctx, s.log).Warnw("failed to stamp reminder", "subscription_id", c.ID, "error", err)
				continue
			}
			n++
		}
		if len(batch) < s.cfg.BatchSize {
			return n, nil
		}
		after = batch[len(batch)-1].ID
	}
}

func newMessage(c *Candidate, now time.Time) *Message {
	var channels []string
	if c.EmailReminders {
		channels = append(channels, ChannelEmail)
	}
	if c.PushReminders {
		channels = append(channels, ChannelPush)
	}
	return &Message{
		SubscriptionID: c.ID,
		UserID:         c.UserID,
		Email:          c.Email,
		Name:           c.Name,
		Amount:         c.Amount,
		Currency:       c.Currency,
		BillingCycle:   c.BillingCycle,
		DueDate:        c.NextPaymentDate,
		DaysLeft:       daysBetween(now, c.NextPaymentDate),
		Channels:       channels,
	}
}

// daysBetween counts calendar days, so a payment due tomorrow morning is
// one day away even when less than 24h remain.
func daysBetween(from, to time.Time) int {
	y1, m1, d1 := from.UTC().Date()
	y2, m2, d2 := to.UTC().Date()
	a := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	b := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// snapshot writes one plan row per user, once per UTC day.
func (s *Scheduler) snapshot(ctx context.Context, now time.Time) (int, error) {
	date := now.Format(time.DateOnly)
	if s.snapshotDate == date {
		return 0, nil
	}
	n := 0
	after := ""
	for {
		users, err := s.store.Users(ctx, after, s.cfg.BatchSize)
		if err != nil {
			return n, err
		}
		subs, err := s.store.ActiveSubscriptions(ctx, lo.Map(users, func(u *models.User, _ int) string { return u.ID }))
		if err != nil {
			return n, err
		}
		rows := snapshotRows(users, subs, date, now)
		if err := s.store.SaveSnapshots(ctx, rows); err != nil {
			return n, err
		}
		n += len(rows)
		if len(users) < s.cfg.BatchSize {
			break
		}
		after = users[len(users)-1].ID
	}
	s.snapshotDate = date
	return n, nil
}

func snapshotRows(users []*models.User, subs []*models.Subscription, date string, now time.Time) []*models.UserPlanDailySnapshot {
	byUser := lo.GroupBy(subs, func(s *models.Subscription) string { return s.UserID })
	rows := make([]*models.UserPlanDailySnapshot, 0, len(users))
	for _, u := range users {
		plan, expires := types.PlanFree, (*time.Time)(nil)
		if u.PaidPlanActive(now) {
			plan, expires = u.Plan, u.PlanExpiresAt
		}
		spend := datatypes.JSONMap{}
		for _, sub := range byUser[u.ID] {
			cur, _ := spend[sub.Currency].(int64)
			spend[sub.Currency] = cur + sub.BillingCycle.MonthlyAmount(sub.Amount)
		}
		rows = append(rows, &models.UserPlanDailySnapshot{
			ID:                  tool.GenerateUUIDV7(),
			UserID:              u.ID,
			SnapshotDate:        date,
			Plan:                plan,
			PlanExpiresAt:       expires,
			ActiveSubscriptions: len(byUser[u.ID]),
			MonthlySpend:        spend,
			CreatedAt:           now,
		})
	}
	return rows
}

func run(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{OnStart: s.Start, OnStop: s.Stop})
}

var Module = fx.Options(
	fx.Provide(
		NewStore,
		func(s *subscription.Service) Subscriptions { return s },
	),
	fx.Provide(NewScheduler),
	fx.Invoke(run),
)
