package entitlement

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fatflowers/subtrack/internal/platform/mq"
	"github.com/fatflowers/subtrack/pkg/logctx"
)

type NotificationKind string

const (
	NotificationSuccess NotificationKind = "success"
	NotificationFailure NotificationKind = "failure"
)

// Notification is a user-facing message about a purchase or restore.
type Notification struct {
	Kind     NotificationKind `json:"kind"`
	Provider string           `json:"provider"`
	Op       string           `json:"op"`
	UserID   string           `json:"user_id"`
	Message  string           `json:"message"`
	At       time.Time        `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Inbox collects notifications so a handler can return them with its response.
type Inbox struct {
	mu    sync.Mutex
	items []Notification
}

func (i *Inbox) Notify(_ context.Context, n Notification) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.items = append(i.items, n)
}

func (i *Inbox) Items() []Notification {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]Notification, len(i.items))
	copy(out, i.items)
	return out
}

// BrokerNotifier forwards notifications to the message broker so other
// channels (push, email) can deliver them.
type BrokerNotifier struct {
	pub        mq.Publisher
	routingKey string
	log        *zap.SugaredLogger
}

func NewBrokerNotifier(pub mq.Publisher, log *zap.SugaredLogger) *BrokerNotifier {
	return &BrokerNotifier{pub: pub, routingKey: "entitlement", log: log}
}

func (b *BrokerNotifier) Notify(ctx context.Context, n Notification) {
	if err := b.pub.Publish(ctx, b.routingKey, n); err != nil {
		logctx.FromCtx(ctx, b.log).Warnw("entitlement notification not published", "op", n.Op, "error", err)
	}
}

// Notifiers fans a notification out to every non-nil notifier.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, n Notification) {
	for _, x := range ns {
		if x != nil {
			x.Notify(ctx, n)
		}
	}
}
