package subscription

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fatflowers/subtrack/internal/app/session"
	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/pkg/logctx"
)

// ErrNoIdentity is returned by a Collection whose session has no user.
var ErrNoIdentity = errors.New("no authenticated user")

// Store is what a Collection reads and writes through.
type Store interface {
	List(ctx context.Context, userID string) ([]*models.Subscription, error)
	Create(ctx context.Context, userID string, in *CreateInput) (*models.Subscription, error)
	Update(ctx context.Context, userID, id string, in *UpdateInput) (*models.Subscription, error)
	Delete(ctx context.Context, userID, id string) error
	MarkPaid(ctx context.Context, userID, id string, paidAt *time.Time) (*models.Subscription, error)
}

// View is a point-in-time copy of a Collection.
type View struct {
	Items   []*models.Subscription `json:"items"`
	Loading bool                   `json:"loading"`
	Err     error                  `json:"-"`
	Error   string                 `json:"error,omitempty"`
}

// Collection holds the caller's subscriptions for one session. Every
// successful mutation is followed by a full reload; failures are kept in
// the view as well as returned.
type Collection struct {
	store Store
	sess  *session.Session
	log   *zap.SugaredLogger

	mu          sync.Mutex
	items       []*models.Subscription
	loading     bool
	err         error
	gen         uint64
	unsubscribe func()
}

func NewCollection(store Store, sess *session.Session, log *zap.SugaredLogger) *Collection {
	c := &Collection{store: store, sess: sess, log: log, items: []*models.Subscription{}}
	c.unsubscribe = sess.OnIdentityChange(c.onIdentityChange)
	return c
}

func (c *Collection) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{Items: append([]*models.Subscription(nil), c.items...), Loading: c.loading, Err: c.err}
	if v.Items == nil {
		v.Items = []*models.Subscription{}
	}
	if c.err != nil {
		v.Error = c.err.Error()
	}
	return v
}

// Refresh reloads the list. On failure the previous items stay visible.
func (c *Collection) Refresh(ctx context.Context) error {
	userID, err := c.userID()
	if err != nil {
		return c.fail(err)
	}
	c.mu.Lock()
	c.loading = true
	gen := c.gen
	c.mu.Unlock()

	rows, err := c.store.List(ctx, userID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil
	}
	c.loading = false
	if err != nil {
		c.err = err
		logctx.FromCtx(ctx, c.log).Warnw("subscription list refresh failed", "user_id", userID, "error", err)
		return err
	}
	c.items = rows
	c.err = nil
	return nil
}

func (c *Collection) Create(ctx context.Context, in *CreateInput) (*models.Subscription, error) {
	return mutate(ctx, c, func(userID string) (*models.Subscription, error) {
		return c.store.Create(ctx, userID, in)
	})
}

func (c *Collection) Update(ctx context.Context, id string, in *UpdateInput) (*models.Subscription, error) {
	return mutate(ctx, c, func(userID string) (*models.Subscription, error) {
		return c.store.Update(ctx, userID, id, in)
	})
}

func (c *Collection) Delete(ctx context.Context, id string) error {
	_, err := mutate(ctx, c, func(userID string) (struct{}, error) {
		return struct{}{}, c.store.Delete(ctx, userID, id)
	})
	return err
}

func (c *Collection) MarkPaid(ctx context.Context, id string, paidAt *time.Time) (*models.Subscription, error) {
	return mutate(ctx, c, func(userID string) (*models.Subscription, error) {
		return c.store.MarkPaid(ctx, userID, id, paidAt)
	})
}

func (c *Collection) Dispose() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.gen++
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// mutate runs fn for the current user and reloads the list when it succeeds.
func mutate[T any](ctx context.Context, c *Collection, fn func(userID string) (T, error)) (T, error) {
	var zero T
	userID, err := c.userID()
	if err != nil {
		return zero, c.fail(err)
	}
	out, err := fn(userID)
	if err != nil {
		return zero, c.fail(err)
	}
	if err := c.Refresh(ctx); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Collection) userID() (string, error) {
	id, ok := c.sess.Identity()
	if !ok {
		return "", ErrNoIdentity
	}
	return id.UserID, nil
}

func (c *Collection) fail(err error) error {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	return err
}

// onIdentityChange drops everything loaded for the previous user.
func (c *Collection) onIdentityChange(_, _ *session.Identity) {
	c.mu.Lock()
	c.gen++
	c.items = []*models.Subscription{}
	c.loading = false
	c.err = nil
	c.mu.Unlock()
}
