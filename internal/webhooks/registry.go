package webhooks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"hookrelay/internal/auth"
	"hookrelay/internal/logger"
	"hookrelay/internal/model"
	"hookrelay/internal/store"
	"hookrelay/internal/trigger"
)

// URLValidator decides whether an endpoint may be registered.
type URLValidator interface {
	Validate(raw string) error
}

type SubscribeInput struct {
	OwnerID     string
	TriggerType string
	URL         string
	Secret      string
}

// Registry owns the lifecycle of subscriptions.
type Registry struct {
	store     store.Subscriptions
	validator URLValidator
	log       *zap.Logger
	now       func() time.Time
}

type RegistryOption func(*Registry)

func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(s store.Subscriptions, v URLValidator, opts ...RegistryOption) *Registry {
	r := &Registry{store: s, validator: v, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers an endpoint for the caller. OwnerID defaults to the caller's
// credential and may not name another one.
func (r *Registry) Subscribe(ctx context.Context, p model.Principal, in SubscribeInput) (model.Subscription, error) {
	owner := strings.TrimSpace(in.OwnerID)
	if owner == "" {
		owner = p.CredentialID
	}
	if owner != p.CredentialID {
		return model.Subscription{}, fmt.Errorf("%w: credential %q cannot subscribe on behalf of %q", ErrForbidden, p.CredentialID, owner)
	}

	typ, err := trigger.Parse(in.TriggerType)
	if err != nil {
		return model.Subscription{}, fmt.Errorf("%w: %q", ErrUnknownTrigger, in.TriggerType)
	}
	h, _ := trigger.Lookup(typ)
	if !auth.HasScope(p.Scopes, h.RequiredScope()) {
		return model.Subscription{}, fmt.Errorf("%w: scope %q required for %s", ErrForbidden, h.RequiredScope(), typ)
	}

	url := strings.TrimSpace(in.URL)
	if err := r.validator.Validate(url); err != nil {
		return model.Subscription{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	secret := in.Secret
	if secret == "" {
		if secret, err = GenerateSecret(); err != nil {
			return model.Subscription{}, err
		}
	}

	sub, err := r.store.CreateSubscription(ctx, model.Subscription{
		OwnerID:     owner,
		TriggerType: typ.String(),
		WebhookURL:  url,
		Secret:      secret,
		Active:      true,
		CreatedAt:   r.now().UTC(),
	})
	if err != nil {
		return model.Subscription{}, err
	}
	r.log.Info("webhook subscribed", logger.Subscription(sub.ID), logger.Owner(owner), zap.String("trigger_type", sub.TriggerType))
	return sub, nil
}

func (r *Registry) List(ctx context.Context, ownerID string) ([]model.Subscription, error) {
	return r.store.ListSubscriptions(ctx, ownerID)
}

// Get returns a subscription owned by ownerID.
func (r *Registry) Get(ctx context.Context, id, ownerID string) (model.Subscription, error) {
	sub, err := r.store.GetSubscription(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && sub.OwnerID != ownerID) {
		return model.Subscription{}, ErrNotFound
	}
	return sub, err
}

// Unsubscribe deletes an active subscription owned by ownerID.
func (r *Registry) Unsubscribe(ctx context.Context, id, ownerID string) error {
	err := r.store.DeleteActiveSubscription(ctx, id, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	r.log.Info("webhook unsubscribed", logger.Subscription(id), logger.Owner(ownerID))
	return nil
}

// Disable deactivates a subscription. Reactivation requires subscribing again.
func (r *Registry) Disable(ctx context.Context, id, reason string) error {
	err := r.store.DisableSubscription(ctx, id, reason, r.now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	r.log.Warn("webhook disabled", logger.Subscription(id), zap.String("reason", reason))
	return nil
}

// GenerateSecret returns 32 random bytes as lowercase hex.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
