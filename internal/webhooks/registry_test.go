package webhooks_test

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrelay/internal/model"
	"hookrelay/internal/store"
	"hookrelay/internal/urlguard"
	"hookrelay/internal/webhooks"
)

func TestSubscribe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := webhooks.NewRegistry(store.NewMemory(), urlguard.New())
	p := model.Principal{CredentialID: "key_a", Scopes: []string{"analysis.read"}}

	sub, err := reg.Subscribe(ctx, p, webhooks.SubscribeInput{TriggerType: "analysis.completed", URL: "https://example.com/hook"})
	require.NoError(t, err)
	assert.Equal(t, "key_a", sub.OwnerID)
	assert.True(t, sub.Active)
	secret, err := hex.DecodeString(sub.Secret)
	require.NoError(t, err)
	assert.Len(t, secret, 32)

	sub, err = reg.Subscribe(ctx, p, webhooks.SubscribeInput{OwnerID: "key_a", TriggerType: " Analysis.Failed ", URL: "https://example.com/hook", Secret: "mine"})
	require.NoError(t, err)
	assert.Equal(t, "analysis.failed", sub.TriggerType)
	assert.Equal(t, "mine", sub.Secret)
}

func TestSubscribeErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := webhooks.NewRegistry(store.NewMemory(), urlguard.New())
	p := model.Principal{CredentialID: "key_a", Scopes: []string{"analysis.*"}}

	tests := []struct {
		name string
		in   webhooks.SubscribeInput
		want error
	}{
		{"http url", webhooks.SubscribeInput{TriggerType: "analysis.completed", URL: "http://example.com/hook"}, webhooks.ErrInvalidURL},
		{"private host", webhooks.SubscribeInput{TriggerType: "analysis.completed", URL: "https://10.0.0.5/hook"}, webhooks.ErrInvalidURL},
		{"unknown trigger", webhooks.SubscribeInput{TriggerType: "user.deleted", URL: "https://example.com/hook"}, webhooks.ErrUnknownTrigger},
		{"missing scope", webhooks.SubscribeInput{TriggerType: "crm.synced", URL: "https://example.com/hook"}, webhooks.ErrForbidden},
		{"other owner", webhooks.SubscribeInput{OwnerID: "key_b", TriggerType: "analysis.completed", URL: "https://example.com/hook"}, webhooks.ErrForbidden},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := reg.Subscribe(ctx, p, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := reg.Subscribe(ctx, p, webhooks.SubscribeInput{TriggerType: "analysis.completed", URL: "http://example.com/hook"})
	assert.ErrorIs(t, err, urlguard.ErrInvalidURL, "validator error stays in the chain")

	list, err := reg.List(ctx, "key_a")
	require.NoError(t, err)
	assert.Empty(t, list, "nothing persisted on failure")
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := webhooks.NewRegistry(store.NewMemory(), urlguard.New())
	sub, err := reg.Subscribe(ctx, owner, webhooks.SubscribeInput{TriggerType: "report.generated", URL: "https://example.com/hook"})
	require.NoError(t, err)

	assert.ErrorIs(t, reg.Unsubscribe(ctx, sub.ID, "key_b"), webhooks.ErrNotFound)
	require.NoError(t, reg.Unsubscribe(ctx, sub.ID, "key_a"))
	assert.ErrorIs(t, reg.Unsubscribe(ctx, sub.ID, "key_a"), webhooks.ErrNotFound)
	assert.ErrorIs(t, reg.Unsubscribe(ctx, "does-not-exist", "key_a"), webhooks.ErrNotFound)
}

func TestUnsubscribeDisabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := webhooks.NewRegistry(store.NewMemory(), urlguard.New())
	sub, err := reg.Subscribe(ctx, owner, webhooks.SubscribeInput{TriggerType: "report.generated", URL: "https://example.com/hook"})
	require.NoError(t, err)
	require.NoError(t, reg.Disable(ctx, sub.ID, "manual"))

	assert.ErrorIs(t, reg.Unsubscribe(ctx, sub.ID, "key_a"), webhooks.ErrNotFound)
	assert.ErrorIs(t, reg.Disable(ctx, "missing", "x"), webhooks.ErrNotFound)
}

func TestGetChecksOwner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := webhooks.NewRegistry(store.NewMemory(), urlguard.New())
	sub, err := reg.Subscribe(ctx, owner, webhooks.SubscribeInput{TriggerType: "document.uploaded", URL: "https://example.com/hook"})
	require.NoError(t, err)

	got, err := reg.Get(ctx, sub.ID, "key_a")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)

	_, err = reg.Get(ctx, sub.ID, "key_b")
	assert.ErrorIs(t, err, webhooks.ErrNotFound)
}
