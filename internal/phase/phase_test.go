package phase

import (
	"context"
	"errors"
	"testing"

	"oauthpilot/internal/config"
	"oauthpilot/internal/handoff"
	"oauthpilot/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	c := NewClassifier(config.DefaultProvider())
	cases := []struct {
		url  string
		want model.Phase
	}{
		{"https://accounts.google.com/o/oauth2/v2/auth?client_id=x", model.PhaseChooser},
		{"https://accounts.google.com/signin/oauth/identifier", model.PhaseChooser},
		{"https://accounts.google.com/AccountChooser?continue=x", model.PhaseChooser},
		{"https://accounts.google.com/signin/oauth/consent?authuser=0", model.PhaseConfirmation},
		{"https://accounts.google.com/signin/oauth/id?authuser=0", model.PhaseConfirmation},
		{"https://accounts.google.com/signin/oauth/v2/consentsummary", model.PhaseConfirmation},
		{"https://accounts.google.com/o/oauth2/approval/v2", model.PhaseConfirmation},
		{"https://accounts.google.com/ServiceLogin", model.PhaseNone},
		{"https://shop.example.com/o/oauth2/callback", model.PhaseNone},
		{"https://accounts.google.com.evil.example/o/oauth2/auth", model.PhaseNone},
		{"not a url", model.PhaseNone},
	}
	for _, tc := range cases {
		t.Run(tc.url, func(t *testing.T) {
			assert.Equal(t, tc.want, c.Classify(tc.url))
		})
	}
}

func TestIsProvider(t *testing.T) {
	c := NewClassifier(config.DefaultProvider())
	assert.True(t, c.IsProvider("https://accounts.google.com/ServiceLogin"))
	assert.False(t, c.IsProvider("https://shop.example.com/"))
}

func TestGateAdmit(t *testing.T) {
	ctx := context.Background()

	t.Run("nil store", func(t *testing.T) {
		_, ok := NewGate(nil, nil).Admit(ctx, model.PhaseChooser)
		assert.False(t, ok)
	})

	t.Run("no handoff", func(t *testing.T) {
		s := handoff.New(handoff.NewMemoryKV(), handoff.Options{})
		_, ok := NewGate(s, nil).Admit(ctx, model.PhaseChooser)
		assert.False(t, ok)
	})

	t.Run("authorized", func(t *testing.T) {
		s := handoff.New(handoff.NewMemoryKV(), handoff.Options{})
		require.NoError(t, s.Save(ctx, model.HandoffState{TargetIdentity: "a@example.com", Authorized: true}))
		st, ok := NewGate(s, nil).Admit(ctx, model.PhaseConfirmation)
		assert.True(t, ok)
		assert.Equal(t, "a@example.com", st.TargetIdentity)
	})

	t.Run("read failure", func(t *testing.T) {
		kv := handoff.NewMemoryKV()
		s := handoff.New(kv, handoff.Options{})
		require.NoError(t, s.Save(ctx, model.HandoffState{TargetIdentity: "a@example.com", Authorized: true}))
		kv.SetFail(errors.New("unavailable"))
		_, ok := NewGate(s, nil).Admit(ctx, model.PhaseChooser)
		assert.False(t, ok)
	})

	t.Run("rereads every call", func(t *testing.T) {
		s := handoff.New(handoff.NewMemoryKV(), handoff.Options{})
		g := NewGate(s, nil)
		require.NoError(t, s.Save(ctx, model.HandoffState{TargetIdentity: "a@example.com", Authorized: true}))
		_, ok := g.Admit(ctx, model.PhaseChooser)
		require.True(t, ok)
		require.NoError(t, s.Clear(ctx))
		_, ok = g.Admit(ctx, model.PhaseConfirmation)
		assert.False(t, ok)
	})
}
