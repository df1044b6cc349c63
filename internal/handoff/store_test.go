package handoff

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"oauthpilot/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyKV 前 failures 次 Set 失败
type flakyKV struct {
	*MemoryKV
	mu       sync.Mutex
	failures int
	sets     int
}

func (f *flakyKV) Set(ctx context.Context, rec Record) error {
	f.mu.Lock()
	f.sets++
	fail := f.sets <= f.failures
	f.mu.Unlock()
	if fail {
		return errors.New("quota exceeded")
	}
	return f.MemoryKV.Set(ctx, rec)
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryKV(), Options{})

	st, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.HandoffState{}, st)

	require.NoError(t, s.Save(ctx, model.HandoffState{TargetIdentity: "buyer@example.com", Authorized: true}))
	st, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", st.TargetIdentity)
	assert.True(t, st.Authorized)

	require.NoError(t, s.Clear(ctx))
	st, err = s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, st.Authorized)
	assert.Empty(t, st.TargetIdentity)
}

func TestStoreMalformedRecordIsUnauthorized(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		rec  Record
	}{
		{"string flag", Record{KeyTargetIdentity: "a@example.com", KeyAuthorized: "true"}},
		{"missing identity", Record{KeyAuthorized: true}},
		{"non-string identity", Record{KeyTargetIdentity: 42, KeyAuthorized: true}},
		{"only identity", Record{KeyTargetIdentity: "a@example.com"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kv := NewMemoryKV()
			require.NoError(t, kv.Set(ctx, tc.rec))
			st, err := New(kv, Options{}).Load(ctx)
			require.NoError(t, err)
			assert.False(t, st.Authorized)
		})
	}
}

func TestStoreSaveWritesBothKeysAtOnce(t *testing.T) {
	kv := &flakyKV{MemoryKV: NewMemoryKV()}
	s := New(kv, Options{})
	require.NoError(t, s.Save(context.Background(), model.HandoffState{TargetIdentity: "a@example.com", Authorized: true}))
	assert.Equal(t, 1, kv.sets)
}

func TestStoreSaveRetries(t *testing.T) {
	kv := &flakyKV{MemoryKV: NewMemoryKV(), failures: 2}
	s := New(kv, Options{Attempts: 3, Delay: time.Millisecond})
	require.NoError(t, s.Save(context.Background(), model.HandoffState{TargetIdentity: "a@example.com", Authorized: true}))
	assert.Equal(t, 3, kv.sets)

	st, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Authorized)
}

func TestStoreSaveGivesUp(t *testing.T) {
	kv := &flakyKV{MemoryKV: NewMemoryKV(), failures: 10}
	s := New(kv, Options{Attempts: 2, Delay: time.Millisecond})
	err := s.Save(context.Background(), model.HandoffState{TargetIdentity: "a@example.com", Authorized: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Equal(t, 2, kv.sets)
}

func TestStoreBackendFailure(t *testing.T) {
	kv := NewMemoryKV()
	boom := errors.New("storage unavailable")
	kv.SetFail(boom)
	s := New(kv, Options{})

	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, s.Clear(context.Background()), boom)
}
