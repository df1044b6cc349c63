package activation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"oauthpilot/internal/dom"
	"oauthpilot/internal/dom/htmldom"
	"oauthpilot/internal/handoff"
	"oauthpilot/internal/notify"
	"oauthpilot/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu     sync.Mutex
	active bool
	ends   int
	after  []time.Duration
}

func (s *fakeSession) BeginLogin(model.RuleID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return false
	}
	s.active = true
	return true
}

func (s *fakeSession) EndLogin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.ends++
}

func (s *fakeSession) After(d time.Duration, _ func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.after = append(s.after, d)
}

var rule = model.Rule{ID: "shop", Pattern: "https://shop.example.com/*", Identity: "buyer@example.com"}

func setup(t *testing.T, markup string) (*htmldom.Document, *handoff.Store, *handoff.MemoryKV, *notify.Recorder, *Engine) {
	t.Helper()
	doc, err := htmldom.New("https://shop.example.com/checkout", markup)
	require.NoError(t, err)
	kv := handoff.NewMemoryKV()
	store := handoff.New(kv, handoff.Options{})
	rec := &notify.Recorder{}
	e := New(Config{Store: store, Notifier: rec, ResetDelay: 15 * time.Second})
	return doc, store, kv, rec, e
}

func TestClassify(t *testing.T) {
	mk := func(tag string, attrs ...string) dom.Element {
		e := dom.Element{Tag: tag, Attrs: map[string]string{}}
		for i := 0; i+1 < len(attrs); i += 2 {
			e.Attrs[attrs[i]] = attrs[i+1]
		}
		return e
	}
	assert.Equal(t, KindRedirect, Classify(mk("a", "href", "/auth/google")))
	assert.Equal(t, KindRedirect, Classify(mk("a", "href", "https://accounts.google.com/o/oauth2/auth")))
	assert.Equal(t, KindPopup, Classify(mk("a", "href", "/auth/google", "target", "_blank")))
	assert.Equal(t, KindPopup, Classify(mk("a", "href", "#")))
	assert.Equal(t, KindPopup, Classify(mk("a", "href", "JavaScript:void(0)")))
	assert.Equal(t, KindPopup, Classify(mk("a")))
	assert.Equal(t, KindPopup, Classify(mk("button")))
}

func TestActivateRedirectNavigatesAfterSavingHandoff(t *testing.T) {
	doc, store, _, rec, e := setup(t, `<a id="g" href="/auth/google?next=%2Fcheckout">Sign in with Google</a>`)
	sess := &fakeSession{}

	var savedBeforeNav bool
	doc.OnNavigate(func(string) {
		st, err := store.Load(context.Background())
		savedBeforeNav = err == nil && st.Authorized
	})

	el := doc.Find("#g")[0]
	res, err := e.Activate(context.Background(), sess, doc, el, rule)
	require.NoError(t, err)
	assert.Equal(t, KindRedirect, res.Kind)
	assert.True(t, savedBeforeNav)
	assert.Equal(t, []string{"https://shop.example.com/auth/google?next=%2Fcheckout"}, doc.Navigations())
	assert.Empty(t, doc.Activations())

	st, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.HandoffState{TargetIdentity: "buyer@example.com", Authorized: true}, st)

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Signing in as buyer@example.com", msgs[0].Message)
	assert.Equal(t, []time.Duration{15 * time.Second}, sess.after)
}

func TestActivatePopupFiresEveryAdapter(t *testing.T) {
	doc, _, _, _, e := setup(t, `<button id="g">Sign in with Google</button>`)
	el := doc.Find("#g")[0]

	sess := &fakeSession{}
	res, err := e.Activate(context.Background(), sess, doc, el, rule)
	require.NoError(t, err)
	assert.Equal(t, KindPopup, res.Kind)

	var techniques []string
	for _, a := range doc.Activations() {
		assert.Equal(t, el.Ref, a.Ref)
		techniques = append(techniques, a.Technique)
	}
	assert.Equal(t, []string{htmldom.TechniqueInvoke, htmldom.TechniquePointer, htmldom.TechniqueClick}, techniques)
	assert.Empty(t, doc.Navigations())

	// 弹窗型不挂兜底清除，进行中标志由流程转入监视负责
	assert.Empty(t, sess.after)
	assert.True(t, sess.active)
}

func TestActivateIsIdempotentWhileInProgress(t *testing.T) {
	doc, _, _, rec, e := setup(t, `<button id="g">Sign in with Google</button>`)
	el := doc.Find("#g")[0]
	sess := &fakeSession{}

	_, err := e.Activate(context.Background(), sess, doc, el, rule)
	require.NoError(t, err)
	res, err := e.Activate(context.Background(), sess, doc, el, rule)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Len(t, doc.Activations(), 3)
	assert.Len(t, rec.Messages(), 1)
}

func TestActivateStoreFailureIsNotFatal(t *testing.T) {
	doc, _, kv, rec, e := setup(t, `<button id="g">Sign in with Google</button>`)
	kv.SetFail(errors.New("quota exceeded"))
	el := doc.Find("#g")[0]

	res, err := e.Activate(context.Background(), &fakeSession{}, doc, el, rule)
	require.NoError(t, err)
	assert.Equal(t, KindPopup, res.Kind)
	assert.Len(t, doc.Activations(), 3)
	require.Len(t, rec.Messages(), 1)
}

func TestActivatePartialAdapterFailureSucceeds(t *testing.T) {
	doc, _, _, _, e := setup(t, `<button id="g">Sign in with Google</button>`)
	doc.FailOn(htmldom.TechniqueInvoke, errors.New("not a function"))
	el := doc.Find("#g")[0]

	_, err := e.Activate(context.Background(), &fakeSession{}, doc, el, rule)
	require.NoError(t, err)
	assert.Len(t, doc.Activations(), 2)
}

func TestActivateFailureNotifiesAndResets(t *testing.T) {
	doc, _, _, rec, e := setup(t, `<button id="g">Sign in with Google</button>`)
	el := doc.Find("#g")[0]
	require.NoError(t, doc.SetInnerHTML("body", `<p>replaced</p>`))
	sess := &fakeSession{}

	_, err := e.Activate(context.Background(), sess, doc, el, rule)
	require.Error(t, err)
	assert.ErrorIs(t, err, dom.ErrStaleElement)
	assert.Equal(t, 1, sess.ends)
	assert.Empty(t, sess.after)

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Message, "manually")

	// 失败后可以再次发起
	assert.True(t, sess.BeginLogin(rule.ID))
}

type panicPage struct{ dom.Page }

func (panicPage) Invoke(context.Context, string) error { panic("boom") }

func TestActivateRecoversPanic(t *testing.T) {
	doc, _, _, rec, e := setup(t, `<button id="g">Sign in with Google</button>`)
	el := doc.Find("#g")[0]
	sess := &fakeSession{}

	_, err := e.Activate(context.Background(), sess, panicPage{doc}, el, rule)
	require.Error(t, err)
	assert.Equal(t, 1, sess.ends)
	assert.Len(t, rec.Messages(), 1)
}

func TestClickScrollsThenFires(t *testing.T) {
	doc, _, _, _, _ := setup(t, `<button id="g">Continue</button>`)
	el := doc.Find("#g")[0]
	require.NoError(t, Click(context.Background(), doc, el.Ref, nil))
	assert.Equal(t, []string{el.Ref}, doc.Scrolled())
	assert.Len(t, doc.Activations(), 3)
}

func TestFireAllAllFail(t *testing.T) {
	doc, _, _, _, _ := setup(t, `<button id="g">Continue</button>`)
	boom := errors.New("blocked")
	for _, tech := range []string{htmldom.TechniqueInvoke, htmldom.TechniquePointer, htmldom.TechniqueClick} {
		doc.FailOn(tech, boom)
	}
	err := FireAll(context.Background(), doc, doc.Find("#g")[0].Ref, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
