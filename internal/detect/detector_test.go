package detect

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"oauthpilot/internal/dom"
	"oauthpilot/internal/dom/htmldom"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func el(tag, text string, attrs ...string) dom.Element {
	e := dom.Element{Tag: tag, Text: text, Attrs: map[string]string{}, Rect: dom.Rect{Width: 10, Height: 10}}
	for i := 0; i+1 < len(attrs); i += 2 {
		e.Attrs[attrs[i]] = attrs[i+1]
	}
	return e
}

func TestClassifyChannels(t *testing.T) {
	d := New("google", 0, nil)
	cases := []struct {
		name string
		el   dom.Element
		want Channel
		ok   bool
	}{
		{"text", el("button", "Sign in with Google"), ChannelText, true},
		{"text login variant", el("a", "Google Login", "href", "/auth"), ChannelText, true},
		{"aria label", el("button", "", "aria-label", "Log in with Google"), ChannelLabel, true},
		{"title", el("button", "", "title", "Signin via Google"), ChannelTitle, true},
		{"idiom class", el("div", "", "class", "btn google-signin-button", "role", "button"), ChannelIdiom, true},
		{"idiom id with provider in data", el("button", "Continue", "id", "g_id_signin", "data-provider", "google"), ChannelIdiom, true},
		{"provider only", el("a", "Google Maps", "href", "https://maps.google.com"), "", false},
		{"action only", el("button", "Sign in"), "", false},
		{"idiom without provider", el("button", "Go", "class", "login-with-email"), "", false},
		{"embedded camel case text", el("button", "GoogleSignIn"), ChannelText, true},
		{"hyphenated action", el("button", "Sign-in with Google"), ChannelText, true},
		{"embedded login", el("a", "googlelogin", "href", "/auth"), ChannelText, true},
		{"camel case idiom class", el("div", "G", "class", "googleSignIn", "role", "button"), ChannelIdiom, true},
		{"underscored idiom id", el("button", "G", "id", "google_sign_in"), ChannelIdiom, true},
		{"provider only embedded", el("button", "GoogleDrive"), "", false},
		{"keywords split across channels", el("button", "Google", "aria-label", "Sign in"), "", false},
		{"input value", dom.Element{Tag: "input", Value: "Sign in with Google", Attrs: map[string]string{"type": "submit"}}, ChannelText, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch, ok := d.Classify(tc.el)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, ch)
		})
	}
}

func TestClassifyProviderKeyword(t *testing.T) {
	d := New("GitHub", 0, nil)
	_, ok := d.Classify(el("button", "Sign in with GitHub"))
	assert.True(t, ok)
	_, ok = d.Classify(el("button", "Sign in with Google"))
	assert.False(t, ok)
}

func TestDetectOnDocument(t *testing.T) {
	doc, err := htmldom.New("https://shop.example.com/checkout", `
<html><body>
  <a href="https://maps.google.com">Google Maps</a>
  <button id="plain">Sign in</button>
  <button id="entry">Sign in with Google</button>
  <div role="button" class="google-login">G</div>
</body></html>`)
	require.NoError(t, err)

	ms, err := New("google", 0, nil).Detect(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "entry", ms[0].Element.Attr("id"))
	assert.Equal(t, ChannelText, ms[0].Channel)
	assert.Equal(t, ChannelIdiom, ms[1].Channel)
}

func TestDetectCandidateLimit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, `<button>Filler %d</button>`, i)
	}
	b.WriteString(`<button>Sign in with Google</button>`)
	doc, err := htmldom.New("https://example.com/", b.String())
	require.NoError(t, err)

	ms, err := New("google", 5, nil).Detect(context.Background(), doc)
	require.NoError(t, err)
	assert.Empty(t, ms)

	ms, err = New("google", 50, nil).Detect(context.Background(), doc)
	require.NoError(t, err)
	assert.Len(t, ms, 1)
}
