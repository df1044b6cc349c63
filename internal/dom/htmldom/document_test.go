package htmldom

import (
	"context"
	"errors"
	"testing"
	"time"

	"oauthpilot/internal/dom"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const markup = `<html><body>
	<ul id="list">
		<li id="row" role="option"><span id="mail" data-email="buyer@example.com">Buyer <b>Person</b></span></li>
	</ul>
	<button id="go" aria-disabled="true">Continue</button>
	<div hidden><button id="ghost">Hidden</button></div>
	<input id="ok" type="submit" value="Allow">
	<input id="secret" type="hidden" value="x">
</body></html>`

func doc(t *testing.T) *Document {
	t.Helper()
	d, err := New("https://accounts.google.com/o/oauth2/v2/auth", markup)
	require.NoError(t, err)
	return d
}

func TestSnapshot(t *testing.T) {
	d := doc(t)

	mail := d.Find("#mail")[0]
	assert.Equal(t, "span", mail.Tag)
	assert.Equal(t, "Buyer Person", mail.Text)
	assert.Equal(t, "Buyer", mail.OwnText)
	assert.True(t, mail.Visible())

	assert.True(t, d.Find("#go")[0].Disabled)
	assert.False(t, d.Find("#ghost")[0].Visible())
	assert.False(t, d.Find("#secret")[0].Visible())
	assert.Equal(t, "Allow", d.Find("#ok")[0].Value)
}

func TestRefsAreStable(t *testing.T) {
	d := doc(t)
	a := d.Find("#mail")[0].Ref
	b := d.Find("[data-email]")[0].Ref
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, d.Find("#row")[0].Ref)
}

func TestInvalidSelector(t *testing.T) {
	d := doc(t)
	ctx := context.Background()

	els, err := d.QueryAll(ctx, "li[")
	require.Error(t, err)
	assert.Nil(t, els)

	_, err = d.Closest(ctx, d.Find("#mail")[0].Ref, "li[")
	assert.Error(t, err)

	// 合法但无匹配不是错误
	els, err = d.QueryAll(ctx, "table")
	require.NoError(t, err)
	assert.Empty(t, els)
}

func TestClosest(t *testing.T) {
	d := doc(t)
	ctx := context.Background()
	mail := d.Find("#mail")[0]

	row, err := d.Closest(ctx, mail.Ref, `li, [role="option"]`)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "row", row.Attr("id"))

	self, err := d.Closest(ctx, mail.Ref, "span")
	require.NoError(t, err)
	assert.Equal(t, mail.Ref, self.Ref)

	none, err := d.Closest(ctx, mail.Ref, "table")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStaleAfterReplace(t *testing.T) {
	d := doc(t)
	ctx := context.Background()
	mail := d.Find("#mail")[0]

	require.NoError(t, d.SetInnerHTML("#list", `<li>replaced</li>`))
	assert.ErrorIs(t, d.Invoke(ctx, mail.Ref), dom.ErrStaleElement)
	assert.ErrorIs(t, d.ScrollIntoView(ctx, mail.Ref), dom.ErrStaleElement)
	_, err := d.Closest(ctx, mail.Ref, "li")
	assert.ErrorIs(t, err, dom.ErrStaleElement)
	assert.ErrorIs(t, d.Invoke(ctx, "no-such-ref"), dom.ErrStaleElement)
}

func TestActivationsAndFailures(t *testing.T) {
	d := doc(t)
	ctx := context.Background()
	ref := d.Find("#ok")[0].Ref

	var seen []Activation
	d.OnActivate(func(a Activation) { seen = append(seen, a) })
	d.FailOn(TechniquePointer, errors.New("blocked"))

	require.NoError(t, d.Invoke(ctx, ref))
	require.Error(t, d.DispatchPointer(ctx, ref))
	require.NoError(t, d.DispatchClick(ctx, ref))

	want := []Activation{{Ref: ref, Technique: TechniqueInvoke}, {Ref: ref, Technique: TechniqueClick}}
	assert.Equal(t, want, d.Activations())
	assert.Equal(t, want, seen)

	require.NoError(t, d.Navigate(ctx, "https://example.com/next"))
	assert.Equal(t, []string{"https://example.com/next"}, d.Navigations())
	u, err := d.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://accounts.google.com/o/oauth2/v2/auth", u)
}

func TestMutationsReportButtonish(t *testing.T) {
	d := doc(t)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := d.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, d.AppendHTML("#list", `<li><button>Next</button></li>`))
	require.NoError(t, d.SetAttr("#mail", "class", "selected"))
	require.Error(t, d.SetAttr("#missing", "class", "x"))

	m := <-ch
	assert.Equal(t, dom.Mutation{Kind: "childList", Tag: "ul", Buttonish: true}, m)
	m = <-ch
	assert.Equal(t, dom.Mutation{Kind: "attributes", Tag: "span"}, m)

	cancel()
	assert.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestURLChanges(t *testing.T) {
	d := doc(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := d.URLChanges(ctx)
	require.NoError(t, err)

	d.SetURL("https://accounts.google.com/signin/oauth/consent")
	assert.Equal(t, "https://accounts.google.com/signin/oauth/consent", <-ch)
	u, _ := d.URL(ctx)
	assert.Equal(t, "https://accounts.google.com/signin/oauth/consent", u)
}
