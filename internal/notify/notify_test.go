package notify

import (
	"testing"

	"oauthpilot/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiFansOut(t *testing.T) {
	var a, b Recorder
	var calls int
	m := Multi{&a, nil, &b, Func(func(string, string, string) { calls++ })}
	m.Notify(Title, "Signing in as buyer@example.com", "shop")

	want := []Message{{Title: Title, Message: "Signing in as buyer@example.com", Context: "shop"}}
	assert.Equal(t, want, a.Messages())
	assert.Equal(t, want, b.Messages())
	assert.Equal(t, 1, calls)
}

func TestEventsNeverBlocks(t *testing.T) {
	ch := make(chan model.Event, 1)
	n := Events{Session: "s1", Target: "t1", Ch: ch}
	n.Notify(Title, "first", "ctx")
	n.Notify(Title, "dropped", "ctx")

	require.Len(t, ch, 1)
	evt := <-ch
	assert.Equal(t, "notification", evt.Type)
	assert.Equal(t, model.SessionID("s1"), evt.Session)
	assert.Equal(t, model.TargetID("t1"), evt.Target)
	assert.Equal(t, "first", evt.Message)
	assert.NotZero(t, evt.Timestamp)

	Events{}.Notify(Title, "no channel", "")
	Log{}.Notify(Title, "no logger", "")
}

func TestRecorderReturnsCopy(t *testing.T) {
	var r Recorder
	r.Notify(Title, "one", "")
	msgs := r.Messages()
	msgs[0].Message = "changed"
	assert.Equal(t, "one", r.Messages()[0].Message)
}
