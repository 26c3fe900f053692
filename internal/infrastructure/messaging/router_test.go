package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func event(id string, msgType MessageType) Event {
	return Event{Envelope: Envelope{Type: msgType}, StreamID: id, Stream: "test"}
}

// recorder is a handler that remembers the groups it was invoked with.
type recorder struct {
	name  string
	types []MessageType
	err   error
	panic bool
	calls [][]Event
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) IsHandle(e Event) bool { return OfType(r.types...)(e) }

func (r *recorder) Handle(_ context.Context, events []Event) error {
	r.calls = append(r.calls, events)
	if r.panic {
		panic("boom")
	}
	return r.err
}

func TestRouterIsolatesFailingHandler(t *testing.T) {
	for _, tc := range []struct {
		name   string
		failer *recorder
	}{
		{"error", &recorder{name: "history", types: []MessageType{MsgProductHistory}, err: errors.New("sink down")}},
		{"panic", &recorder{name: "history", types: []MessageType{MsgProductHistory}, panic: true}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			first := &recorder{name: "snapshot", types: []MessageType{MsgProductSnapshot}}
			third := &recorder{name: "category", types: []MessageType{MsgCategoryTree}}
			router := NewRouter(zap.NewNop(), first, tc.failer, third)

			result := router.Dispatch(context.Background(), []Event{
				event("1-0", MsgProductSnapshot),
				event("2-0", MsgProductHistory),
				event("3-0", MsgCategoryTree),
			})

			require.Len(t, first.calls, 1)
			require.Len(t, third.calls, 1)
			assert.Equal(t, "1-0", first.calls[0][0].StreamID)
			assert.Equal(t, "3-0", third.calls[0][0].StreamID)

			assert.Equal(t, 2, result.Handled)
			require.Len(t, result.Failures, 1)
			assert.Equal(t, "history", result.Failures[0].Handler)
			assert.Equal(t, map[string]struct{}{"2-0": {}}, result.Failed())
			assert.Error(t, result.Err())
		})
	}
}

func TestRouterFirstMatchWins(t *testing.T) {
	a := &recorder{name: "a", types: []MessageType{MsgProductSnapshot}}
	b := &recorder{name: "b", types: []MessageType{MsgProductSnapshot, MsgProductHistory}}
	router := NewRouter(zap.NewNop(), a, b)

	result := router.Dispatch(context.Background(), []Event{
		event("1-0", MsgProductSnapshot),
		event("2-0", MsgProductHistory),
		event("3-0", MsgProductSnapshot),
	})

	require.Len(t, a.calls, 1, "each group is invoked once per batch")
	assert.Len(t, a.calls[0], 2)
	require.Len(t, b.calls, 1)
	assert.Equal(t, "2-0", b.calls[0][0].StreamID)
	assert.Equal(t, 3, result.Handled)
	assert.NoError(t, result.Err())
}

func TestRouterDropsUnroutedEvents(t *testing.T) {
	a := &recorder{name: "a", types: []MessageType{MsgProductSnapshot}}
	router := NewRouter(zap.NewNop(), a)

	result := router.Dispatch(context.Background(), []Event{
		event("1-0", "unknown.type"),
		event("2-0", MsgCategoryTree),
	})

	assert.Empty(t, a.calls)
	assert.Equal(t, 2, result.Unrouted)
	assert.Zero(t, result.Handled)
	assert.NoError(t, result.Err())
}

func TestRouterRegisterAndNewHandler(t *testing.T) {
	var got []string
	router := NewRouter(zap.NewNop())
	router.Register(NewHandler("ids", func(Event) bool { return true }, func(_ context.Context, events []Event) error {
		for _, e := range events {
			got = append(got, e.StreamID)
		}
		return nil
	}))

	result := router.Dispatch(context.Background(), []Event{event("1-0", "x"), event("2-0", "y")})
	assert.Equal(t, []string{"1-0", "2-0"}, got)
	assert.Equal(t, 2, result.Handled)
}

func TestHandlerErrorUnwraps(t *testing.T) {
	cause := errors.New("store unavailable")
	result := DispatchResult{Failures: []*HandlerError{{Handler: "snapshot", Err: cause}}}
	assert.ErrorIs(t, result.Err(), cause)
}

func envelopePayload(t *testing.T, msgType MessageType, data interface{}) []byte {
	t.Helper()
	env, err := NewEnvelope(msgType, "test", data)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}

func TestDecode(t *testing.T) {
	msg := StreamMessage{ID: "5-0", Stream: "s", Payload: envelopePayload(t, MsgProductSnapshot, map[string]int{"id": 7})}
	ev, err := Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, MsgProductSnapshot, ev.Type)
	assert.Equal(t, "5-0", ev.StreamID)
	assert.NotEmpty(t, ev.MessageID)

	var data struct{ ID int }
	require.NoError(t, ev.Unmarshal(&data))
	assert.Equal(t, 7, data.ID)

	_, err = Decode(StreamMessage{ID: "6-0", Payload: []byte("not json")})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = Decode(StreamMessage{ID: "7-0", Payload: []byte(`{"data":{}}`)})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestProcessorDropsMalformed(t *testing.T) {
	h := &recorder{name: "snapshot", types: []MessageType{MsgProductSnapshot}}
	p := NewProcessor(NewRouter(zap.NewNop(), h), zap.NewNop())

	result := p.Process(context.Background(), []StreamMessage{
		{ID: "1-0", Stream: "s", Payload: []byte("{broken")},
		{ID: "2-0", Stream: "s", Payload: envelopePayload(t, MsgProductSnapshot, struct{}{})},
	})

	require.Len(t, result.Malformed, 1)
	assert.Equal(t, "1-0", result.Malformed[0].ID)
	require.Len(t, result.Events, 1)
	assert.Equal(t, 1, result.Dispatch.Handled)

	// a malformed payload alone is not a handler failure
	assert.NoError(t, p.OnMessage(context.Background(), StreamMessage{ID: "3-0", Payload: []byte("x")}))
}
