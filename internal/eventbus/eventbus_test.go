package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublish_FansOutInRegistrationOrder(t *testing.T) {
	b := New()
	var order []int

	b.Subscribe("x", func(payload any) { order = append(order, 1) })
	b.Subscribe("x", func(payload any) { order = append(order, 2) })
	b.Subscribe("x", func(payload any) { order = append(order, 3) })

	b.Publish("x", nil)
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestPublish_PassesPayload(t *testing.T) {
	b := New()
	var got string
	b.Subscribe("x", func(payload any) { got = payload.(string) })
	b.Publish("x", "hello")
	require.Equal(t, "hello", got)
}

func TestPublish_NoSubscribersIsNoop(t *testing.T) {
	b := New()
	require.NotPanics(t, func() { b.Publish("nobody-home", nil) })
}

func TestPublish_PanicInOneHandlerDoesNotBlockOthers(t *testing.T) {
	b := New()
	var secondCalled bool
	b.Subscribe("x", func(payload any) { panic("boom") })
	b.Subscribe("x", func(payload any) { secondCalled = true })

	require.NotPanics(t, func() { b.Publish("x", nil) })
	require.True(t, secondCalled)
}

func TestUnsubscribe_StopsFutureDispatch(t *testing.T) {
	b := New()
	var calls int
	unsub := b.Subscribe("x", func(payload any) { calls++ })

	b.Publish("x", nil)
	unsub()
	b.Publish("x", nil)

	require.Equal(t, 1, calls)
}

func TestUnsubscribe_DoesNotShiftOtherSubscriberIndices(t *testing.T) {
	b := New()
	var aCalls, cCalls int
	unsubA := b.Subscribe("x", func(payload any) { aCalls++ })
	b.Subscribe("x", func(payload any) {})
	b.Subscribe("x", func(payload any) { cCalls++ })

	unsubA()
	b.Publish("x", nil)

	require.Equal(t, 0, aCalls)
	require.Equal(t, 1, cCalls)
}

func TestSubscribe_EventsAreIndependent(t *testing.T) {
	b := New()
	var xCalls, yCalls int
	b.Subscribe("x", func(payload any) { xCalls++ })
	b.Subscribe("y", func(payload any) { yCalls++ })

	b.Publish("x", nil)
	require.Equal(t, 1, xCalls)
	require.Equal(t, 0, yCalls)
}
