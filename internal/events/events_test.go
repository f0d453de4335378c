package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"vashsender/internal/utils/logger"
)

func TestBus_RunsHandlersInOrder(t *testing.T) {
	bus := NewBus(logger.NewNop())
	var got []string

	bus.On("x", func(data interface{}) { got = append(got, "a:"+data.(string)) })
	bus.On("x", func(data interface{}) { got = append(got, "b:"+data.(string)) })
	bus.On("y", func(interface{}) { got = append(got, "never") })

	bus.Emit("x", "1")

	assert.Equal(t, []string{"a:1", "b:1"}, got)
}

func TestBus_RecoversPanics(t *testing.T) {
	bus := NewBus(logger.NewNop())
	called := false

	bus.On("x", func(interface{}) { panic("boom") })
	bus.On("x", func(interface{}) { called = true })

	assert.NotPanics(t, func() { bus.Emit("x", nil) })
	assert.True(t, called)
}

func TestBus_Off(t *testing.T) {
	bus := NewBus(logger.NewNop())
	count := 0
	bus.On("x", func(interface{}) { count++ })

	bus.Emit("x", nil)
	bus.Off("x")
	bus.Emit("x", nil)

	assert.Equal(t, 1, count)
}

func TestDefaultBus(t *testing.T) {
	t.Cleanup(func() { Off("test.default") })
	var seen interface{}
	On("test.default", func(data interface{}) { seen = data })

	Emit("test.default", 42)

	assert.Equal(t, 42, seen)
}
