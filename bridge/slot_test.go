package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlotInstallLeavesPreviousOpen(t *testing.T) {
	var slot pluginSlot
	first := &Connection{id: "first", closed: make(chan struct{})}
	second := &Connection{id: "second", closed: make(chan struct{})}

	assert.Nil(t, slot.install(first))
	assert.Nil(t, slot.install(first))
	previous := slot.install(second)
	assert.Same(t, first, previous)
	assert.True(t, previous.Open())
	assert.True(t, slot.is(second))
	assert.False(t, slot.is(first))
}

func TestSlotUnlockedWhileReplacedPluginCloses(t *testing.T) {
	var slot pluginSlot
	slot.install(&Connection{id: "first", closed: make(chan struct{})})
	slot.install(&Connection{id: "second", closed: make(chan struct{})})

	got := make(chan *Connection, 1)
	go func() { got <- slot.get() }()
	select {
	case c := <-got:
		assert.Equal(t, "second", c.ID())
	case <-time.After(time.Second):
		t.Fatal("slot lock held after install")
	}
	assert.False(t, slot.clearIf(nil))
	assert.Equal(t, "second", slot.take().ID())
	assert.Nil(t, slot.get())
}
