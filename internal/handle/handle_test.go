package handle_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/pairdb/txlog/internal/handle"
	"github.com/devrev/pairdb/txlog/internal/locality"
)

func TestNewHandleStartsAbsent(t *testing.T) {
	h := handle.New(locality.Data{"zone": "a"})
	iface, present := h.Get()
	assert.False(t, present)
	assert.Equal(t, handle.Interface{}, iface)
	assert.Equal(t, locality.Data{"zone": "a"}, h.Locality())
}

func TestSetMarksPresentAndNotifies(t *testing.T) {
	h := handle.New(nil)
	ch := h.OnChange()

	h.Set(handle.Interface{ServerID: "s1", Address: "1.2.3.4:1"})

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("OnChange did not fire on Set")
	}

	iface, present := h.Get()
	require.True(t, present)
	assert.Equal(t, "s1", iface.ServerID)
}

func TestClearMarksAbsentAndNotifies(t *testing.T) {
	h := handle.New(nil)
	h.Set(handle.Interface{ServerID: "s1"})

	ch := h.OnChange()
	h.Clear()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("OnChange did not fire on Clear")
	}

	_, present := h.Get()
	assert.False(t, present)
}

func TestSetNoOpWhenUnchanged(t *testing.T) {
	h := handle.New(nil)
	iface := handle.Interface{ServerID: "s1"}
	h.Set(iface)

	ch := h.OnChange()
	h.Set(iface)

	select {
	case <-ch:
		t.Fatal("OnChange fired on a no-op Set")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestClearNoOpWhenAlreadyAbsent(t *testing.T) {
	h := handle.New(nil)
	ch := h.OnChange()
	h.Clear()

	select {
	case <-ch:
		t.Fatal("OnChange fired on a no-op Clear")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestLocalityClonedOnConstruction(t *testing.T) {
	loc := locality.Data{"zone": "a"}
	h := handle.New(loc)
	loc["zone"] = "b"
	assert.Equal(t, "a", h.Locality()["zone"])
}
