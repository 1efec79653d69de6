package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireStrings(t *testing.T) {
	t.Parallel()

	cases := map[Action]string{
		LightOn:    "LED ON",
		LightOff:   "LED OFF",
		FanOn:      "FAN ON",
		FanOff:     "FAN OFF",
		MediaPlay:  "VIDEO PLAY",
		MediaPause: "VIDEO PAUSE",
		Unknown:    "",
	}
	for a, want := range cases {
		assert.Equal(t, want, a.Wire(), a.String())
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	for _, a := range All {
		assert.True(t, a.Valid(), a.String())
	}
	assert.False(t, Unknown.Valid())
	assert.False(t, Action(42).Valid())
	assert.Equal(t, "UNKNOWN", Action(42).String())
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	for _, a := range All {
		assert.Equal(t, a, Parse(a.Wire()))
	}
	assert.Equal(t, FanOn, Parse("  fan on\n"))
	assert.Equal(t, Unknown, Parse("LED BLINK"))
	assert.Equal(t, Unknown, Parse(""))
}

func TestWireList(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "LED ON, LED OFF, FAN ON, FAN OFF, VIDEO PLAY, VIDEO PAUSE", WireList(", "))
}

func TestCategoriesOnOffDisjoint(t *testing.T) {
	t.Parallel()

	cats := Categories()
	require.Len(t, cats, 3)
	assert.Equal(t, []string{"light", "fan", "media"}, []string{cats[0].Name, cats[1].Name, cats[2].Name})

	for _, c := range cats {
		off := make(map[string]struct{}, len(c.Off))
		for _, p := range c.Off {
			off[p] = struct{}{}
		}
		for _, p := range c.On {
			_, dup := off[p]
			assert.False(t, dup, "%s: %q is both on and off", c.Name, p)
		}
		assert.True(t, c.OffCmd.Valid())
		assert.True(t, c.OnCmd.Valid())
		assert.NotEmpty(t, c.Keywords)
	}
}
