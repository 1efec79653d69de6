package action

// Category groups the phrases that identify one device and its two states.
// Off is always consulted before On.
type Category struct {
	Name     string
	Keywords []string
	Off      []string
	On       []string
	OffCmd   Action
	OnCmd    Action
}

var categories = []Category{
	{
		Name:     "light",
		Keywords: []string{"light", "lights", "lamp", "led", "illumination", "illuminate", "bright"},
		Off: []string{
			"off", "stop", "deactivate", "dim", "disable", "turn off", "switch off",
			"extinguish", "shut off", "kill", "darken", "unlight",
		},
		On: []string{
			"on", "start", "activate", "turn on", "switch on", "brighten", "enable",
			"light it up", "ignite", "illumine",
		},
		OffCmd: LightOff,
		OnCmd:  LightOn,
	},
	{
		Name:     "fan",
		Keywords: []string{"fan", "breeze"},
		Off:      []string{"off", "stop", "deactivate", "turn off", "switch off", "kill"},
		On:       []string{"on", "start", "activate", "turn on", "switch on", "run"},
		OffCmd:   FanOff,
		OnCmd:    FanOn,
	},
	{
		Name:     "media",
		Keywords: []string{"video", "movie", "film", "clip", "stream", "playback"},
		Off:      []string{"pause", "stop", "halt", "freeze", "hold", "interrupt", "suspend"},
		On:       []string{"play", "start", "activate", "begin", "launch", "run", "open"},
		OffCmd:   MediaPause,
		OnCmd:    MediaPlay,
	},
}

// Categories returns the synonym tables in matching priority order. The
// returned slice is a copy; the phrase slices are shared and must not be
// modified.
func Categories() []Category {
	return append([]Category(nil), categories...)
}
