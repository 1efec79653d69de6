// Package action holds the closed set of commands the controller understands
// and the synonym tables used to recognize them in free text.
package action

import "strings"

type Action uint8

const (
	Unknown Action = iota
	LightOn
	LightOff
	FanOn
	FanOff
	MediaPlay
	MediaPause
)

// All lists every dispatchable action in vocabulary order.
var All = []Action{LightOn, LightOff, FanOn, FanOff, MediaPlay, MediaPause}

var names = [...]string{
	Unknown:    "UNKNOWN",
	LightOn:    "LIGHT_ON",
	LightOff:   "LIGHT_OFF",
	FanOn:      "FAN_ON",
	FanOff:     "FAN_OFF",
	MediaPlay:  "MEDIA_PLAY",
	MediaPause: "MEDIA_PAUSE",
}

// wire strings as parsed by the controller firmware
var wire = [...]string{
	LightOn:    "LED ON",
	LightOff:   "LED OFF",
	FanOn:      "FAN ON",
	FanOff:     "FAN OFF",
	MediaPlay:  "VIDEO PLAY",
	MediaPause: "VIDEO PAUSE",
}

// Valid reports whether a is a dispatchable member of the vocabulary.
func (a Action) Valid() bool {
	return a > Unknown && a <= MediaPause
}

func (a Action) String() string {
	if int(a) >= len(names) {
		return names[Unknown]
	}
	return names[a]
}

// Wire returns the payload sent to the controller, or "" for Unknown.
func (a Action) Wire() string {
	if !a.Valid() {
		return ""
	}
	return wire[a]
}

// Parse maps a wire string back to its action. Matching ignores case and
// surrounding space.
func Parse(s string) Action {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, a := range All {
		if wire[a] == s {
			return a
		}
	}
	return Unknown
}

// WireList joins all wire strings, e.g. for prompts.
func WireList(sep string) string {
	out := make([]string, 0, len(All))
	for _, a := range All {
		out = append(out, a.Wire())
	}
	return strings.Join(out, sep)
}
