package tts

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <espeak-ng/speak_lib.h>

int
espeak_say(const char *text, const char *lang)
{
	if (!text || !lang)
	{ return -1; }

	if (espeak_Initialize(AUDIO_OUTPUT_SYNCH_PLAYBACK, 500, NULL, 0) < 0)
	{ return -2; }

	espeak_VOICE specs = { .languages = lang };
	espeak_SetVoiceByProperties(&specs);

	espeak_Synth(text, 500, 0, 0, 0, espeakCHARS_AUTO, NULL, NULL);
	espeak_Synchronize();
	espeak_Terminate();

	return 0;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

const DefaultVoice = "en"

// espeak keeps global state, one utterance at a time
var mu sync.Mutex

type Speaker struct {
	Voice string
}

func NewSpeaker(voice string) *Speaker {
	if voice == "" {
		voice = DefaultVoice
	}
	return &Speaker{Voice: voice}
}

// Say blocks until text has been spoken.
func (s *Speaker) Say(text string) error {
	if text == "" {
		return nil
	}

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))
	clang := C.CString(s.Voice)
	defer C.free(unsafe.Pointer(clang))

	mu.Lock()
	rc := C.espeak_say(ctext, clang)
	mu.Unlock()
	if rc != 0 {
		return fmt.Errorf("espeak_say failed: %d", int(rc))
	}

	return nil
}
