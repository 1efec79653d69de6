// Package nlu resolves free-form utterances into controller actions, first
// with local keyword tables and then with a remote text classifier.
package nlu

import (
	"context"
	"errors"
	"fmt"

	"neurahome/internal/action"
)

var (
	// ErrQuotaExhausted means the classifier refused the call for quota or
	// rate reasons.
	ErrQuotaExhausted = errors.New("classifier quota exhausted")
	ErrUnavailable    = errors.New("classifier unavailable")
)

// Classifier sends a prompt to a remote model and returns its raw text.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

const systemPrompt = `You are the intent classifier of a home automation controller.
Reply with exactly one action token from the list you are given, in UPPERCASE, and nothing else.`

// Prompt builds the classification request for one utterance.
func Prompt(utterance string) string {
	return fmt.Sprintf(
		"Analyze this command and return ONLY one of the following actions EXACTLY as shown (in UPPERCASE): %s. Command: %s",
		action.WireList(", "), utterance,
	)
}
