package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dshills/plughost/internal/plugin/script"
)

type speechListener struct {
	keywords []keyword // nil for text listeners
	cb       script.Callback
}

// Speech delivers recognized utterances to plugin listeners and speaks
// text through the host.
//
// HandleUtterance calls script callbacks and must run on the owning
// script context's worker goroutine.
type Speech struct {
	mu        sync.Mutex
	provider  SpeechProvider
	listeners []speechListener
	last      string
	log       zerolog.Logger
}

// NewSpeech creates the speech capability.
func NewSpeech(p SpeechProvider, log zerolog.Logger) *Speech {
	return &Speech{provider: p, log: log}
}

// Attach sets or clears the speech output.
func (s *Speech) Attach(p SpeechProvider) {
	s.mu.Lock()
	s.provider = p
	s.mu.Unlock()
}

// OnKeyword registers cb for utterances containing any of keywords.
func (s *Speech) OnKeyword(keywords []string, cb script.Callback) bool {
	if cb == nil {
		return false
	}
	kws := make([]keyword, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			kws = append(kws, keyword{text: k, lower: strings.ToLower(k)})
		}
	}
	if len(kws) == 0 {
		return false
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, speechListener{keywords: kws, cb: cb})
	s.mu.Unlock()
	return true
}

// OnText registers cb for every non-blank utterance.
func (s *Speech) OnText(cb script.Callback) bool {
	if cb == nil {
		return false
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, speechListener{cb: cb})
	s.mu.Unlock()
	return true
}

// RemoveAllListeners drops every listener.
func (s *Speech) RemoveAllListeners() {
	s.mu.Lock()
	s.listeners = nil
	s.mu.Unlock()
}

// ListenerCount returns the number of registered listeners.
func (s *Speech) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// Speak sends text to the speech output. Without one it is logged.
func (s *Speech) Speak(text string) {
	s.mu.Lock()
	p := s.provider
	s.mu.Unlock()

	if p == nil {
		s.log.Info().Str("text", text).Msg("Speak")
		return
	}
	p.Speak(text)
}

// LastUtterance returns the most recent non-blank utterance.
func (s *Speech) LastUtterance() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// keyword is a registered keyword as given and in its matching form.
type keyword struct {
	text  string
	lower string
}

// matchKeyword returns the last keyword in kws found in lower, as it was
// registered.
func matchKeyword(kws []keyword, lower string) (string, bool) {
	for i := len(kws) - 1; i >= 0; i-- {
		if strings.Contains(lower, kws[i].lower) {
			return kws[i].text, true
		}
	}
	return "", false
}

// HandleUtterance delivers text to listeners. Keyword listeners get
// (keyword, text) for the last of their keywords found in text; text
// listeners get (text). Blank text is ignored. It returns the number of
// listeners invoked.
func (s *Speech) HandleUtterance(ctx context.Context, text string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}
	lower := strings.ToLower(text)

	s.mu.Lock()
	s.last = text
	snapshot := append([]speechListener(nil), s.listeners...)
	s.mu.Unlock()

	var errs []error
	invoked := 0
	for i, l := range snapshot {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		var err error
		if l.keywords == nil {
			invoked++
			_, err = l.cb.Call(text)
		} else if kw, ok := matchKeyword(l.keywords, lower); ok {
			invoked++
			_, err = l.cb.Call(kw, text)
		}
		if err != nil {
			s.log.Warn().Err(err).Int("listener", i).Msg("Speech listener failed")
			errs = append(errs, fmt.Errorf("speech listener %d: %w", i, err))
		}
	}
	return invoked, errors.Join(errs...)
}

func (s *Speech) namespace() script.Object {
	return script.Object{
		"onKeyword": script.Func(func(_ context.Context, args []any) (any, error) {
			cb := script.CallbackArg(args, 1)
			if cb == nil {
				return nil, errors.New("speech.onKeyword: listener must be a function")
			}
			return s.OnKeyword(script.StringsArg(args, 0), cb), nil
		}),
		"onText": script.Func(func(_ context.Context, args []any) (any, error) {
			cb := script.CallbackArg(args, 0)
			if cb == nil {
				return nil, errors.New("speech.onText: listener must be a function")
			}
			return s.OnText(cb), nil
		}),
		"removeAllListeners": script.Func(func(context.Context, []any) (any, error) {
			s.RemoveAllListeners()
			return nil, nil
		}),
		"speak": script.Func(func(_ context.Context, args []any) (any, error) {
			s.Speak(joinArgs(args))
			return nil, nil
		}),
		"lastUtterance": script.Func(func(context.Context, []any) (any, error) {
			return s.LastUtterance(), nil
		}),
	}
}
