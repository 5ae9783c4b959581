package api

import (
	"context"
	"sync"

	"github.com/dshills/plughost/internal/plugin/script"
)

// Player exposes playback state and control. Without a provider it
// reports position 0, duration 0, rate 1 and not playing, and setters
// do nothing.
type Player struct {
	mu       sync.RWMutex
	provider PlayerProvider
}

// NewPlayer creates the player capability.
func NewPlayer(p PlayerProvider) *Player {
	return &Player{provider: p}
}

// Attach sets or clears the provider.
func (p *Player) Attach(provider PlayerProvider) {
	p.mu.Lock()
	p.provider = provider
	p.mu.Unlock()
}

func (p *Player) get() PlayerProvider {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.provider
}

// Position returns the playback position in seconds.
func (p *Player) Position() float64 {
	if pr := p.get(); pr != nil {
		return pr.Position()
	}
	return 0
}

// Duration returns the media duration in seconds.
func (p *Player) Duration() float64 {
	if pr := p.get(); pr != nil {
		return pr.Duration()
	}
	return 0
}

// Rate returns the playback rate.
func (p *Player) Rate() float64 {
	if pr := p.get(); pr != nil {
		return pr.Rate()
	}
	return 1.0
}

// IsPlaying reports whether media is playing.
func (p *Player) IsPlaying() bool {
	if pr := p.get(); pr != nil {
		return pr.IsPlaying()
	}
	return false
}

// Play resumes playback.
func (p *Player) Play() {
	if pr := p.get(); pr != nil {
		pr.Play()
	}
}

// Pause pauses playback.
func (p *Player) Pause() {
	if pr := p.get(); pr != nil {
		pr.Pause()
	}
}

// Seek moves to seconds. Negative values clamp to 0.
func (p *Player) Seek(seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	if pr := p.get(); pr != nil {
		pr.Seek(seconds)
	}
}

// SetRate changes the playback rate. Non-positive rates are ignored.
func (p *Player) SetRate(rate float64) {
	if rate <= 0 {
		return
	}
	if pr := p.get(); pr != nil {
		pr.SetRate(rate)
	}
}

func (p *Player) namespace() script.Object {
	getter := func(fn func() any) script.Func {
		return func(context.Context, []any) (any, error) { return fn(), nil }
	}
	return script.Object{
		"position":  getter(func() any { return p.Position() }),
		"duration":  getter(func() any { return p.Duration() }),
		"rate":      getter(func() any { return p.Rate() }),
		"isPlaying": getter(func() any { return p.IsPlaying() }),
		"play":      getter(func() any { p.Play(); return nil }),
		"pause":     getter(func() any { p.Pause(); return nil }),
		"seek": script.Func(func(_ context.Context, args []any) (any, error) {
			p.Seek(script.NumberArg(args, 0, 0))
			return nil, nil
		}),
		"setRate": script.Func(func(_ context.Context, args []any) (any, error) {
			p.SetRate(script.NumberArg(args, 0, 0))
			return nil, nil
		}),
	}
}
