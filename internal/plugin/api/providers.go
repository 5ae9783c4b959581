package api

// Profile identifies the profile a plugin runs in.
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Bounds is a window rectangle in screen pixels.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PlayerProvider is the host's media player.
type PlayerProvider interface {
	Position() float64
	Duration() float64
	Rate() float64
	IsPlaying() bool
	Play()
	Pause()
	Seek(seconds float64)
	SetRate(rate float64)
}

// WindowProvider is the host's main window.
type WindowProvider interface {
	Opacity() float64
	SetOpacity(v float64)
	ClickThrough() bool
	SetClickThrough(v bool)
	Topmost() bool
	SetTopmost(v bool)
	Bounds() Bounds
	SetBounds(b Bounds)
}

// OverlayProvider renders overlay elements.
type OverlayProvider interface {
	Draw(el OverlayElement)
	Remove(id string)
}

// SpeechProvider speaks text aloud.
type SpeechProvider interface {
	Speak(text string)
}

// Providers groups the optional collaborators.
type Providers struct {
	Player  PlayerProvider
	Window  WindowProvider
	Overlay OverlayProvider
	Speech  SpeechProvider
}
