package configdata

import "time"

// Observer receives fetch and resolution outcomes, typically to record metrics.
type Observer interface {
	FetchCompleted(scheme, outcome string, duration time.Duration)
	ResolutionCompleted(kind, outcome string, properties int, duration time.Duration)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) FetchCompleted(string, string, time.Duration) {}

func (NopObserver) ResolutionCompleted(string, string, int, time.Duration) {}
