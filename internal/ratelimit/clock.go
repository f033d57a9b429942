package ratelimit

import "time"

// Clock abstracts time so tests can drive the window deterministically
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall-clock implementation used in production
var SystemClock Clock = systemClock{}
