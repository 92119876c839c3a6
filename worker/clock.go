package worker

import "time"

// SystemClock implements Clock using the wall clock.
type SystemClock struct{}

// NowMS returns the current time in Unix milliseconds.
func (SystemClock) NowMS() int64 {
	return time.Now().UnixMilli()
}
