package utils

import "time"

type number interface {
	~int | ~int32 | ~int64 | ~uint | ~uint32 | ~uint64 | ~float64
}

// SetDefaultNum sets *p to d if *p <= 0.
func SetDefaultNum[T number](p *T, d T) {
	if *p <= 0 {
		*p = d
	}
}

// SetDefaultString sets *p to d if *p is empty.
func SetDefaultString(p *string, d string) {
	if len(*p) == 0 {
		*p = d
	}
}

// MillisecondsToDuration converts a config value in milliseconds to a time.Duration.
func MillisecondsToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
