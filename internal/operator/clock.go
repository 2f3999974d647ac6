package operator

import "time"

// Clock supplies the timestamp an action evaluates against. The reading is
// taken once at action entry; every temporal comparison inside the action
// uses that single value.
type Clock interface {
	Now() int64
}

// SystemClock reads the host clock in unix seconds.
type SystemClock struct{}

func (SystemClock) Now() int64 {
	return time.Now().Unix()
}
