package engine

import "errors"

// ErrRunning is returned by Run and Drain when another drain loop owns the
// queue. Only one may exist at a time.
var ErrRunning = errors.New("replay engine already running")
