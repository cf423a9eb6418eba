package processor

import "time"

// now is indirected so tests can pin the clock when asserting on
// generated branch names.
var now = time.Now

func nowUnix() int64 {
	return now().Unix()
}
