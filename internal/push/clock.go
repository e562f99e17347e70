package push

import (
	"strconv"
	"time"
)

func nowMs() int64 {
	return time.Now().UnixMilli()
}

func timeToMs(ts int64) string {
	return strconv.FormatInt(ts, 10)
}
