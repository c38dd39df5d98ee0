package engine

import "time"

// SetClock 替换循环使用的时钟
func SetClock(l *RefreshLoop, now func() time.Time) {
	l.now = now
}
