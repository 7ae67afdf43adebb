package desk

import "time"

type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

type Notice struct {
	Level   Level
	Message string
	At      time.Time
}

const maxNotices = 20

// noticeLog keeps the most recent notices, oldest first.
type noticeLog struct {
	items []Notice
}

func (l *noticeLog) add(n Notice) {
	l.items = append(l.items, n)
	if over := len(l.items) - maxNotices; over > 0 {
		l.items = append([]Notice(nil), l.items[over:]...)
	}
}

func (l *noticeLog) list() []Notice {
	out := make([]Notice, len(l.items))
	copy(out, l.items)
	return out
}
