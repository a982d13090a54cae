package pipeline

import (
	"sync"
	"time"
)

// LogStatus is the display status of a log entry.
type LogStatus string

const (
	LogLoading LogStatus = "loading"
	LogSuccess LogStatus = "success"
	LogError   LogStatus = "error"
)

// TransformationLog is one entry of a run's progress log.
type TransformationLog struct {
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Status  LogStatus `json:"status"`
	Data    any       `json:"data,omitempty"`
	Time    time.Time `json:"time"`
}

// LogSink receives every log entry as it is appended.
type LogSink interface {
	PublishLog(sessionKey string, entry TransformationLog)
}

// runLog is append-only and written by a single run.
type runLog struct {
	mu         sync.Mutex
	sessionKey string
	sink       LogSink
	now        func() time.Time
	entries    []TransformationLog
}

func (l *runLog) add(title, message string, status LogStatus, data any) {
	entry := TransformationLog{Title: title, Message: message, Status: status, Data: data, Time: l.now()}
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
	if l.sink != nil {
		l.sink.PublishLog(l.sessionKey, entry)
	}
}

func (l *runLog) snapshot() []TransformationLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]TransformationLog(nil), l.entries...)
}
