package camera

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.jpl.nasa.gov/bdube/gigeproxy/proxy"
)

// Message is one reported line
type Message struct {
	Time     time.Time `json:"time"`
	Severity string    `json:"severity"`
	Text     string    `json:"text"`
}

// MessageLog is a proxy.Reporter that keeps the most recent messages in
// memory and passes every message on to Next
type MessageLog struct {
	mu   sync.Mutex
	max  int
	msgs []Message

	// Next receives every message as well, if not nil
	Next proxy.Reporter
}

// NewMessageLog returns a log holding up to max messages
func NewMessageLog(max int, next proxy.Reporter) *MessageLog {
	if max < 1 {
		max = 1
	}
	return &MessageLog{max: max, Next: next}
}

// Report satisfies proxy.Reporter
func (l *MessageLog) Report(sev proxy.Severity, msg string) {
	l.mu.Lock()
	l.msgs = append(l.msgs, Message{Time: time.Now(), Severity: sev.String(), Text: msg})
	if len(l.msgs) > l.max {
		l.msgs = l.msgs[len(l.msgs)-l.max:]
	}
	l.mu.Unlock()
	if l.Next != nil {
		l.Next.Report(sev, msg)
	}
}

// Messages returns a copy of the retained messages, oldest first
func (l *MessageLog) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// HTTPGet sends the retained messages as a JSON array
func (l *MessageLog) HTTPGet(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(l.Messages())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
