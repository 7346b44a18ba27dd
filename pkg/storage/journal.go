package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/emyemy89/decentralized-exchange/pkg/app/core/events"
)

// Journal is an append-only JSON-lines event log. Together with the event
// payloads it carries everything needed to audit or replay the engine's
// history.
type Journal struct {
	mu  sync.Mutex
	f   *os.File
	seq uint64
}

type journalLine struct {
	Seq   uint64       `json:"seq"`
	Time  string       `json:"ts"`
	Type  events.Type  `json:"type"`
	Event events.Event `json:"event"`
}

func NewJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &Journal{f: f}, nil
}

// Emit appends one event line. Write failures are swallowed after the event
// has already committed; the journal is an audit trail, not the source of
// truth.
func (j *Journal) Emit(ev events.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	line := journalLine{
		Seq:   j.seq,
		Time:  time.Now().UTC().Format(time.RFC3339Nano),
		Type:  ev.EventType(),
		Event: ev,
	}
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	fmt.Fprintln(j.f, string(data))
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

var _ events.Emitter = (*Journal)(nil)

// JournalLine is one decoded journal entry. The payload stays raw JSON; its
// concrete shape follows from Type.
type JournalLine struct {
	Seq   uint64          `json:"seq"`
	Time  string          `json:"ts"`
	Type  events.Type     `json:"type"`
	Event json.RawMessage `json:"event"`
}

// ReadJournal decodes every line of a journal file, oldest first.
func ReadJournal(path string) ([]JournalLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	defer f.Close()

	var out []JournalLine
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var line JournalLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			return nil, fmt.Errorf("journal line %d: %w", len(out)+1, err)
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read journal %s: %w", path, err)
	}
	return out, nil
}
