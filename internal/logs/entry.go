package logs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"borescope/internal/logging"
)

// Entry is one decoded line of the JSON log file.
type Entry struct {
	Time      time.Time
	Level     slog.Level
	Message   string
	Component string
	ImagePath string
	EventType string
	Fields    map[string]any
}

var reservedKeys = map[string]struct{}{
	"ts": {}, "level": {}, "msg": {}, "source": {},
	logging.FieldComponent: {}, logging.FieldImagePath: {}, logging.FieldEventType: {},
}

// ParseEntry decodes a JSON log line. Lines that are not JSON objects
// (console output, partial writes) report false.
func ParseEntry(line string) (Entry, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return Entry{}, false
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Entry{}, false
	}

	e := Entry{
		Message:   str(raw["msg"]),
		Component: str(raw[logging.FieldComponent]),
		ImagePath: str(raw[logging.FieldImagePath]),
		EventType: str(raw[logging.FieldEventType]),
	}
	if ts, err := time.Parse(time.RFC3339Nano, str(raw["ts"])); err == nil {
		e.Time = ts
	}
	_ = e.Level.UnmarshalText([]byte(str(raw["level"])))
	for key, value := range raw {
		if _, ok := reservedKeys[key]; ok {
			continue
		}
		if e.Fields == nil {
			e.Fields = make(map[string]any)
		}
		e.Fields[key] = value
	}
	return e, true
}

// String renders the entry on one line in the console layout.
func (e Entry) String() string {
	var b strings.Builder
	if !e.Time.IsZero() {
		b.WriteString(e.Time.Local().Format("2006-01-02 15:04:05"))
		b.WriteByte(' ')
	}
	b.WriteString(e.Level.String())
	b.WriteByte(' ')
	if e.Component != "" {
		b.WriteString(e.Component)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.ImagePath != "" {
		b.WriteString(" image=")
		b.WriteString(filepath.Base(e.ImagePath))
	}
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%v", key, e.Fields[key])
	}
	return b.String()
}

// Filter narrows entries. Empty string fields match everything.
type Filter struct {
	Component string
	// Image matches the base name of the entry's image path.
	Image    string
	MinLevel slog.Level
	Session  string
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Entry) bool {
	if e.Level < f.MinLevel {
		return false
	}
	if f.Component != "" && !strings.EqualFold(f.Component, e.Component) {
		return false
	}
	if f.Image != "" && !strings.EqualFold(filepath.Base(f.Image), filepath.Base(e.ImagePath)) {
		return false
	}
	if f.Session != "" && str(e.Fields[logging.FieldSessionID]) != f.Session {
		return false
	}
	return true
}

// ParseLevel converts a level name such as "warn" to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(name) == "" {
		return slog.LevelDebug, nil
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return level, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
