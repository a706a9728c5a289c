package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TextWriter renders zerolog JSON records as aligned text lines for the
// "text" log format:
//
//	2026-02-26 12:00:00.000 INF 4120 listener   | Listening addr=[::]:5693
//	2026-02-26 12:00:01.200 ERR 4121 passive    | Handler failed handler=kafka error="broker down"
//
// The error field always comes last; other fields are sorted by key.
type TextWriter struct {
	w io.Writer
}

// NewTextWriter returns a TextWriter writing to w.
func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{w: w}
}

const (
	textTimeLayout = "2006-01-02 15:04:05.000"
	componentWidth = 10
)

var levelAbbrev = map[string]string{
	zerolog.TraceLevel.String(): "TRC",
	zerolog.DebugLevel.String(): "DBG",
	zerolog.InfoLevel.String():  "INF",
	zerolog.WarnLevel.String():  "WRN",
	zerolog.ErrorLevel.String(): "ERR",
	zerolog.FatalLevel.String(): "FTL",
	zerolog.PanicLevel.String(): "PNC",
}

func (t *TextWriter) Write(p []byte) (int, error) {
	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err != nil {
		return t.w.Write(p)
	}

	ts := textTime(take(fields, zerolog.TimestampFieldName))
	lvl, ok := levelAbbrev[take(fields, zerolog.LevelFieldName)]
	if !ok {
		lvl = "???"
	}
	pid := take(fields, "pid")
	component := take(fields, "component")
	msg := take(fields, zerolog.MessageFieldName)
	errText := take(fields, zerolog.ErrorFieldName)
	delete(fields, zerolog.CallerFieldName)

	if len(component) > componentWidth {
		component = component[:componentWidth]
	}

	var b strings.Builder
	b.WriteString(ts)
	b.WriteByte(' ')
	b.WriteString(lvl)
	if pid != "" {
		b.WriteByte(' ')
		b.WriteString(pid)
	}
	fmt.Fprintf(&b, " %-*s | %s", componentWidth, component, msg)
	for _, kv := range keyValues(fields) {
		b.WriteByte(' ')
		b.WriteString(kv)
	}
	if errText != "" {
		b.WriteByte(' ')
		b.WriteString(keyValue(zerolog.ErrorFieldName, errText))
	}
	b.WriteByte('\n')

	if _, err := io.WriteString(t.w, b.String()); err != nil {
		return 0, err
	}
	// zerolog checks the count against its own record
	return len(p), nil
}

// take removes key from fields and returns it as text.
func take(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	delete(fields, key)
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// textTime reformats an RFC 3339 timestamp in local wall-clock form. An
// unparsable value is kept as is.
func textTime(ts string) string {
	if ts == "" {
		return strings.Repeat(" ", len(textTimeLayout))
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return parsed.Format(textTimeLayout)
}

func keyValues(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyValue(k, fmt.Sprint(fields[k])))
	}
	return out
}

func keyValue(k, v string) string {
	if v == "" || strings.ContainsAny(v, " \t\n\"=") {
		return fmt.Sprintf("%s=%q", k, v)
	}
	return k + "=" + v
}
