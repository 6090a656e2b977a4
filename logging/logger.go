// Package logging implements the structured log pipeline (component C2):
// JSON-line formatting via zerolog, pure-function redaction applied to
// every serialized line, latest/archive rotation, and a per-job JSONL
// sink that mirrors every call to both the service log and the job file.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/embercore/forge/correlation"
)

func init() {
	zerolog.TimeFieldFormat = "2006-01-02T15:04:05.000Z07:00"
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	zerolog.TimestampFieldName = "ts"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "msg"
	zerolog.CallerFieldName = "-"
}

// redactingWriter wraps an io.Writer and runs every write through Redact
// before forwarding it. zerolog calls Write once per serialized record, so
// this is sufficient to guarantee invariant 4 (redact(line) == line) for
// every line that ever reaches disk or stdout.
type redactingWriter struct {
	next io.Writer
}

func (w redactingWriter) Write(p []byte) (int, error) {
	red := RedactLine(p)
	if _, err := w.next.Write(red); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Logger is the C2 contract: get_logger(name) -> Logger with
// {debug,info,warning,error}(ctx, msg, event?, fields?).
type Logger struct {
	name    string
	service string
	zl      zerolog.Logger
}

var (
	rootMu      sync.Mutex
	rootWriter  io.Writer
	rootService string
	configured  bool
)

// Configure installs the process-wide log destination for service "name".
// It is idempotent per process: the first call wins and subsequent calls
// are no-ops, matching the "once per process" contract in §4.2. When
// rotate is true and an existing latest/ directory has content, it is
// moved aside to archive/<timestamp>/ before the new destination opens.
func Configure(logRoot, service string, toFile, toStdout, rotate bool) error {
	rootMu.Lock()
	defer rootMu.Unlock()
	if configured {
		return nil
	}
	configured = true
	rootService = service

	var writers []io.Writer
	if toStdout {
		writers = append(writers, os.Stdout)
	}
	if toFile {
		if rotate {
			if _, err := Rotate(logRoot, service); err != nil {
				return fmt.Errorf("rotate logs for %s: %w", service, err)
			}
		}
		dir := latestDir(logRoot, service)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(dir, service+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}
	rootWriter = redactingWriter{next: zerolog.MultiLevelWriter(writers...)}
	return nil
}

// Reset clears the process-wide configured state. It exists for tests
// that need to reconfigure logging more than once per process.
func Reset() {
	rootMu.Lock()
	defer rootMu.Unlock()
	configured = false
	rootWriter = nil
	rootService = ""
}

func latestDir(logRoot, service string) string {
	return filepath.Join(logRoot, service, "latest")
}

func archiveRoot(logRoot, service string) string {
	return filepath.Join(logRoot, service, "archive")
}

// SubprocessLogPath returns the path for a job's subprocess stdout/stderr
// mirror file under <log_root>/<service>/latest/subprocess/.
func SubprocessLogPath(logRoot, service, jobID, stream string) string {
	return filepath.Join(latestDir(logRoot, service), "subprocess", fmt.Sprintf("%s.%s.log", jobID, stream))
}

// Rotate moves the contents of <log_root>/<service>/latest/ into
// <log_root>/<service>/archive/<yyyymmdd_hhmmss>/ and recreates an empty
// latest/ directory. Returns the archive path, or "" if latest/ was empty
// or absent (nothing to rotate).
func Rotate(logRoot, service string) (string, error) {
	latest := latestDir(logRoot, service)
	entries, err := os.ReadDir(latest)
	if os.IsNotExist(err) {
		return "", os.MkdirAll(latest, 0o755)
	}
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}
	stamp := time.Now().UTC().Format("20060102_150405")
	dest := filepath.Join(archiveRoot(logRoot, service), stamp)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	if err := os.Rename(latest, dest); err != nil {
		return "", err
	}
	if err := os.MkdirAll(latest, 0o755); err != nil {
		return "", err
	}
	return dest, nil
}

// GetLogger returns a Logger bound to the given logical name (e.g.
// "forge.executor"). The service field defaults to the first dotted
// component of name unless Configure already fixed a process-wide
// service name.
func GetLogger(name string) Logger {
	rootMu.Lock()
	w := rootWriter
	svc := rootService
	rootMu.Unlock()
	if w == nil {
		w = redactingWriter{next: os.Stdout}
	}
	if svc == "" {
		svc = firstDotted(name)
	}
	zl := zerolog.New(w).With().Timestamp().Logger()
	return Logger{name: name, service: svc, zl: zl}
}

func firstDotted(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

// Fields carries the keyword fields attached to a log call. They are
// nested under "context" per the §4.2 envelope, distinct from the
// envelope's own reserved fields (ts, level, service, logger, msg,
// correlation_id, event).
type Fields map[string]any

func (l Logger) emit(ctx context.Context, level zerolog.Level, msg, event string, fields Fields) {
	ev := l.zl.WithLevel(level).
		Str("service", l.service).
		Str("logger", l.name)
	if cid := correlation.CorrelationID(ctx); cid != "" {
		ev = ev.Str("correlation_id", cid)
	}
	if event != "" {
		ev = ev.Str("event", event)
	}
	if len(fields) > 0 {
		ev = ev.Interface("context", RedactValue(map[string]any(fields)))
	}
	ev.Msg(msg)
}

// Debug emits a debug-level record. event and fields are optional — pass
// "" and nil when not applicable.
func (l Logger) Debug(ctx context.Context, msg, event string, fields Fields) {
	l.emit(ctx, zerolog.DebugLevel, msg, event, fields)
}

// Info emits an info-level record.
func (l Logger) Info(ctx context.Context, msg, event string, fields Fields) {
	l.emit(ctx, zerolog.InfoLevel, msg, event, fields)
}

// Warning emits a warning-level record.
func (l Logger) Warning(ctx context.Context, msg, event string, fields Fields) {
	l.emit(ctx, zerolog.WarnLevel, msg, event, fields)
}

// Error emits an error-level record. If err is non-nil its formatted
// text is attached as the "exception" field per §4.2.
func (l Logger) Error(ctx context.Context, msg, event string, err error, fields Fields) {
	if err != nil {
		if fields == nil {
			fields = Fields{}
		}
		fields["exception"] = err.Error()
	}
	l.emit(ctx, zerolog.ErrorLevel, msg, event, fields)
}
