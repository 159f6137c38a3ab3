package output

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/nerrad567/droidpanel-core/internal/events"
)

// Stream names.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// StderrPrefix is the conventional prefix for stderr lines of test runs.
const StderrPrefix = "STDERR: "

// LineHook observes each relayed line after it was buffered.
type LineHook func(stream, line string)

// Logger is the logging interface used by the relay.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Relay forwards the lines of one process stream.
type Relay struct {
	Key    string
	Stream string

	// Prefix is prepended to every line (e.g. StderrPrefix).
	Prefix string

	Buffer    *Buffer
	Mirror    *Mirror
	Publisher events.Publisher
	OnLine    LineHook
	Logger    Logger
}

// Run reads r until EOF, a read error or ctx cancellation, then closes r.
// Lines reach the mirror, the buffer and the publisher in stream order.
// It returns the number of lines relayed.
func (rl *Relay) Run(ctx context.Context, r io.ReadCloser) int {
	log := rl.Logger
	if log == nil {
		log = noopLogger{}
	}
	pub := rl.Publisher
	if pub == nil {
		pub = events.Discard
	}

	// Closing the pipe unblocks a pending read on cancellation.
	stop := context.AfterFunc(ctx, func() { r.Close() })
	defer func() {
		stop()
		r.Close()
	}()

	br := bufio.NewReader(r)
	mirrorFailed := false
	count := 0
	for {
		if ctx.Err() != nil {
			return count
		}
		raw, err := br.ReadString('\n')
		if raw != "" {
			line := rl.Prefix + normalize(raw)
			if werr := rl.Mirror.WriteLine(line); werr != nil && !mirrorFailed {
				mirrorFailed = true
				log.Warn("mirror write failed", "key", rl.Key, "path", rl.Mirror.Path(), "error", werr)
			}
			if rl.Buffer != nil {
				rl.Buffer.Append(line)
			}
			pub.Publish(events.Event{
				Kind:   events.KindLine,
				Key:    rl.Key,
				Stream: rl.Stream,
				Line:   line,
				Time:   time.Now(),
			})
			if rl.OnLine != nil {
				rl.OnLine(rl.Stream, line)
			}
			count++
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) && ctx.Err() == nil {
				log.Debug("stream read ended", "key", rl.Key, "stream", rl.Stream, "error", err)
			}
			return count
		}
	}
}

// normalize strips the line terminator and replaces invalid UTF-8.
func normalize(raw string) string {
	raw = strings.TrimSuffix(raw, "\n")
	raw = strings.TrimSuffix(raw, "\r")
	return strings.ToValidUTF8(raw, "�")
}
