// Package protocol defines the newline-delimited chat and file-port wire format.
//
// Every chat exchange is one text line terminated by '\n' (a trailing '\r' is
// tolerated). The file port carries a single request line followed by raw bytes.
package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/NicolasHaas/gotalk/pkg/model"
)

const (
	// DefaultMaxLine is the longest accepted line in bytes, excluding the delimiter.
	DefaultMaxLine = 4096

	// UsernamePrompt is the first line the server writes on a chat connection.
	UsernamePrompt = "Enter your username:"
)

var (
	ErrConnectionClosed = errors.New("protocol: connection closed")
	ErrLineTooLong      = errors.New("protocol: line too long")
	ErrMalformedCommand = errors.New("protocol: malformed command")
	ErrNotFileRequest   = errors.New("protocol: not a file request")
)

// CommandError reports a command with the wrong arguments. It matches
// ErrMalformedCommand with errors.Is.
type CommandError struct {
	Kind  model.CommandKind
	Usage string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("protocol: malformed %s command (usage: %s)", e.Kind, e.Usage)
}

func (e *CommandError) Unwrap() error { return ErrMalformedCommand }

var usage = map[model.CommandKind]string{
	model.CmdPrivate:      "/private <user> <message>",
	model.CmdPollCreate:   "/poll <question>",
	model.CmdPollVote:     "/vote <option>",
	model.CmdFileUpload:   "/file <name>",
	model.CmdFileDownload: "/download <name>",
}

// Usage returns the usage string for a command kind, or "" for commands
// without arguments.
func Usage(kind model.CommandKind) string {
	return usage[kind]
}

// commandTokens maps a leading token to its command kind.
var commandTokens = map[string]model.CommandKind{
	"/private":  model.CmdPrivate,
	"/poll":     model.CmdPollCreate,
	"/vote":     model.CmdPollVote,
	"/file":     model.CmdFileUpload,
	"/download": model.CmdFileDownload,
	"/users":    model.CmdUsers,
	"/results":  model.CmdPollResults,
	"/files":    model.CmdFiles,
}

// ParseCommand turns one client line into a Command. Lines that do not start
// with a known command token are plain broadcast text, kept verbatim.
func ParseCommand(line string) (model.Command, error) {
	token, rest, _ := strings.Cut(line, " ")
	kind, ok := commandTokens[token]
	if !ok {
		return model.Command{Kind: model.CmdPlain, Text: line}, nil
	}
	rest = strings.TrimSpace(rest)
	bad := &CommandError{Kind: kind, Usage: usage[kind]}

	switch kind {
	case model.CmdPrivate:
		target, text, _ := strings.Cut(rest, " ")
		text = strings.TrimSpace(text)
		if target == "" || text == "" {
			return model.Command{}, bad
		}
		return model.Command{Kind: kind, Target: target, Text: text}, nil
	case model.CmdPollCreate, model.CmdPollVote:
		if rest == "" {
			return model.Command{}, bad
		}
		return model.Command{Kind: kind, Text: rest}, nil
	case model.CmdFileUpload, model.CmdFileDownload:
		if rest == "" {
			return model.Command{}, bad
		}
		return model.Command{Kind: kind, Filename: rest}, nil
	default:
		return model.Command{Kind: kind}, nil
	}
}

// ParseFileRequest parses the request line of a file-port connection. Only
// /file and /download are accepted there.
func ParseFileRequest(line string) (model.Command, error) {
	cmd, err := ParseCommand(line)
	if err != nil {
		return model.Command{}, err
	}
	if cmd.Kind != model.CmdFileUpload && cmd.Kind != model.CmdFileDownload {
		return model.Command{}, fmt.Errorf("%w: %q", ErrNotFileRequest, line)
	}
	return cmd, nil
}

// LineReader reads delimited lines with an upper bound on line length.
// It is not safe for concurrent use; each connection has exactly one reader.
type LineReader struct {
	br  *bufio.Reader
	max int
}

// NewLineReader wraps r. A max of zero or less selects DefaultMaxLine.
func NewLineReader(r io.Reader, max int) *LineReader {
	if max <= 0 {
		max = DefaultMaxLine
	}
	return &LineReader{br: bufio.NewReaderSize(r, 4096), max: max}
}

// ReadLine returns the next line without its delimiter. A final unterminated
// line is returned before the stream reports closure. Any read failure is
// wrapped in ErrConnectionClosed.
func (lr *LineReader) ReadLine() (string, error) {
	var buf []byte
	for {
		chunk, err := lr.br.ReadSlice('\n')
		if len(buf)+len(chunk) > lr.max+2 { // room for "\r\n"
			return "", ErrLineTooLong
		}
		buf = append(buf, chunk...)
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if len(buf) > 0 && errors.Is(err, io.EOF) {
			break
		}
		return "", fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	line := strings.TrimSuffix(string(buf), "\n")
	line = strings.TrimSuffix(line, "\r")
	if len(line) > lr.max {
		return "", ErrLineTooLong
	}
	return line, nil
}

// Remaining exposes the bytes buffered after the last line followed by the
// rest of the stream. Used to hand a file body to the relay.
func (lr *LineReader) Remaining() io.Reader {
	return lr.br
}

// WriteLine writes text followed by '\n' in a single Write call.
func WriteLine(w io.Writer, text string) error {
	buf := make([]byte, 0, len(text)+1)
	buf = append(buf, text...)
	buf = append(buf, '\n')
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("protocol: write line: %w", err)
	}
	return nil
}
