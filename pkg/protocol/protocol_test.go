package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/gotalk/pkg/model"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		line string
		want model.Command
	}{
		{"plain", "hi", model.Command{Kind: model.CmdPlain, Text: "hi"}},
		{"plain keeps spacing", "  spaced  out ", model.Command{Kind: model.CmdPlain, Text: "  spaced  out "}},
		{"unknown slash is plain", "/shrug ok", model.Command{Kind: model.CmdPlain, Text: "/shrug ok"}},
		{"token prefix is plain", "/privateer ahoy", model.Command{Kind: model.CmdPlain, Text: "/privateer ahoy"}},
		{"private", "/private carol secret", model.Command{Kind: model.CmdPrivate, Target: "carol", Text: "secret"}},
		{"private multi word", "/private carol meet at 5", model.Command{Kind: model.CmdPrivate, Target: "carol", Text: "meet at 5"}},
		{"poll", "/poll Pizza or tacos?", model.Command{Kind: model.CmdPollCreate, Text: "Pizza or tacos?"}},
		{"vote", "/vote tacos", model.Command{Kind: model.CmdPollVote, Text: "tacos"}},
		{"upload", "/file notes.txt", model.Command{Kind: model.CmdFileUpload, Filename: "notes.txt"}},
		{"download", "/download notes.txt", model.Command{Kind: model.CmdFileDownload, Filename: "notes.txt"}},
		{"users", "/users", model.Command{Kind: model.CmdUsers}},
		{"results", "/results", model.Command{Kind: model.CmdPollResults}},
		{"files", "/files", model.Command{Kind: model.CmdFiles}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.line)
			if err != nil {
				t.Fatalf("ParseCommand(%q): unexpected error: %v", tt.line, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseCommand(%q) mismatch (-want +got):\n%s", tt.line, diff)
			}
		})
	}
}

func TestParseCommandMalformed(t *testing.T) {
	tests := []struct {
		line string
		kind model.CommandKind
	}{
		{"/private", model.CmdPrivate},
		{"/private carol", model.CmdPrivate},
		{"/private carol   ", model.CmdPrivate},
		{"/poll", model.CmdPollCreate},
		{"/poll   ", model.CmdPollCreate},
		{"/vote", model.CmdPollVote},
		{"/file", model.CmdFileUpload},
		{"/download ", model.CmdFileDownload},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			_, err := ParseCommand(tt.line)
			if !errors.Is(err, ErrMalformedCommand) {
				t.Fatalf("ParseCommand(%q) error = %v, want ErrMalformedCommand", tt.line, err)
			}
			var cerr *CommandError
			if !errors.As(err, &cerr) {
				t.Fatalf("ParseCommand(%q) error is not a *CommandError", tt.line)
			}
			if cerr.Kind != tt.kind || cerr.Usage != Usage(tt.kind) {
				t.Errorf("CommandError = %+v, want kind %s usage %q", cerr, tt.kind, Usage(tt.kind))
			}
		})
	}
}

func TestParseFileRequest(t *testing.T) {
	cmd, err := ParseFileRequest("/file report.pdf")
	if err != nil {
		t.Fatalf("ParseFileRequest: unexpected error: %v", err)
	}
	if cmd.Kind != model.CmdFileUpload || cmd.Filename != "report.pdf" {
		t.Errorf("ParseFileRequest = %+v", cmd)
	}

	for _, line := range []string{"hello", "/private bob hi", "/users"} {
		if _, err := ParseFileRequest(line); !errors.Is(err, ErrNotFileRequest) {
			t.Errorf("ParseFileRequest(%q) error = %v, want ErrNotFileRequest", line, err)
		}
	}
	if _, err := ParseFileRequest("/download"); !errors.Is(err, ErrMalformedCommand) {
		t.Errorf("ParseFileRequest(/download) error = %v, want ErrMalformedCommand", err)
	}
}

func TestLineReader(t *testing.T) {
	lr := NewLineReader(strings.NewReader("alice\r\nhello world\n\nlast"), 0)

	want := []string{"alice", "hello world", "", "last"}
	for i, w := range want {
		got, err := lr.ReadLine()
		if err != nil {
			t.Fatalf("ReadLine #%d: unexpected error: %v", i, err)
		}
		if got != w {
			t.Errorf("ReadLine #%d = %q, want %q", i, got, w)
		}
	}

	_, err := lr.ReadLine()
	if !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("ReadLine at EOF error = %v, want ErrConnectionClosed", err)
	}
	if !errors.Is(err, io.EOF) {
		t.Errorf("ReadLine at EOF error = %v, want wrapped io.EOF", err)
	}
}

func TestLineReaderTooLong(t *testing.T) {
	lr := NewLineReader(strings.NewReader(strings.Repeat("x", 11)+"\n"), 10)
	if _, err := lr.ReadLine(); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("ReadLine error = %v, want ErrLineTooLong", err)
	}

	lr = NewLineReader(strings.NewReader(strings.Repeat("y", 10)+"\r\n"), 10)
	got, err := lr.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine at limit: unexpected error: %v", err)
	}
	if len(got) != 10 {
		t.Errorf("ReadLine at limit returned %d bytes, want 10", len(got))
	}
}

func TestLineReaderLongerThanBuffer(t *testing.T) {
	long := strings.Repeat("z", 10000)
	lr := NewLineReader(strings.NewReader(long+"\n"), 20000)
	got, err := lr.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: unexpected error: %v", err)
	}
	if got != long {
		t.Errorf("ReadLine returned %d bytes, want %d", len(got), len(long))
	}
}

func TestLineReaderRemaining(t *testing.T) {
	lr := NewLineReader(strings.NewReader("/file a.bin\n\x00\x01binary\nbytes"), 0)
	if _, err := lr.ReadLine(); err != nil {
		t.Fatalf("ReadLine: unexpected error: %v", err)
	}
	rest, err := io.ReadAll(lr.Remaining())
	if err != nil {
		t.Fatalf("ReadAll: unexpected error: %v", err)
	}
	if diff := cmp.Diff([]byte("\x00\x01binary\nbytes"), rest); diff != "" {
		t.Errorf("Remaining mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteLine(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteLine(&buf, "alice: hi"); err != nil {
		t.Fatalf("WriteLine: unexpected error: %v", err)
	}
	if got := buf.String(); got != "alice: hi\n" {
		t.Errorf("WriteLine wrote %q", got)
	}
}

func TestNotifications(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{FormatBroadcast("alice", "hi"), "alice: hi"},
		{FormatPrivate("bob", "secret"), "[Private from bob] secret"},
		{FormatNotFound("zed"), "User zed not found."},
		{FormatJoined("carol"), "carol joined the chat."},
		{FormatLeft("carol"), "carol left the chat."},
		{FormatPollCreated("Lunch?"), "Poll created: Lunch? (Vote with /vote <option>)"},
		{FormatVote("bob", "pizza"), "bob voted: pizza"},
		{FormatUsers([]string{"alice", "bob"}), "Online (2): alice, bob"},
		{FormatResults("Lunch?", nil), "Poll results: Lunch? (no votes yet)"},
		{FormatResults("Lunch?", []model.OptionCount{{Option: "pizza", Count: 2}, {Option: "sushi", Count: 1}}),
			"Poll results: Lunch? -> pizza=2, sushi=1"},
		{FormatFiles(nil), "No files uploaded."},
		{FormatFiles([]string{"a.txt"}), "Files (1): a.txt"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
