// Package model defines the core domain types for GoTalk.
package model

// CommandKind identifies what a client line asks the server to do.
type CommandKind int

const (
	CmdPlain        CommandKind = iota // broadcast text to everyone
	CmdPrivate                         // /private <user> <text>
	CmdPollCreate                      // /poll <question>
	CmdPollVote                        // /vote <option>
	CmdFileUpload                      // /file <name>
	CmdFileDownload                    // /download <name>
	CmdUsers                           // /users
	CmdPollResults                     // /results
	CmdFiles                           // /files
)

func (k CommandKind) String() string {
	switch k {
	case CmdPlain:
		return "plain"
	case CmdPrivate:
		return "private"
	case CmdPollCreate:
		return "poll"
	case CmdPollVote:
		return "vote"
	case CmdFileUpload:
		return "file"
	case CmdFileDownload:
		return "download"
	case CmdUsers:
		return "users"
	case CmdPollResults:
		return "results"
	case CmdFiles:
		return "files"
	default:
		return "unknown"
	}
}

// Command is one parsed client line. Only the fields relevant to Kind are set:
// Text for plain/private messages, poll questions and vote options, Target for
// private messages, Filename for file transfers.
type Command struct {
	Kind     CommandKind
	Target   string
	Text     string
	Filename string
}
