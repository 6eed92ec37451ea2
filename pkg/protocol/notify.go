package protocol

import (
	"fmt"
	"strings"

	"github.com/NicolasHaas/gotalk/pkg/model"
)

// Server-to-client notification lines.

func FormatBroadcast(sender, text string) string { return sender + ": " + text }

func FormatPrivate(sender, text string) string {
	return "[Private from " + sender + "] " + text
}

func FormatNotFound(target string) string { return "User " + target + " not found." }

func FormatJoined(user string) string { return user + " joined the chat." }

func FormatLeft(user string) string { return user + " left the chat." }

func FormatPollCreated(question string) string {
	return "Poll created: " + question + " (Vote with /vote <option>)"
}

func FormatVote(voter, option string) string { return voter + " voted: " + option }

// FormatUsage is the reply to a malformed command.
func FormatUsage(usage string) string { return "Usage: " + usage }

// FormatDuplicate rejects a handshake whose username is already online.
func FormatDuplicate(user string) string {
	return "Username " + user + " is already taken."
}

// FormatServerFull is written to a connection refused at capacity.
const FormatServerFull = "Server is full, try again later."

// FormatNoPoll answers /results when no poll has been created.
const FormatNoPoll = "No active poll."

// FormatUsers lists online users in the order given.
func FormatUsers(users []string) string {
	return fmt.Sprintf("Online (%d): %s", len(users), strings.Join(users, ", "))
}

// FormatResults renders a poll tally on one line.
func FormatResults(question string, tally []model.OptionCount) string {
	if len(tally) == 0 {
		return "Poll results: " + question + " (no votes yet)"
	}
	parts := make([]string, len(tally))
	for i, oc := range tally {
		parts[i] = fmt.Sprintf("%s=%d", oc.Option, oc.Count)
	}
	return "Poll results: " + question + " -> " + strings.Join(parts, ", ")
}

// FormatFiles lists stored file names.
func FormatFiles(names []string) string {
	if len(names) == 0 {
		return "No files uploaded."
	}
	return fmt.Sprintf("Files (%d): %s", len(names), strings.Join(names, ", "))
}

// FormatUseFilePort answers /file and /download typed on the chat connection.
func FormatUseFilePort(addr string) string {
	return "File transfers use the file port " + addr + "."
}
