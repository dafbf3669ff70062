// Package chat implements the budgetchat room: a username handshake,
// a shared registry of members, and a session loop that relays every
// line a member sends to everyone else.
package chat

import "strings"

// Wire texts and the fragments room notices are built from.
const (
	welcomeMsg    = "Welcome to budgetchat! What shall I call you? \n"
	badLengthMsg  = "username too short or too long, bye.\n"
	badCharsMsg   = "username contains invalid sequence, bye.\n"
	nameTakenMsg  = "username is already taken\n"
	rosterPrefix  = "* The room contains: "
	enteredSuffix = " has entered the room\n"
	leftSuffix    = " has left the room\n"
	noticePrefix  = "* "
	rosterSep     = ", "
)

func rosterMsg(names []string) string {
	return rosterPrefix + strings.Join(names, rosterSep) + "\n"
}

func enteredMsg(name string) string { return noticePrefix + name + enteredSuffix }

func leftMsg(name string) string { return noticePrefix + name + leftSuffix }

// chatMsg formats a member's line; line keeps its trailing newline.
func chatMsg(name, line string) string { return "[" + name + "] " + line }
