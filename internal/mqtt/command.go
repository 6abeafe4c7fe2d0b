package mqtt

import "strings"

// resetCommand is the only remote command the node understands.
const resetCommand = "RESET"

// IsResetCommand reports whether payload is the remote reset command:
// whitespace-trimmed, case-insensitive match against "RESET".
// Anything else is ignored by the caller.
func IsResetCommand(payload []byte) bool {
	return strings.EqualFold(strings.TrimSpace(string(payload)), resetCommand)
}
