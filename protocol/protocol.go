package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"vsoc/errs"
	"vsoc/models"
)

var (
	ErrEmptyCommand = errors.New("empty command line")
)

// Discovery tokens exchanged over UDP before a client opens the TCP
// connection.
const (
	DiscoveryQuery    = "WHO_IS_SERVER"
	DiscoveryResponse = "SERVER_HERE"
)

// Command is one parsed protocol line: a verb plus its space-separated
// arguments. Tail arguments (post bodies, message text, group names) are
// recovered from the raw line so embedded spaces survive.
type Command struct {
	Verb string
	Args []string
	raw  string
}

// ParseCommand splits one line into verb and arguments. The line terminator
// and a trailing CR are stripped first.
func ParseCommand(line string) (*Command, error) {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, ErrEmptyCommand
	}

	return &Command{
		Verb: fields[0],
		Args: fields[1:],
		raw:  line,
	}, nil
}

// Arg returns the i-th argument or "" when absent.
func (c *Command) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// Tail returns the remainder of the line after the verb and the first n
// arguments, with embedded spaces preserved.
func (c *Command) Tail(n int) string {
	s := c.raw
	for i := 0; i <= n; i++ {
		s = strings.TrimLeft(s, " \t")
		cut := strings.IndexAny(s, " \t")
		if cut < 0 {
			return ""
		}
		s = s[cut:]
	}
	if len(s) > 0 {
		s = s[1:]
	}
	return s
}

// Statusf formats a single status line: "<code> <text>\n".
func Statusf(code int, format string, args ...any) string {
	return fmt.Sprintf("%d ", code) + fmt.Sprintf(format, args...) + "\n"
}

// StatusFromError renders err as a status line, using the carried code for
// coded errors and a generic 500 for everything else.
func StatusFromError(err error) string {
	var ce *errs.CodeError
	if errors.As(err, &ce) {
		return Statusf(ce.Code, "%s", ce.Msg)
	}
	return Statusf(500, "Server Error.")
}

// BlockHeader opens a block response: "--- <title> ---\n".
func BlockHeader(title string) string {
	return "--- " + title + " ---\n"
}

// PrivateNotice is the push line for a live direct message.
func PrivateNotice(sender, text string) string {
	return "[Private from " + sender + "]: " + text + "\n"
}

// GroupNotice is the push line for a live group message.
func GroupNotice(groupID int64, sender, text string) string {
	return fmt.Sprintf("[Group %d] %s: %s\n", groupID, sender, text)
}

// OfflineNotice renders one queued message during the login flush.
func OfflineNotice(m models.OfflineMessage) string {
	ts := m.Timestamp.UTC().Format(time.RFC3339)
	if m.IsGroup {
		return fmt.Sprintf("[OFFLINE Group %d | %s @ %s]: %s\n", m.GroupID, m.Sender, ts, m.Content)
	}
	return fmt.Sprintf("[OFFLINE Private | %s @ %s]: %s\n", m.Sender, ts, m.Content)
}
