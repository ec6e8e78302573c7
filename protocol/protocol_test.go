package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vsoc/errs"
	"vsoc/models"
)

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand("ADD_FRIEND bob close\n")
	require.NoError(t, err)
	assert.Equal(t, "ADD_FRIEND", cmd.Verb)
	assert.Equal(t, []string{"bob", "close"}, cmd.Args)
}

func TestParseCommandStripsCRLF(t *testing.T) {
	cmd, err := ParseCommand("LOGOUT\r\n")
	require.NoError(t, err)
	assert.Equal(t, "LOGOUT", cmd.Verb)
	assert.Empty(t, cmd.Args)
}

func TestParseCommandEmpty(t *testing.T) {
	_, err := ParseCommand("\n")
	assert.ErrorIs(t, err, ErrEmptyCommand)

	_, err = ParseCommand("   \n")
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestArgOutOfRange(t *testing.T) {
	cmd, err := ParseCommand("LOGIN alice\n")
	require.NoError(t, err)
	assert.Equal(t, "alice", cmd.Arg(0))
	assert.Equal(t, "", cmd.Arg(1))
	assert.Equal(t, "", cmd.Arg(-1))
}

func TestTailPreservesSpaces(t *testing.T) {
	cmd, err := ParseCommand("POST friends hello there world\n")
	require.NoError(t, err)
	assert.Equal(t, "hello there world", cmd.Tail(1))
}

func TestTailAfterVerbOnly(t *testing.T) {
	cmd, err := ParseCommand("CREATE_GROUP weekend plans\n")
	require.NoError(t, err)
	assert.Equal(t, "weekend plans", cmd.Tail(0))
}

func TestTailMissing(t *testing.T) {
	cmd, err := ParseCommand("POST friends\n")
	require.NoError(t, err)
	assert.Equal(t, "", cmd.Tail(1))
}

func TestTailStripsSingleSeparator(t *testing.T) {
	// Only one separating space is consumed; anything beyond it belongs to
	// the tail.
	cmd, err := ParseCommand("MSG bob  spaced  out\n")
	require.NoError(t, err)
	assert.Equal(t, " spaced  out", cmd.Tail(1))
}

func TestStatusf(t *testing.T) {
	assert.Equal(t, "200 OK: Welcome alice!\n", Statusf(200, "OK: Welcome %s!", "alice"))
	assert.Equal(t, "400 Unknown Command.\n", Statusf(400, "Unknown Command."))
}

func TestStatusFromError(t *testing.T) {
	assert.Equal(t, "404 User not found.\n", StatusFromError(errs.New(404, "User not found.")))
	assert.Equal(t, "500 Server Error.\n", StatusFromError(errors.New("disk on fire")))
	assert.Equal(t, "409 Conflict: Username already exists.\n",
		StatusFromError(errs.Wrap(errors.New("unique violation"), 409, "Conflict: Username already exists.")))
}

func TestNotices(t *testing.T) {
	assert.Equal(t, "[Private from alice]: hi bob\n", PrivateNotice("alice", "hi bob"))
	assert.Equal(t, "[Group 3] alice: meeting at 5\n", GroupNotice(3, "alice", "meeting at 5"))
}

func TestOfflineNotice(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	private := OfflineNotice(models.OfflineMessage{
		Sender: "alice", Content: "hi", Timestamp: ts,
	})
	assert.Equal(t, "[OFFLINE Private | alice @ 2024-05-01T12:30:00Z]: hi\n", private)

	group := OfflineNotice(models.OfflineMessage{
		Sender: "alice", Content: "hi all", Timestamp: ts, IsGroup: true, GroupID: 7,
	})
	assert.Equal(t, "[OFFLINE Group 7 | alice @ 2024-05-01T12:30:00Z]: hi all\n", group)
}

func TestBlockHeader(t *testing.T) {
	assert.Equal(t, "--- News Feed ---\n", BlockHeader("News Feed"))
}
