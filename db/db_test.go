package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vsoc/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return database
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, database.CreateUser("alice", "secret", models.RoleStandard))

	valid, err := database.Authenticate("alice", "secret")
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = database.Authenticate("alice", "wrong")
	require.NoError(t, err)
	assert.False(t, valid)

	valid, err = database.Authenticate("nobody", "secret")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestCreateUserDuplicate(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, database.CreateUser("alice", "secret", models.RoleStandard))
	assert.ErrorIs(t, database.CreateUser("alice", "other", models.RoleAdmin), ErrDuplicate)
}

func TestGetUserRole(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, database.CreateUser("root", "secret", models.RoleAdmin))

	user, err := database.GetUser("root")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, user.Role)
	assert.True(t, user.Role.Can(models.CapDeleteUsers))

	_, err = database.GetUser("nobody")
	assert.ErrorIs(t, err, ErrNoRows)
}

func TestFriendRequestLifecycle(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, database.CreateUser("alice", "p", models.RoleStandard))
	require.NoError(t, database.CreateUser("bob", "p", models.RoleStandard))

	require.NoError(t, database.CreateFriendRequest("alice", "bob", models.FriendClose))
	assert.ErrorIs(t, database.CreateFriendRequest("alice", "bob", models.FriendNormal), ErrDuplicate)

	pending, err := database.PendingRequests("bob")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "alice", pending[0].Requester)
	assert.Equal(t, models.FriendClose, pending[0].Kind)

	// No pending request addressed to alice.
	pending, err = database.PendingRequests("alice")
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, database.AcceptFriendRequest("bob", "alice"))
	assert.ErrorIs(t, database.AcceptFriendRequest("bob", "alice"), ErrNoRows)

	accepted, kind, err := database.Relation("alice", "bob")
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, models.FriendClose, kind)

	// Symmetric lookup.
	accepted, _, err = database.Relation("bob", "alice")
	require.NoError(t, err)
	assert.True(t, accepted)
}

func TestAcceptRequiresMatchingPendingRow(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, database.CreateFriendRequest("alice", "bob", models.FriendNormal))

	// Only the target of the request may accept it.
	assert.ErrorIs(t, database.AcceptFriendRequest("alice", "bob"), ErrNoRows)
	require.NoError(t, database.AcceptFriendRequest("bob", "alice"))
}

func TestFeedVisibility(t *testing.T) {
	database := newTestDB(t)

	for _, u := range []string{"alice", "bob", "carol"} {
		require.NoError(t, database.CreateUser(u, "p", models.RoleStandard))
	}

	_, err := database.CreatePost("alice", "everyone", models.VisibilityPublic)
	require.NoError(t, err)
	_, err = database.CreatePost("alice", "pals only", models.VisibilityFriends)
	require.NoError(t, err)
	_, err = database.CreatePost("alice", "inner circle", models.VisibilityClose)
	require.NoError(t, err)

	// bob: accepted normal friend; carol: accepted close friend.
	require.NoError(t, database.CreateFriendRequest("alice", "bob", models.FriendNormal))
	require.NoError(t, database.AcceptFriendRequest("bob", "alice"))
	require.NoError(t, database.CreateFriendRequest("carol", "alice", models.FriendClose))
	require.NoError(t, database.AcceptFriendRequest("alice", "carol"))

	contents := func(viewer string) []string {
		posts, err := database.Feed(viewer, 50)
		require.NoError(t, err)
		var out []string
		for _, p := range posts {
			out = append(out, p.Content)
		}
		return out
	}

	// Newest first.
	assert.Equal(t, []string{"inner circle", "pals only", "everyone"}, contents("alice"))
	assert.Equal(t, []string{"pals only", "everyone"}, contents("bob"))
	assert.Equal(t, []string{"inner circle", "pals only", "everyone"}, contents("carol"))
	assert.Equal(t, []string{"everyone"}, contents(""))
}

func TestFeedLimit(t *testing.T) {
	database := newTestDB(t)

	for i := 0; i < 60; i++ {
		_, err := database.CreatePost("alice", "post", models.VisibilityPublic)
		require.NoError(t, err)
	}

	posts, err := database.Feed("", 50)
	require.NoError(t, err)
	assert.Len(t, posts, 50)
}

func TestDeletePostAuthorOnly(t *testing.T) {
	database := newTestDB(t)

	id, err := database.CreatePost("alice", "mine", models.VisibilityPublic)
	require.NoError(t, err)

	assert.ErrorIs(t, database.DeletePost(id, "bob"), ErrNoRows)
	require.NoError(t, database.DeletePost(id, "alice"))
	assert.ErrorIs(t, database.DeletePost(id, "alice"), ErrNoRows)
}

func TestGroups(t *testing.T) {
	database := newTestDB(t)

	groupID, err := database.CreateGroup("weekend plans", "alice")
	require.NoError(t, err)

	// Creator joins automatically.
	member, err := database.IsGroupMember(groupID, "alice")
	require.NoError(t, err)
	assert.True(t, member)

	require.NoError(t, database.AddGroupMember(groupID, "bob"))
	assert.ErrorIs(t, database.AddGroupMember(groupID, "bob"), ErrDuplicate)

	members, err := database.GroupMembers(groupID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, members)

	groups, err := database.GroupsByMember("bob")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "weekend plans", groups[0].Name)
	assert.Equal(t, "alice", groups[0].CreatedBy)

	groups, err = database.GroupsByMember("carol")
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestOfflineDrainIsIdempotent(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, database.EnqueueOfflineMessage("bob", "alice", "first", false, -1))
	require.NoError(t, database.EnqueueOfflineMessage("bob", "alice", "second", true, 3))

	messages, err := database.DrainOfflineMessages("bob")
	require.NoError(t, err)
	require.Len(t, messages, 2)

	assert.Equal(t, "first", messages[0].Content)
	assert.False(t, messages[0].IsGroup)
	assert.Equal(t, "second", messages[1].Content)
	assert.True(t, messages[1].IsGroup)
	assert.Equal(t, int64(3), messages[1].GroupID)

	messages, err = database.DrainOfflineMessages("bob")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestDeleteUserCascade(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, database.CreateUser("alice", "p", models.RoleStandard))
	require.NoError(t, database.CreateUser("bob", "p", models.RoleStandard))

	require.NoError(t, database.CreateFriendRequest("bob", "alice", models.FriendNormal))
	groupID, err := database.CreateGroup("team", "bob")
	require.NoError(t, err)
	require.NoError(t, database.EnqueueOfflineMessage("bob", "alice", "hi", false, -1))

	require.NoError(t, database.DeleteUser("bob"))
	assert.ErrorIs(t, database.DeleteUser("bob"), ErrNoRows)

	exists, err := database.UserExists("bob")
	require.NoError(t, err)
	assert.False(t, exists)

	pending, err := database.PendingRequests("alice")
	require.NoError(t, err)
	assert.Empty(t, pending)

	member, err := database.IsGroupMember(groupID, "bob")
	require.NoError(t, err)
	assert.False(t, member)

	messages, err := database.DrainOfflineMessages("bob")
	require.NoError(t, err)
	assert.Empty(t, messages)
}
