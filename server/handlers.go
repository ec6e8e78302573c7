package server

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"vsoc/db"
	"vsoc/errs"
	"vsoc/models"
	"vsoc/protocol"
)

// protectedVerbs require an authenticated session. REGISTER, LOGIN, FEED and
// VIEW_POSTS stay open; unknown verbs get their 400 regardless of auth state.
var protectedVerbs = map[string]bool{
	"LOGOUT":         true,
	"ADD_FRIEND":     true,
	"ACCEPT_REQUEST": true,
	"VIEW_REQUESTS":  true,
	"VIEW_FRIENDS":   true,
	"POST":           true,
	"MSG":            true,
	"CREATE_GROUP":   true,
	"ADD_TO_GROUP":   true,
	"GROUP_MSG":      true,
	"VIEW_GROUPS":    true,
	"DELETE_USER":    true,
	"DELETE_POST":    true,
}

// dispatch parses one command line, runs the matching handler and renders any
// returned error as a status line.
func (s *Server) dispatch(session *Session, line string) {
	cmd, parseErr := protocol.ParseCommand(line)
	if parseErr != nil {
		return
	}

	if protectedVerbs[cmd.Verb] && !session.Authenticated() {
		s.send(session.Conn, protocol.Statusf(403, "Forbidden: Login required."))
		return
	}

	var err error
	switch cmd.Verb {
	case "REGISTER":
		err = s.handleRegister(session, cmd)
	case "LOGIN":
		err = s.handleLogin(session, cmd)
	case "LOGOUT":
		err = s.handleLogout(session)
	case "ADD_FRIEND":
		err = s.handleAddFriend(session, cmd)
	case "ACCEPT_REQUEST":
		err = s.handleAcceptRequest(session, cmd)
	case "VIEW_REQUESTS":
		err = s.handleViewRequests(session)
	case "VIEW_FRIENDS":
		err = s.handleViewFriends(session)
	case "POST":
		err = s.handlePost(session, cmd)
	case "FEED":
		err = s.handleFeed(session)
	case "VIEW_POSTS":
		err = s.handleViewPosts(session, cmd)
	case "MSG":
		err = s.handleMsg(session, cmd)
	case "CREATE_GROUP":
		err = s.handleCreateGroup(session, cmd)
	case "ADD_TO_GROUP":
		err = s.handleAddToGroup(session, cmd)
	case "GROUP_MSG":
		err = s.handleGroupMsg(session, cmd)
	case "VIEW_GROUPS":
		err = s.handleViewGroups(session)
	case "DELETE_USER":
		err = s.handleDeleteUser(session, cmd)
	case "DELETE_POST":
		err = s.handleDeletePost(session, cmd)
	default:
		err = errs.New(400, "Unknown Command.")
	}

	if err != nil {
		if errs.CodeOf(err) == 500 {
			s.log.Error("command failed",
				zap.String("session", session.ID),
				zap.String("verb", cmd.Verb),
				zap.Error(err))
		}
		s.send(session.Conn, protocol.StatusFromError(err))
	}
}

func internal(err error) error {
	return errs.Wrap(err, 500, "Server Error.")
}

func (s *Server) handleRegister(session *Session, cmd *protocol.Command) error {
	username := cmd.Arg(0)
	password := cmd.Arg(1)
	roleInt, roleErr := strconv.Atoi(cmd.Arg(2))

	if username == "" || password == "" || roleErr != nil {
		return errs.New(400, "Bad Request: Format is REGISTER <user> <pass> <role>")
	}

	role := models.RoleStandard
	if roleInt == 1 {
		role = models.RoleAdmin
	}

	err := s.db.CreateUser(username, password, role)
	if err == db.ErrDuplicate {
		return errs.New(409, "Conflict: Username already exists.")
	}
	if err != nil {
		return internal(err)
	}

	s.send(session.Conn, protocol.Statusf(201, "Created: User registered."))
	return nil
}

func (s *Server) handleLogin(session *Session, cmd *protocol.Command) error {
	if session.Authenticated() {
		return errs.New(400, "Bad Request: Already logged in.")
	}

	username := cmd.Arg(0)
	password := cmd.Arg(1)

	valid, err := s.db.Authenticate(username, password)
	if err != nil {
		return internal(err)
	}
	if !valid {
		return errs.New(401, "Unauthorized: Wrong user or pass.")
	}

	s.registry.Authenticate(session, username)
	s.send(session.Conn, protocol.Statusf(200, "OK: Welcome %s!", username))
	s.log.Info("user logged in", zap.String("session", session.ID), zap.String("user", username))

	s.flushOfflineMessages(session, username)
	return nil
}

// flushOfflineMessages delivers and clears the user's queue. The drain is
// atomic in the store, so a second login renders nothing.
func (s *Server) flushOfflineMessages(session *Session, username string) {
	messages, err := s.db.DrainOfflineMessages(username)
	if err != nil {
		s.log.Error("offline drain failed", zap.String("user", username), zap.Error(err))
		return
	}
	if len(messages) == 0 {
		return
	}

	var b strings.Builder
	b.WriteString("\n--- You received messages while offline ---\n")
	for _, m := range messages {
		b.WriteString(protocol.OfflineNotice(m))
	}
	b.WriteString("-------------------------------------------\n")
	s.send(session.Conn, b.String())
}

func (s *Server) handleLogout(session *Session) error {
	s.Broadcast(session.User()+" has disconnected.\n", session)
	s.registry.Logout(session)
	s.send(session.Conn, protocol.Statusf(200, "OK: Logged out."))
	return nil
}

func (s *Server) handleAddFriend(session *Session, cmd *protocol.Command) error {
	target := cmd.Arg(0)
	kind := models.ParseFriendKind(cmd.Arg(1))

	if target == "" {
		return errs.New(400, "Bad Request: Format is ADD_FRIEND <user> <kind>")
	}

	exists, err := s.db.UserExists(target)
	if err != nil {
		return internal(err)
	}
	if !exists {
		return errs.New(404, "Not Found.")
	}

	if target == session.User() {
		return errs.New(400, "Error: Request failed (already friends/pending?).")
	}

	err = s.db.CreateFriendRequest(session.User(), target, kind)
	if err == db.ErrDuplicate {
		return errs.New(400, "Error: Request failed (already friends/pending?).")
	}
	if err != nil {
		return internal(err)
	}

	s.send(session.Conn, protocol.Statusf(200, "OK: Friend request sent."))
	return nil
}

func (s *Server) handleAcceptRequest(session *Session, cmd *protocol.Command) error {
	requester := cmd.Arg(0)

	err := s.db.AcceptFriendRequest(session.User(), requester)
	if err == db.ErrNoRows {
		return errs.New(400, "Error: No pending request found.")
	}
	if err != nil {
		return internal(err)
	}

	s.send(session.Conn, protocol.Statusf(200, "OK: Request accepted."))
	return nil
}

func (s *Server) handleViewRequests(session *Session) error {
	requests, err := s.db.PendingRequests(session.User())
	if err != nil {
		return internal(err)
	}

	var b strings.Builder
	b.WriteString(protocol.BlockHeader("Friend Requests"))
	for _, r := range requests {
		b.WriteString(r.Requester)
		if r.Kind == models.FriendClose {
			b.WriteString(" (Close Friend Request)")
		}
		b.WriteString("\n")
	}
	s.send(session.Conn, b.String())
	return nil
}

func (s *Server) handleViewFriends(session *Session) error {
	username := session.User()
	friendships, err := s.db.Friends(username)
	if err != nil {
		return internal(err)
	}

	var b strings.Builder
	b.WriteString(protocol.BlockHeader("Friends List"))
	for _, f := range friendships {
		other := f.Requester
		if other == username {
			other = f.Target
		}
		b.WriteString(other)
		if f.Kind == models.FriendClose {
			b.WriteString(" (Close)")
		}
		b.WriteString("\n")
	}
	s.send(session.Conn, b.String())
	return nil
}

func (s *Server) handlePost(session *Session, cmd *protocol.Command) error {
	visibility := models.ParseVisibility(cmd.Arg(0))
	content := cmd.Tail(1)

	if content == "" {
		return errs.New(400, "Empty post.")
	}

	if _, err := s.db.CreatePost(session.User(), content, visibility); err != nil {
		return errs.Wrap(err, 500, "Server Error: Could not save post.")
	}

	s.send(session.Conn, protocol.Statusf(201, "Created."))
	return nil
}

func (s *Server) handleFeed(session *Session) error {
	posts, err := s.db.Feed(session.User(), 50)
	if err != nil {
		return internal(err)
	}

	var b strings.Builder
	b.WriteString(protocol.BlockHeader("News Feed"))
	if len(posts) == 0 {
		b.WriteString("No posts yet. Add friends or post something!\n")
	}
	for _, p := range posts {
		b.WriteString(p.Author + " " + p.Visibility.Label() + ": " + p.Content + "\n")
	}
	s.send(session.Conn, b.String())
	return nil
}

func (s *Server) handleViewPosts(session *Session, cmd *protocol.Command) error {
	target := cmd.Arg(0)
	viewer := session.User()

	exists, err := s.db.UserExists(target)
	if err != nil {
		return internal(err)
	}
	if !exists {
		return errs.New(404, "User not found.")
	}

	accepted := false
	kind := models.FriendNormal
	if viewer != "" && viewer != target {
		accepted, kind, err = s.db.Relation(viewer, target)
		if err != nil {
			return internal(err)
		}
	}

	posts, err := s.db.PostsByAuthor(target)
	if err != nil {
		return internal(err)
	}

	var b strings.Builder
	b.WriteString(protocol.BlockHeader("Posts for " + target))
	for _, p := range posts {
		if !canSee(p.Visibility, viewer == target, accepted, kind) {
			continue
		}
		b.WriteString(p.Visibility.Label() + ": " + p.Content + "\n")
	}
	b.WriteString("----------------------\n")
	s.send(session.Conn, b.String())
	return nil
}

// canSee is the visibility tie-break rule for VIEW_POSTS: public is always
// visible, friends needs an accepted relationship of any kind, close needs
// an accepted close relationship or the author themselves.
func canSee(v models.Visibility, self, accepted bool, kind models.FriendKind) bool {
	if self {
		return true
	}
	switch v {
	case models.VisibilityPublic:
		return true
	case models.VisibilityFriends:
		return accepted
	case models.VisibilityClose:
		return accepted && kind == models.FriendClose
	}
	return false
}

func (s *Server) handleMsg(session *Session, cmd *protocol.Command) error {
	target := cmd.Arg(0)
	text := cmd.Tail(1)

	if targetSession, ok := s.registry.FindByUsername(target); ok {
		s.send(targetSession.Conn, protocol.PrivateNotice(session.User(), text))
		s.send(session.Conn, protocol.Statusf(200, "OK: Sent."))
		return nil
	}

	exists, err := s.db.UserExists(target)
	if err != nil {
		return internal(err)
	}
	if !exists {
		return errs.New(404, "User does not exist.")
	}

	if err := s.db.EnqueueOfflineMessage(target, session.User(), text, false, -1); err != nil {
		return internal(err)
	}
	s.send(session.Conn, protocol.Statusf(200, "OK: User offline. Message saved."))
	return nil
}

func (s *Server) handleCreateGroup(session *Session, cmd *protocol.Command) error {
	name := cmd.Tail(0)
	if name == "" {
		return errs.New(400, "Name required.")
	}

	groupID, err := s.db.CreateGroup(name, session.User())
	if err != nil {
		return internal(err)
	}

	s.send(session.Conn, protocol.Statusf(200, "OK: Group '%s' created with ID %d.", name, groupID))
	return nil
}

func (s *Server) handleAddToGroup(session *Session, cmd *protocol.Command) error {
	groupID, parseErr := strconv.ParseInt(cmd.Arg(0), 10, 64)
	newMember := cmd.Arg(1)
	if parseErr != nil || newMember == "" {
		return errs.New(400, "Bad Request: Format is ADD_TO_GROUP <group_id> <user>")
	}

	member, err := s.db.IsGroupMember(groupID, session.User())
	if err != nil {
		return internal(err)
	}
	if !member {
		return errs.New(403, "You are not in this group.")
	}

	exists, err := s.db.UserExists(newMember)
	if err != nil {
		return internal(err)
	}
	if !exists {
		return errs.New(404, "User not found.")
	}

	err = s.db.AddGroupMember(groupID, newMember)
	if err == db.ErrDuplicate {
		return errs.New(400, "Error: Already a member.")
	}
	if err != nil {
		return internal(err)
	}

	s.send(session.Conn, protocol.Statusf(200, "OK: User added."))

	if targetSession, ok := s.registry.FindByUsername(newMember); ok {
		s.send(targetSession.Conn, "Info: You were added to group ID "+strconv.FormatInt(groupID, 10)+" by "+session.User()+".\n")
	}
	return nil
}

func (s *Server) handleGroupMsg(session *Session, cmd *protocol.Command) error {
	groupID, parseErr := strconv.ParseInt(cmd.Arg(0), 10, 64)
	if parseErr != nil {
		return errs.New(400, "Bad Request: Invalid ID format.")
	}
	text := cmd.Tail(1)

	sender := session.User()
	member, err := s.db.IsGroupMember(groupID, sender)
	if err != nil {
		return internal(err)
	}
	if !member {
		return errs.New(403, "You are not in this group.")
	}

	members, err := s.db.GroupMembers(groupID)
	if err != nil {
		return internal(err)
	}

	notice := protocol.GroupNotice(groupID, sender, text)
	for _, member := range members {
		if member == sender {
			continue
		}
		if targetSession, ok := s.registry.FindByUsername(member); ok {
			s.send(targetSession.Conn, notice)
			continue
		}
		if err := s.db.EnqueueOfflineMessage(member, sender, text, true, groupID); err != nil {
			s.log.Error("group msg enqueue failed",
				zap.Int64("group", groupID),
				zap.String("member", member),
				zap.Error(err))
		}
	}

	s.send(session.Conn, protocol.Statusf(200, "OK: Sent to group (stored for offline members)."))
	return nil
}

func (s *Server) handleViewGroups(session *Session) error {
	groups, err := s.db.GroupsByMember(session.User())
	if err != nil {
		return internal(err)
	}

	var b strings.Builder
	b.WriteString(protocol.BlockHeader("Groups List"))
	for _, g := range groups {
		b.WriteString(strconv.FormatInt(g.ID, 10) + ": " + g.Name + "\n")
	}
	s.send(session.Conn, b.String())
	return nil
}

func (s *Server) handleDeleteUser(session *Session, cmd *protocol.Command) error {
	caller, err := s.db.GetUser(session.User())
	if err != nil {
		return internal(err)
	}
	if !caller.Role.Can(models.CapDeleteUsers) {
		return errs.New(403, "Forbidden: Admin access required.")
	}

	target := cmd.Arg(0)
	err = s.db.DeleteUser(target)
	if err == db.ErrNoRows {
		return errs.New(404, "User not found or error deleting.")
	}
	if err != nil {
		return internal(err)
	}

	s.send(session.Conn, protocol.Statusf(200, "OK: User %s deleted.", target))

	if targetSession, ok := s.registry.FindByUsername(target); ok {
		s.send(targetSession.Conn, "You have been banned/deleted by admin.\n")
		s.registry.Logout(targetSession)
	}
	return nil
}

func (s *Server) handleDeletePost(session *Session, cmd *protocol.Command) error {
	postID, parseErr := strconv.ParseInt(cmd.Arg(0), 10, 64)
	if parseErr != nil {
		return errs.New(400, "Bad Request: Invalid ID format.")
	}

	err := s.db.DeletePost(postID, session.User())
	if err == db.ErrNoRows {
		return errs.New(403, "Forbidden or Not Found: You can only delete your own posts.")
	}
	if err != nil {
		return internal(err)
	}

	s.send(session.Conn, protocol.Statusf(200, "OK: Post %d deleted.", postID))
	return nil
}
