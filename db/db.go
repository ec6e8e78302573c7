package db

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"vsoc/models"
)

var (
	ErrNoRows    = errors.New("no rows found")
	ErrDuplicate = errors.New("row already exists")
)

type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			role INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS friendships (
			requester TEXT NOT NULL,
			target TEXT NOT NULL,
			status INTEGER NOT NULL DEFAULT 0,
			kind INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (requester, target)
		)`,
		`CREATE TABLE IF NOT EXISTS posts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			author TEXT NOT NULL,
			content TEXT NOT NULL,
			visibility INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			created_by TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id INTEGER NOT NULL,
			member TEXT NOT NULL,
			PRIMARY KEY (group_id, member)
		)`,
		`CREATE TABLE IF NOT EXISTS offline_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			target TEXT NOT NULL,
			sender TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			is_group INTEGER NOT NULL DEFAULT 0,
			source_group_id INTEGER NOT NULL DEFAULT -1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author, id)`,
		`CREATE INDEX IF NOT EXISTS idx_friendships_target ON friendships(target, status)`,
		`CREATE INDEX IF NOT EXISTS idx_offline_target ON offline_messages(target, id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// User methods

func (db *DB) CreateUser(username, password string, role models.Role) error {
	exists, err := db.UserExists(username)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicate
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	_, err = db.conn.Exec(
		"INSERT INTO users (username, password, role) VALUES (?, ?, ?)",
		username, string(hashed), int(role),
	)
	return err
}

func (db *DB) Authenticate(username, password string) (bool, error) {
	var hashedPassword string
	err := db.conn.QueryRow("SELECT password FROM users WHERE username = ?", username).Scan(&hashedPassword)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	return err == nil, nil
}

func (db *DB) UserExists(username string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (db *DB) GetUser(username string) (*models.User, error) {
	var u models.User
	var role int
	err := db.conn.QueryRow(
		"SELECT id, username, role FROM users WHERE username = ?", username,
	).Scan(&u.ID, &u.Username, &role)
	if err == sql.ErrNoRows {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	return &u, nil
}

// DeleteUser removes the user together with their friendship rows, group
// memberships and queued offline messages, so a reused handle cannot inherit
// stale relationships. Posts stay: they carry the author name the feed
// renders.
func (db *DB) DeleteUser(username string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec("DELETE FROM users WHERE username = ?", username)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNoRows
	}

	cleanups := []struct {
		query string
		args  []any
	}{
		{"DELETE FROM friendships WHERE requester = ? OR target = ?", []any{username, username}},
		{"DELETE FROM group_members WHERE member = ?", []any{username}},
		{"DELETE FROM offline_messages WHERE target = ?", []any{username}},
	}
	for _, c := range cleanups {
		if _, err := tx.Exec(c.query, c.args...); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Friendship methods

// CreateFriendRequest inserts a pending row for the ordered pair
// (requester, target). A second request over the same pair is a duplicate.
func (db *DB) CreateFriendRequest(requester, target string, kind models.FriendKind) error {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM friendships WHERE requester = ? AND target = ?",
		requester, target,
	).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicate
	}

	_, err = db.conn.Exec(
		"INSERT INTO friendships (requester, target, status, kind) VALUES (?, ?, ?, ?)",
		requester, target, int(models.FriendPending), int(kind),
	)
	return err
}

// AcceptFriendRequest flips the pending row (requester -> target) to
// accepted. Only the target may accept, and only once.
func (db *DB) AcceptFriendRequest(target, requester string) error {
	result, err := db.conn.Exec(
		"UPDATE friendships SET status = ? WHERE requester = ? AND target = ? AND status = ?",
		int(models.FriendAccepted), requester, target, int(models.FriendPending),
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNoRows
	}

	return nil
}

// PendingRequests lists requests addressed to target, oldest first.
func (db *DB) PendingRequests(target string) ([]models.Friendship, error) {
	rows, err := db.conn.Query(
		"SELECT requester, target, status, kind FROM friendships WHERE target = ? AND status = ?",
		target, int(models.FriendPending),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFriendships(rows)
}

// Friends lists accepted relationships in either direction.
func (db *DB) Friends(username string) ([]models.Friendship, error) {
	rows, err := db.conn.Query(
		"SELECT requester, target, status, kind FROM friendships WHERE (requester = ? OR target = ?) AND status = ?",
		username, username, int(models.FriendAccepted),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFriendships(rows)
}

func scanFriendships(rows *sql.Rows) ([]models.Friendship, error) {
	var friendships []models.Friendship
	for rows.Next() {
		var f models.Friendship
		var status, kind int
		if err := rows.Scan(&f.Requester, &f.Target, &status, &kind); err != nil {
			return nil, err
		}
		f.Status = models.FriendStatus(status)
		f.Kind = models.FriendKind(kind)
		friendships = append(friendships, f)
	}
	return friendships, rows.Err()
}

// Relation reports whether an accepted relationship exists between the two
// users (either direction) and its kind.
func (db *DB) Relation(a, b string) (bool, models.FriendKind, error) {
	var kind int
	err := db.conn.QueryRow(
		`SELECT kind FROM friendships
		 WHERE ((requester = ? AND target = ?) OR (requester = ? AND target = ?)) AND status = ?`,
		a, b, b, a, int(models.FriendAccepted),
	).Scan(&kind)
	if err == sql.ErrNoRows {
		return false, models.FriendNormal, nil
	}
	if err != nil {
		return false, models.FriendNormal, err
	}
	return true, models.FriendKind(kind), nil
}

// Post methods

func (db *DB) CreatePost(author, content string, visibility models.Visibility) (int64, error) {
	result, err := db.conn.Exec(
		"INSERT INTO posts (author, content, visibility, created_at) VALUES (?, ?, ?, ?)",
		author, content, int(visibility), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// DeletePost removes the post only when author matches; anything else is
// reported as a missing row.
func (db *DB) DeletePost(id int64, author string) error {
	result, err := db.conn.Exec("DELETE FROM posts WHERE id = ? AND author = ?", id, author)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNoRows
	}

	return nil
}

// PostsByAuthor lists the author's posts, newest first, unfiltered. The
// caller applies the viewer's visibility tier.
func (db *DB) PostsByAuthor(author string) ([]models.Post, error) {
	rows, err := db.conn.Query(
		"SELECT id, author, content, visibility FROM posts WHERE author = ? ORDER BY id DESC",
		author,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPosts(rows)
}

// Feed lists the newest posts visible to viewer: public posts, the viewer's
// own, friends-tier posts of accepted friends and close-tier posts of close
// friends. An empty viewer sees public posts only.
func (db *DB) Feed(viewer string, limit int) ([]models.Post, error) {
	query := `
		SELECT p.id, p.author, p.content, p.visibility
		FROM posts p
		WHERE
			p.visibility = 0
			OR p.author = ?
			OR (p.visibility = 1 AND EXISTS (
				SELECT 1 FROM friendships f
				WHERE ((f.requester = ? AND f.target = p.author)
					OR (f.target = ? AND f.requester = p.author))
				AND f.status = 1
			))
			OR (p.visibility = 2 AND EXISTS (
				SELECT 1 FROM friendships f
				WHERE ((f.requester = ? AND f.target = p.author)
					OR (f.target = ? AND f.requester = p.author))
				AND f.status = 1 AND f.kind = 1
			))
		ORDER BY p.id DESC LIMIT ?
	`

	rows, err := db.conn.Query(query, viewer, viewer, viewer, viewer, viewer, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPosts(rows)
}

func scanPosts(rows *sql.Rows) ([]models.Post, error) {
	var posts []models.Post
	for rows.Next() {
		var p models.Post
		var visibility int
		if err := rows.Scan(&p.ID, &p.Author, &p.Content, &visibility); err != nil {
			return nil, err
		}
		p.Visibility = models.Visibility(visibility)
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// Group methods

// CreateGroup inserts the group and its creator's membership in one
// transaction.
func (db *DB) CreateGroup(name, creator string) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	result, err := tx.Exec("INSERT INTO groups (name, created_by) VALUES (?, ?)", name, creator)
	if err != nil {
		return 0, err
	}
	groupID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec("INSERT INTO group_members (group_id, member) VALUES (?, ?)", groupID, creator); err != nil {
		return 0, err
	}

	return groupID, tx.Commit()
}

func (db *DB) AddGroupMember(groupID int64, member string) error {
	result, err := db.conn.Exec(
		"INSERT OR IGNORE INTO group_members (group_id, member) VALUES (?, ?)",
		groupID, member,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrDuplicate
	}

	return nil
}

func (db *DB) IsGroupMember(groupID int64, member string) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM group_members WHERE group_id = ? AND member = ?",
		groupID, member,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (db *DB) GroupMembers(groupID int64) ([]string, error) {
	rows, err := db.conn.Query("SELECT member FROM group_members WHERE group_id = ?", groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, err
		}
		members = append(members, member)
	}

	return members, rows.Err()
}

func (db *DB) GroupsByMember(member string) ([]models.Group, error) {
	rows, err := db.conn.Query(
		`SELECT g.id, g.name, g.created_by FROM groups g
		 JOIN group_members gm ON g.id = gm.group_id
		 WHERE gm.member = ?`,
		member,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []models.Group
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedBy); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}

	return groups, rows.Err()
}

// Offline message methods

func (db *DB) EnqueueOfflineMessage(target, sender, content string, isGroup bool, groupID int64) error {
	isGroupInt := 0
	if isGroup {
		isGroupInt = 1
	}
	if !isGroup {
		groupID = -1
	}

	_, err := db.conn.Exec(
		"INSERT INTO offline_messages (target, sender, content, timestamp, is_group, source_group_id) VALUES (?, ?, ?, ?, ?, ?)",
		target, sender, content, time.Now().UTC().Format(time.RFC3339), isGroupInt, groupID,
	)
	return err
}

// DrainOfflineMessages returns the queued messages for target in insertion
// order and clears the queue in the same transaction.
func (db *DB) DrainOfflineMessages(target string) ([]models.OfflineMessage, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		"SELECT id, target, sender, content, timestamp, is_group, source_group_id FROM offline_messages WHERE target = ? ORDER BY id ASC",
		target,
	)
	if err != nil {
		return nil, err
	}

	var messages []models.OfflineMessage
	for rows.Next() {
		var m models.OfflineMessage
		var timestampStr string
		var isGroup int
		if err := rows.Scan(&m.ID, &m.Target, &m.Sender, &m.Content, &timestampStr, &isGroup, &m.GroupID); err != nil {
			rows.Close()
			return nil, err
		}
		m.Timestamp, _ = time.Parse(time.RFC3339, timestampStr)
		m.IsGroup = isGroup != 0
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(messages) > 0 {
		if _, err := tx.Exec("DELETE FROM offline_messages WHERE target = ?", target); err != nil {
			return nil, err
		}
	}

	return messages, tx.Commit()
}
