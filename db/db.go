package db

import (
	"database/sql"
	"errors"
	"time"

	"tourchat/models"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNoRows     = errors.New("no rows found")
	ErrUserExists = errors.New("user already exists")
)

type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
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
			password TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tokens (
			token TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS participants (
			conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			UNIQUE(conversation_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			sender_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			content TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS attachments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			file TEXT NOT NULL,
			uploaded_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_participants_user ON participants(user_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return db.migrate()
}

// migrate adds the edit/delete flags to message tables created before they
// existed.
func (db *DB) migrate() error {
	if !db.columnExists("messages", "is_edited") {
		if _, err := db.conn.Exec("ALTER TABLE messages ADD COLUMN is_edited INTEGER NOT NULL DEFAULT 0"); err != nil {
			return err
		}
	}

	if !db.columnExists("messages", "is_deleted") {
		if _, err := db.conn.Exec("ALTER TABLE messages ADD COLUMN is_deleted INTEGER NOT NULL DEFAULT 0"); err != nil {
			return err
		}
	}

	return nil
}

// columnExists checks if a column exists in a table
func (db *DB) columnExists(table, column string) bool {
	query := "SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?"
	var count int
	err := db.conn.QueryRow(query, table, column).Scan(&count)
	if err != nil {
		return false
	}
	return count > 0
}

// User methods
func (db *DB) CreateUser(username, password string) (models.User, error) {
	exists, err := db.UserExists(username)
	if err != nil {
		return models.User{}, err
	}
	if exists {
		return models.User{}, ErrUserExists
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, err
	}

	result, err := db.conn.Exec("INSERT INTO users (username, password) VALUES (?, ?)", username, string(hashed))
	if err != nil {
		return models.User{}, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return models.User{}, err
	}
	return models.User{ID: id, Username: username}, nil
}

func (db *DB) UserExists(username string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (db *DB) AuthenticateUser(username, password string) (models.User, bool, error) {
	var u models.User
	var hashedPassword string
	err := db.conn.QueryRow("SELECT id, username, password FROM users WHERE username = ?", username).
		Scan(&u.ID, &u.Username, &hashedPassword)
	if err == sql.ErrNoRows {
		return models.User{}, false, nil
	}
	if err != nil {
		return models.User{}, false, err
	}

	if bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) != nil {
		return models.User{}, false, nil
	}
	return u, true, nil
}

func (db *DB) GetUser(id int64) (models.User, error) {
	var u models.User
	err := db.conn.QueryRow("SELECT id, username FROM users WHERE id = ?", id).Scan(&u.ID, &u.Username)
	if err == sql.ErrNoRows {
		return models.User{}, ErrNoRows
	}
	return u, err
}

// Token methods

// IssueToken stores a new opaque bearer token for the user.
func (db *DB) IssueToken(userID int64) (string, error) {
	token := uuid.NewString()
	_, err := db.conn.Exec(
		"INSERT INTO tokens (token, user_id, created_at) VALUES (?, ?, ?)",
		token, userID, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

func (db *DB) UserByToken(token string) (models.User, error) {
	var u models.User
	err := db.conn.QueryRow(
		"SELECT u.id, u.username FROM tokens t JOIN users u ON u.id = t.user_id WHERE t.token = ?",
		token,
	).Scan(&u.ID, &u.Username)
	if err == sql.ErrNoRows {
		return models.User{}, ErrNoRows
	}
	return u, err
}

// Conversation methods

// FindConversation returns the oldest conversation both users take part in.
func (db *DB) FindConversation(userA, userB int64) (int64, error) {
	var id int64
	err := db.conn.QueryRow(`
		SELECT a.conversation_id
		FROM participants a
		JOIN participants b ON a.conversation_id = b.conversation_id
		WHERE a.user_id = ? AND b.user_id = ?
		ORDER BY a.conversation_id ASC
		LIMIT 1
	`, userA, userB).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNoRows
	}
	return id, err
}

func (db *DB) CreateConversation(userIDs ...int64) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	result, err := tx.Exec("INSERT INTO conversations (created_at) VALUES (?)", time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, uid := range userIDs {
		if _, err := tx.Exec("INSERT OR IGNORE INTO participants (conversation_id, user_id) VALUES (?, ?)", id, uid); err != nil {
			return 0, err
		}
	}

	return id, tx.Commit()
}

func (db *DB) IsParticipant(conversationID, userID int64) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM participants WHERE conversation_id = ? AND user_id = ?",
		conversationID, userID,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ConversationsFor lists the user's conversations with participants and the
// latest message filled in.
func (db *DB) ConversationsFor(userID int64) ([]models.Conversation, error) {
	rows, err := db.conn.Query(`
		SELECT c.id, c.created_at
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.id ASC
	`, userID)
	if err != nil {
		return nil, err
	}

	var conversations []models.Conversation
	for rows.Next() {
		var c models.Conversation
		var createdStr string
		if err := rows.Scan(&c.ID, &createdStr); err != nil {
			rows.Close()
			return nil, err
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		conversations = append(conversations, c)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	for i := range conversations {
		participants, err := db.participants(conversations[i].ID)
		if err != nil {
			return nil, err
		}
		conversations[i].Participants = participants

		last, err := db.lastMessage(conversations[i].ID)
		if err != nil && err != ErrNoRows {
			return nil, err
		}
		if err == nil {
			conversations[i].LastMessage = &last
		}
	}

	return conversations, nil
}

func (db *DB) participants(conversationID int64) ([]models.User, error) {
	rows, err := db.conn.Query(`
		SELECT u.id, u.username
		FROM participants p JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = ?
		ORDER BY u.id ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Message methods

const messageColumns = `m.id, m.conversation_id, u.id, u.username, m.content, m.timestamp, m.is_edited, m.is_deleted`

func scanMessage(scan func(dest ...any) error) (models.Message, error) {
	var m models.Message
	var ts string
	if err := scan(&m.ID, &m.ConversationID, &m.Sender.ID, &m.Sender.Username, &m.Content, &ts, &m.IsEdited, &m.IsDeleted); err != nil {
		return models.Message{}, err
	}
	timestamp, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return models.Message{}, err
	}
	m.Timestamp = timestamp
	return m, nil
}

func (db *DB) SaveMessage(conversationID, senderID int64, content string, timestamp time.Time) (models.Message, error) {
	result, err := db.conn.Exec(
		"INSERT INTO messages (conversation_id, sender_id, content, timestamp) VALUES (?, ?, ?, ?)",
		conversationID, senderID, content, timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return models.Message{}, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return models.Message{}, err
	}
	return db.GetMessage(id)
}

func (db *DB) GetMessage(id int64) (models.Message, error) {
	row := db.conn.QueryRow(
		"SELECT "+messageColumns+" FROM messages m JOIN users u ON u.id = m.sender_id WHERE m.id = ?",
		id,
	)
	m, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return models.Message{}, ErrNoRows
	}
	if err != nil {
		return models.Message{}, err
	}

	attachments, err := db.attachments(id)
	if err != nil {
		return models.Message{}, err
	}
	m.Attachments = attachments
	return m, nil
}

// GetMessages returns a conversation's history oldest first, including
// soft-deleted entries.
func (db *DB) GetMessages(conversationID int64) ([]models.Message, error) {
	rows, err := db.conn.Query(
		"SELECT "+messageColumns+" FROM messages m JOIN users u ON u.id = m.sender_id WHERE m.conversation_id = ? ORDER BY m.id ASC",
		conversationID,
	)
	if err != nil {
		return nil, err
	}

	var messages []models.Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	for i := range messages {
		attachments, err := db.attachments(messages[i].ID)
		if err != nil {
			return nil, err
		}
		messages[i].Attachments = attachments
	}

	return messages, nil
}

func (db *DB) lastMessage(conversationID int64) (models.Message, error) {
	row := db.conn.QueryRow(
		"SELECT "+messageColumns+" FROM messages m JOIN users u ON u.id = m.sender_id WHERE m.conversation_id = ? ORDER BY m.id DESC LIMIT 1",
		conversationID,
	)
	m, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return models.Message{}, ErrNoRows
	}
	return m, err
}

func (db *DB) EditMessage(id int64, content string) error {
	result, err := db.conn.Exec("UPDATE messages SET content = ?, is_edited = 1 WHERE id = ?", content, id)
	if err != nil {
		return err
	}
	return expectRow(result)
}

// DeleteMessage only flags the message; its content stays in the table.
func (db *DB) DeleteMessage(id int64) error {
	result, err := db.conn.Exec("UPDATE messages SET is_deleted = 1 WHERE id = ?", id)
	if err != nil {
		return err
	}
	return expectRow(result)
}

func expectRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNoRows
	}
	return nil
}

// Attachment methods
func (db *DB) AddAttachment(messageID int64, file string) (models.Attachment, error) {
	now := time.Now().UTC()
	result, err := db.conn.Exec(
		"INSERT INTO attachments (message_id, file, uploaded_at) VALUES (?, ?, ?)",
		messageID, file, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return models.Attachment{}, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return models.Attachment{}, err
	}
	return models.Attachment{ID: id, MessageID: messageID, File: file, UploadedAt: now}, nil
}

func (db *DB) attachments(messageID int64) ([]models.Attachment, error) {
	rows, err := db.conn.Query("SELECT id, message_id, file, uploaded_at FROM attachments WHERE message_id = ? ORDER BY id ASC", messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attachments := []models.Attachment{}
	for rows.Next() {
		var a models.Attachment
		var uploaded string
		if err := rows.Scan(&a.ID, &a.MessageID, &a.File, &uploaded); err != nil {
			return nil, err
		}
		a.UploadedAt, _ = time.Parse(time.RFC3339Nano, uploaded)
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}

// Stats returns row counts used by the control socket.
func (db *DB) Stats() (users, conversations, messages int, err error) {
	if err = db.conn.QueryRow("SELECT COUNT(*) FROM users").Scan(&users); err != nil {
		return
	}
	if err = db.conn.QueryRow("SELECT COUNT(*) FROM conversations").Scan(&conversations); err != nil {
		return
	}
	err = db.conn.QueryRow("SELECT COUNT(*) FROM messages").Scan(&messages)
	return
}
