package messagestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nao1215/pushfeed/pkg/event"
	"github.com/nao1215/pushfeed/pkg/migration"
)

// ErrNotFound は指定したレコードが存在しないことを表す。
var ErrNotFound = errors.New("not found")

//go:embed migrations/*.up.sql
var migrationsFS embed.FS

// Store はSQLiteに保存されたメッセージとユーザーを扱う。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// StoredMessage はストアに保存されたメッセージ。
type StoredMessage struct {
	// Seq は追記順の連番。
	Seq int64
	// ID はメッセージの一意識別子。
	ID string
	event.MessageData
}

// Open はSQLiteデータベースを開き、マイグレーションを適用する。
// dsnに":memory:"を指定するとインメモリDBを使用する。
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if dsn == ":memory:" {
		// インメモリDBは接続ごとに別のDBになるため1接続に固定する
		db.SetMaxOpenConns(1)
	}

	if _, err := migration.Run(ctx, db, migrationsFS, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &Store{db: db}, nil
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendMessage はメッセージを追記し、採番したIDを返す。
// CreatedAtがゼロ値の場合は現在時刻を使用する。
func (s *Store) AppendMessage(ctx context.Context, m event.MessageData) (string, error) {
	if m.To == "" || m.From == "" {
		return "", errors.New("送信者と受信者の指定が必要です")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, recipient_id, sender_id, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, m.To, m.From, m.Text, m.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("メッセージの追記に失敗: %w", err)
	}
	return id, nil
}

// MessagesSince は連番がafterSeqより大きいメッセージを連番順に最大limit件返す。
func (s *Store) MessagesSince(ctx context.Context, afterSeq int64, limit int) ([]StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, recipient_id, sender_id, text, created_at
		   FROM messages WHERE seq > ? ORDER BY seq LIMIT ?`,
		afterSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("メッセージの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []StoredMessage
	for rows.Next() {
		var (
			m         StoredMessage
			createdAt string
		)
		if err := rows.Scan(&m.Seq, &m.ID, &m.To, &m.From, &m.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("メッセージの読み取りに失敗: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			m.CreatedAt = t
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("メッセージの読み取りに失敗: %w", err)
	}
	return messages, nil
}

// UpsertUser はユーザーの表示名を登録または更新する。
func (s *Store) UpsertUser(ctx context.Context, id, displayName string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, display_name) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name, updated_at = datetime('now')`,
		id, displayName,
	)
	if err != nil {
		return fmt.Errorf("ユーザーの登録に失敗: %w", err)
	}
	return nil
}

// DisplayName はユーザーの表示名を返す。存在しない場合はErrNotFoundを返す。
func (s *Store) DisplayName(ctx context.Context, id string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT display_name FROM users WHERE id = ?`, id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("ユーザー %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	return name, nil
}
