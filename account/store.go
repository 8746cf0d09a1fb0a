package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

var (
	ErrExists         = errors.New("account already exists")
	ErrBadCredentials = errors.New("bad credentials")
	ErrInvalid        = errors.New("invalid username or password")
)

const (
	maxUsername = 64
	maxPassword = 72 // bcrypt 只使用前 72 字节
)

// Store sqlite 账号库；单连接串行写入
type Store struct {
	db   *sql.DB
	cost int
	log  *zap.SugaredLogger
}

type Option func(*Store)

// WithCost 设置 bcrypt 代价（测试中用 bcrypt.MinCost）
func WithCost(cost int) Option {
	return func(s *Store) { s.cost = cost }
}

func Open(path string, log *zap.SugaredLogger, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty accounts db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Store{db: db, cost: bcrypt.DefaultCost, log: log}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS accounts (
			username   TEXT PRIMARY KEY,
			hash       BLOB NOT NULL,
			created_at TEXT NOT NULL,
			last_login TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS tokens (
			token     TEXT PRIMARY KEY,
			username  TEXT NOT NULL REFERENCES accounts(username),
			issued_at TEXT NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS tokens_username ON tokens(username);",
	}
	for _, q := range stmts {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("init accounts schema: %w", err)
		}
	}
	return nil
}

func validate(username, password string) error {
	if username == "" || len(username) > maxUsername || password == "" || len(password) > maxPassword {
		return ErrInvalid
	}
	return nil
}

// Register 新建账号；用户名已存在返回 ErrExists
func (s *Store) Register(ctx context.Context, username, password string) error {
	if err := validate(username, password); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts(username, hash, created_at) VALUES(?, ?, ?) ON CONFLICT(username) DO NOTHING`,
		username, hash, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrExists, username)
	}
	s.log.Infof("account %q registered", username)
	return nil
}

// Login 校验密码并签发 token
func (s *Store) Login(ctx context.Context, username, password string) (string, error) {
	if err := validate(username, password); err != nil {
		return "", ErrBadCredentials
	}
	var hash []byte
	err := s.db.QueryRowContext(ctx, `SELECT hash FROM accounts WHERE username = ?`, username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrBadCredentials
	}
	if err != nil {
		return "", fmt.Errorf("lookup account: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return "", ErrBadCredentials
	}

	token := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `INSERT INTO tokens(token, username, issued_at) VALUES(?, ?, ?)`, token, username, now); err != nil {
		return "", fmt.Errorf("insert token: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET last_login = ? WHERE username = ?`, now, username); err != nil {
		return "", fmt.Errorf("update last login: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return token, nil
}

// Logout 作废 token；未知 token 不是错误
func (s *Store) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// Owner token 对应的用户名
func (s *Store) Owner(ctx context.Context, token string) (string, bool, error) {
	var username string
	err := s.db.QueryRowContext(ctx, `SELECT username FROM tokens WHERE token = ?`, token).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return username, true, nil
}

func (s *Store) Close() error { return s.db.Close() }
