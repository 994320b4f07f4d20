package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"mailrelay/backend/internal/config"
	"mailrelay/backend/internal/domain"
	"mailrelay/backend/internal/storage"
)

// 支持的驱动名称
const (
	DriverSQLite   = "sqlite3"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
)

// DefaultQueryTimeout 单条语句的默认超时时间
const DefaultQueryTimeout = 5 * time.Second

// Config SQL 存储配置
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// FromConfig 由系统配置生成 SQL 存储配置。
func FromConfig(cfg config.DatabaseConfig) Config {
	return Config{
		Driver:          strings.ToLower(cfg.Type),
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		QueryTimeout:    cfg.QueryTimeout,
	}
}

// Store SQL 数据库存储实现（支持 SQLite、MySQL 和 PostgreSQL）
type Store struct {
	db      *sqlx.DB
	driver  string
	timeout time.Duration
	clock   storage.Clock
	closed  atomic.Bool

	// insertMu 串行化插入，使 ReceivedAt 与自增 ID 的顺序一致
	insertMu sync.Mutex
	lastAt   int64
}

// Option 配置 SQL 存储。
type Option func(*Store)

// WithClock 替换时间源。
func WithClock(clock storage.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// SupportedDriver 判断驱动是否受支持。
func SupportedDriver(driverName string) bool {
	switch driverName {
	case DriverSQLite, DriverMySQL, DriverPostgres, DriverPgx:
		return true
	}
	return false
}

// NewStore 打开数据库连接、执行迁移并返回存储实例。
func NewStore(cfg Config, opts ...Option) (*Store, error) {
	if !SupportedDriver(cfg.Driver) {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite3, mysql, postgres, pgx)", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 设置连接池参数
	if cfg.Driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*timeout)
	defer cancel()

	// 测试连接
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 自动执行数据库迁移
	if err := Migrate(ctx, db, cfg.Driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return NewStoreWithDB(db, cfg.Driver, timeout, opts...), nil
}

// NewStoreWithDB 使用已打开的连接创建存储，不执行迁移。
func NewStoreWithDB(db *sqlx.DB, driverName string, timeout time.Duration, opts ...Option) *Store {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	s := &Store{
		db:      db,
		driver:  driverName,
		timeout: timeout,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert 保存邮件，由存储分配 ID 与接收时间。
func (s *Store) Insert(ctx context.Context, message *domain.Message) (int64, error) {
	const op = "insert"
	if err := s.ready(op); err != nil {
		return 0, err
	}

	s.insertMu.Lock()
	defer s.insertMu.Unlock()

	receivedAt := storage.Millis(s.clock())
	if receivedAt < s.lastAt {
		receivedAt = s.lastAt
	}
	address := domain.NormalizeAddress(message.MailboxAddress)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := s.db.Rebind(`INSERT INTO messages
		(mailbox_address, sender, subject, text_body, html_body, raw_content, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	args := []any{address, message.From, message.Subject, message.Text, message.HTML, message.Content, receivedAt}

	var id int64
	if s.returningID() {
		if err := s.db.QueryRowxContext(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, classify(op, domain.ErrWriteFailed, err)
		}
	} else {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, classify(op, domain.ErrWriteFailed, err)
		}
		id, err = result.LastInsertId()
		if err != nil {
			return 0, classify(op, domain.ErrWriteFailed, err)
		}
	}

	s.lastAt = receivedAt
	message.ID = id
	message.ReceivedAt = receivedAt
	message.MailboxAddress = address
	return id, nil
}

// ListByAddress 按接收时间倒序返回地址下的邮件。
func (s *Store) ListByAddress(ctx context.Context, address string, limit int) ([]domain.Message, error) {
	const op = "list"
	if err := s.ready(op); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := s.db.Rebind(`SELECT id, mailbox_address, sender, subject, text_body, html_body, raw_content, received_at
		FROM messages
		WHERE mailbox_address = ?
		ORDER BY received_at DESC, id DESC
		LIMIT ?`)

	messages := []domain.Message{}
	if err := s.db.SelectContext(ctx, &messages, query, domain.NormalizeAddress(address), storage.ResolveLimit(limit)); err != nil {
		return nil, classify(op, domain.ErrQueryFailed, err)
	}
	return messages, nil
}

// DeleteByAddress 删除地址下全部邮件，返回删除数量。
func (s *Store) DeleteByAddress(ctx context.Context, address string) (int64, error) {
	const op = "delete_by_address"
	if err := s.ready(op); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := s.db.Rebind(`DELETE FROM messages WHERE mailbox_address = ?`)
	return s.execCount(ctx, op, query, domain.NormalizeAddress(address))
}

// DeleteOlderThan 删除接收时间早于 cutoff 的邮件，返回删除数量。
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	const op = "delete_older_than"
	if err := s.ready(op); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := s.db.Rebind(`DELETE FROM messages WHERE received_at < ?`)
	return s.execCount(ctx, op, query, cutoff)
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	if err := s.ready("health"); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return domain.Unavailable("health", err)
	}
	return nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db == nil || s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// DB 返回底层连接，供迁移工具使用。
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// ready 在访问数据库前确认存储已配置且未关闭。
func (s *Store) ready(op string) error {
	if s == nil || s.db == nil {
		return domain.Unavailable(op, errors.New("database not configured"))
	}
	if s.closed.Load() {
		return domain.Unavailable(op, errors.New("database closed"))
	}
	return nil
}

func (s *Store) execCount(ctx context.Context, op, query string, args ...any) (int64, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, classify(op, domain.ErrDeleteFailed, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, classify(op, domain.ErrDeleteFailed, err)
	}
	return n, nil
}

// returningID PostgreSQL 驱动不支持 LastInsertId，需要使用 RETURNING。
func (s *Store) returningID() bool {
	return s.driver == DriverPostgres || s.driver == DriverPgx
}

// classify 将驱动错误映射为存储错误类别：连接类故障视为不可用，其余归入 kind。
func classify(op string, kind, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return domain.Unavailable(op, err)
	}
	return domain.NewStorageError(op, kind, err)
}
