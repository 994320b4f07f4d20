package sql

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mailrelay/backend/internal/domain"
)

// sqliteSchema SQLite 没有 GORM 驱动，直接执行建表语句
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    mailbox_address TEXT NOT NULL,
    sender TEXT NOT NULL,
    subject TEXT NOT NULL,
    text_body TEXT NOT NULL DEFAULT '',
    html_body TEXT NOT NULL DEFAULT '',
    raw_content TEXT NOT NULL DEFAULT '',
    received_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_address_received ON messages(mailbox_address, received_at);
CREATE INDEX IF NOT EXISTS idx_messages_received ON messages(received_at);
`

// Migrate 创建 messages 表及索引（幂等）。
//
// MySQL 与 PostgreSQL 复用已打开的连接，通过 GORM AutoMigrate 完成；
// SQLite 执行内置建表脚本。
func Migrate(ctx context.Context, db *sqlx.DB, driverName string) error {
	if driverName == DriverSQLite {
		if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
			return fmt.Errorf("failed to run sqlite schema: %w", err)
		}
		return nil
	}

	var dialector gorm.Dialector
	switch driverName {
	case DriverMySQL:
		dialector = mysql.New(mysql.Config{Conn: db.DB})
	case DriverPostgres, DriverPgx:
		dialector = postgres.New(postgres.Config{Conn: db.DB})
	default:
		return fmt.Errorf("unsupported database driver: %s", driverName)
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // 静默模式
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize GORM: %w", err)
	}

	return gormDB.WithContext(ctx).AutoMigrate(&domain.Message{})
}
