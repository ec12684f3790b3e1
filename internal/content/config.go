// Package content 保存组件（Component）与资源（Asset）记录及其缓存新鲜度。
// 记录存放在 sqlite 中，正文通过 cache.Store 以内容摘要落盘。
package content

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite" // sqlite driver
)

// Config 描述 sqlite 连接参数。
type Config struct {
	// Path 是数据库文件路径。
	Path string
	// MaxOpenConns 默认为 1：sqlite 只有单写者，串行化连接可避免 SQLITE_BUSY。
	MaxOpenConns int
	// BusyTimeout 是等待锁的时长。
	BusyTimeout time.Duration
	// JournalMode 为空时使用 WAL。
	JournalMode string
}

// DefaultConfig 返回指定路径的默认配置。
func DefaultConfig(path string) Config {
	return Config{
		Path:         path,
		MaxOpenConns: 1,
		BusyTimeout:  5 * time.Second,
		JournalMode:  "WAL",
	}
}

var (
	ErrConnectionFailed = errors.New("content store: connection failed")
	ErrMigrationFailed  = errors.New("content store: migration failed")
)

// dsn 通过 _pragma 参数设置连接级 pragma，连接池中每个新连接都会生效。
func (c Config) dsn() string {
	query := url.Values{}
	journal := c.JournalMode
	if journal == "" {
		journal = "WAL"
	}
	busy := c.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	query.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	query.Add("_pragma", fmt.Sprintf("journal_mode(%s)", journal))
	query.Add("_pragma", "foreign_keys(1)")
	return "file:" + c.Path + "?" + query.Encode()
}

func openDB(cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, errors.Join(ErrConnectionFailed, errors.New("database path required"))
	}
	db, err := sql.Open("sqlite", cfg.dsn())
	if err != nil {
		return nil, errors.Join(ErrConnectionFailed, err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Join(ErrConnectionFailed, err)
	}
	return db, nil
}
