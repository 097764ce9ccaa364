package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/peder1981/p2p-chat/internal/errs"
)

type channelRow struct {
	Ident     string    `gorm:"primarykey;size:400"`
	Name      string    `gorm:"size:400;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (channelRow) TableName() string {
	return "channels"
}

type messageRow struct {
	ID           uint64    `gorm:"primarykey;autoIncrement"`
	ChannelIdent string    `gorm:"size:400;index;not null"`
	Sender       string    `gorm:"not null"`
	Body         string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (messageRow) TableName() string {
	return "channel_messages"
}

// OpenSQLite opens the SQLite database at path (":memory:" for tests).
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// ":memory:" databases live per connection.
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// SQLStore keeps channels in a SQL database through gorm. History order
// follows the autoincrement message id.
type SQLStore struct {
	db *gorm.DB
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore migrates the schema and returns the store.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&channelRow{}, &messageRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate channel schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Create implements Store.
func (s *SQLStore) Create(ctx context.Context, name string) (bool, error) {
	display, key, err := normalizeName(name)
	if err != nil {
		return false, err
	}
	row := channelRow{Ident: key, Name: display, CreatedAt: nowUTC()}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, unavailable("create channel", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	cur, err := s.find(ctx, display, key)
	if err != nil {
		return false, err
	}
	return existing(cur.Name, display)
}

// List implements Store.
func (s *SQLStore) List(ctx context.Context) (map[string]Info, error) {
	var rows []channelRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, unavailable("list channels", err)
	}
	out := make(map[string]Info, len(rows))
	for _, r := range rows {
		out[r.Name] = Info{Name: r.Name, CreatedAt: r.CreatedAt.UTC()}
	}
	return out, nil
}

// Post implements Store.
func (s *SQLStore) Post(ctx context.Context, name, sender, body string) (Message, error) {
	display, key, err := normalizeName(name)
	if err != nil {
		return Message{}, err
	}
	if _, err := s.find(ctx, display, key); err != nil {
		return Message{}, err
	}
	msg, err := newMessage(sender, body)
	if err != nil {
		return Message{}, err
	}
	row := messageRow{ChannelIdent: key, Sender: msg.Sender, Body: msg.Body, CreatedAt: msg.Timestamp}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Message{}, unavailable("post message", err)
	}
	return msg, nil
}

// History implements Store.
func (s *SQLStore) History(ctx context.Context, name string) ([]Message, error) {
	display, key, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	if _, err := s.find(ctx, display, key); err != nil {
		return nil, err
	}
	var rows []messageRow
	if err := s.db.WithContext(ctx).Where("channel_ident = ?", key).Order("id asc").Find(&rows).Error; err != nil {
		return nil, unavailable("read history", err)
	}
	out := make([]Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, Message{Sender: r.Sender, Body: r.Body, Timestamp: r.CreatedAt.UTC()})
	}
	return out, nil
}

func (s *SQLStore) find(ctx context.Context, display, key string) (*channelRow, error) {
	var row channelRow
	if err := s.db.WithContext(ctx).First(&row, "ident = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(display)
		}
		return nil, unavailable("find channel", err)
	}
	return &row, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("failed to %s: %v: %w", op, err, errs.ErrUnavailable)
}
