package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/boat-builder/viva"
)

var _ Store = &PostgresStore{}

type historyRow struct {
	SessionID string `gorm:"primaryKey;size:64"`
	Messages  string
	UpdatedAt time.Time
}

func (historyRow) TableName() string { return "histories" }

type toolOutcomeRow struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid()"`
	SessionID string    `gorm:"primaryKey;size:64"`
	ToolUseID string    `gorm:"primaryKey;size:128"`
	Outcome   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (toolOutcomeRow) TableName() string { return "tool_outcomes" }

type exchangeRow struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid()"`
	SessionID  string    `gorm:"primaryKey;size:64"`
	ExchangeID string    `gorm:"primaryKey;size:128"`
	Body       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (exchangeRow) TableName() string { return "exchanges" }

// PostgresStore persists session state in Postgres via GORM.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects with the given DSN and migrates the schema.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&historyRow{}, &toolOutcomeRow{}, &exchangeRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *PostgresStore) SaveHistory(ctx context.Context, sessionID string, msgs []viva.Message) error {
	payload, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	row := historyRow{SessionID: sessionID, Messages: string(payload), UpdatedAt: time.Now()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"messages", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadHistory(ctx context.Context, sessionID string) ([]viva.Message, error) {
	var row historyRow
	err := s.db.WithContext(ctx).First(&row, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	var msgs []viva.Message
	if err := json.Unmarshal([]byte(row.Messages), &msgs); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return msgs, nil
}

func (s *PostgresStore) SaveToolOutcome(ctx context.Context, sessionID, toolUseID string, outcome viva.ToolOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to encode tool outcome: %w", err)
	}
	now := time.Now()
	row := toolOutcomeRow{
		SessionID: sessionID,
		ToolUseID: toolUseID,
		Outcome:   string(payload),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "tool_use_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"outcome", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save tool outcome: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadToolOutcomes(ctx context.Context, sessionID string) (map[string]viva.ToolOutcome, error) {
	var rows []toolOutcomeRow
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query tool outcomes: %w", err)
	}
	outcomes := make(map[string]viva.ToolOutcome, len(rows))
	for _, row := range rows {
		var outcome viva.ToolOutcome
		if err := json.Unmarshal([]byte(row.Outcome), &outcome); err != nil {
			return nil, fmt.Errorf("failed to decode tool outcome %s: %w", row.ToolUseID, err)
		}
		outcomes[row.ToolUseID] = outcome
	}
	return outcomes, nil
}

func (s *PostgresStore) SaveExchange(ctx context.Context, sessionID string, ex viva.Exchange) error {
	payload, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("failed to encode exchange: %w", err)
	}
	now := time.Now()
	row := exchangeRow{
		SessionID:  sessionID,
		ExchangeID: ex.ID,
		Body:       string(payload),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "exchange_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save exchange: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadExchanges(ctx context.Context, sessionID string) ([]viva.Exchange, error) {
	var rows []exchangeRow
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at, exchange_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query exchanges: %w", err)
	}
	out := make([]viva.Exchange, 0, len(rows))
	for _, row := range rows {
		var ex viva.Exchange
		if err := json.Unmarshal([]byte(row.Body), &ex); err != nil {
			return nil, fmt.Errorf("failed to decode exchange: %w", err)
		}
		out = append(out, ex)
	}
	return out, nil
}

func (s *PostgresStore) ClearSession(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&historyRow{}, "session_id = ?", sessionID).Error; err != nil {
			return fmt.Errorf("failed to clear histories: %w", err)
		}
		if err := tx.Delete(&toolOutcomeRow{}, "session_id = ?", sessionID).Error; err != nil {
			return fmt.Errorf("failed to clear tool_outcomes: %w", err)
		}
		if err := tx.Delete(&exchangeRow{}, "session_id = ?", sessionID).Error; err != nil {
			return fmt.Errorf("failed to clear exchanges: %w", err)
		}
		return nil
	})
}
