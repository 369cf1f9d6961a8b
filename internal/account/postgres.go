package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"receipt-workers/internal/models"
)

// PostgresStore keeps account state in the tables created by database.PostgresClient.Migrate.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, id models.SubscriberID, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM account_values
		WHERE subscriber_id = $1 AND key = $2`,
		id.String(), key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("account get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, id models.SubscriberID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_values (subscriber_id, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (subscriber_id, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		id.String(), key, value,
	)
	if err != nil {
		return fmt.Errorf("account set %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Subscriber(ctx context.Context, accountID string) (*models.Subscriber, error) {
	var (
		encoded string
		sub     = models.Subscriber{AccountID: accountID}
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT subscriber_id, currency_code FROM subscribers
		WHERE account_id = $1`,
		accountID,
	).Scan(&encoded, &sub.CurrencyCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", ErrSubscriberNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("account subscriber lookup: %w", err)
	}

	sub.SubscriberID, err = models.ParseSubscriberID(encoded)
	if err != nil {
		return nil, fmt.Errorf("account subscriber lookup: %w", err)
	}
	return &sub, nil
}

func (s *PostgresStore) SaveSubscriber(ctx context.Context, sub *models.Subscriber) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscribers (account_id, subscriber_id, currency_code, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (account_id)
		DO UPDATE SET subscriber_id = EXCLUDED.subscriber_id,
			currency_code = EXCLUDED.currency_code,
			updated_at = now()`,
		sub.AccountID, sub.SubscriberID.String(), sub.CurrencyCode,
	)
	if err != nil {
		return fmt.Errorf("account save subscriber: %w", err)
	}
	return nil
}
