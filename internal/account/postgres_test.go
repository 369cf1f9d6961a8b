package account

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"testing"

	"receipt-workers/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testID() models.SubscriberID {
	return models.SubscriberID(bytes.Repeat([]byte{1}, models.SubscriberIDSize))
}

func TestPostgresStore_SetLastEndOfPeriod(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := testID()
	mock.ExpectExec(`INSERT INTO account_values`).
		WithArgs(id.String(), KeyLastEndOfPeriod, "1700006400").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPostgresStore(db)
	require.NoError(t, SetLastEndOfPeriod(context.Background(), store, id, 1700006400))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LastEndOfPeriod(t *testing.T) {
	t.Run("stored value", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		id := testID()
		mock.ExpectQuery(`SELECT value FROM account_values WHERE subscriber_id = \$1 AND key = \$2`).
			WithArgs(id.String(), KeyLastEndOfPeriod).
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("1700006400"))

		got, err := LastEndOfPeriod(context.Background(), NewPostgresStore(db), id)
		require.NoError(t, err)
		assert.Equal(t, int64(1700006400), got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nothing recorded", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`SELECT value FROM account_values`).
			WillReturnError(sql.ErrNoRows)

		got, err := LastEndOfPeriod(context.Background(), NewPostgresStore(db), testID())
		require.NoError(t, err)
		assert.Zero(t, got)
	})

	t.Run("database failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`SELECT value FROM account_values`).
			WillReturnError(errors.New("connection reset"))

		_, err = LastEndOfPeriod(context.Background(), NewPostgresStore(db), testID())
		assert.Error(t, err)
	})
}

func TestPostgresStore_Subscriber(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		id := testID()
		mock.ExpectQuery(`SELECT subscriber_id, currency_code FROM subscribers WHERE account_id = \$1`).
			WithArgs("acct-1").
			WillReturnRows(sqlmock.NewRows([]string{"subscriber_id", "currency_code"}).AddRow(id.String(), "USD"))

		sub, err := NewPostgresStore(db).Subscriber(context.Background(), "acct-1")
		require.NoError(t, err)
		assert.True(t, sub.SubscriberID.Equal(id))
		assert.Equal(t, "USD", sub.CurrencyCode)
		assert.Equal(t, "acct-1", sub.AccountID)
	})

	t.Run("missing", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`SELECT subscriber_id, currency_code FROM subscribers`).
			WithArgs("acct-2").
			WillReturnError(sql.ErrNoRows)

		_, err = NewPostgresStore(db).Subscriber(context.Background(), "acct-2")
		assert.ErrorIs(t, err, ErrSubscriberNotFound)
	})

	t.Run("corrupt subscriber id", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`SELECT subscriber_id, currency_code FROM subscribers`).
			WillReturnRows(sqlmock.NewRows([]string{"subscriber_id", "currency_code"}).AddRow("short", "USD"))

		_, err = NewPostgresStore(db).Subscriber(context.Background(), "acct-3")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrSubscriberNotFound)
	})
}

func TestPostgresStore_SaveSubscriber(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sub := &models.Subscriber{AccountID: "acct-1", SubscriberID: testID(), CurrencyCode: "EUR"}
	mock.ExpectExec(`INSERT INTO subscribers`).
		WithArgs("acct-1", sub.SubscriberID.String(), "EUR").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewPostgresStore(db).SaveSubscriber(context.Background(), sub))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id := testID()

	got, err := LastEndOfPeriod(ctx, store, id)
	require.NoError(t, err)
	assert.Zero(t, got)

	require.NoError(t, SetLastEndOfPeriod(ctx, store, id, 42))
	got, err = LastEndOfPeriod(ctx, store, id)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)

	_, err = store.Subscriber(ctx, "nobody")
	assert.ErrorIs(t, err, ErrSubscriberNotFound)
}
