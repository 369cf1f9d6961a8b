// Package account holds the local account state the receipt workflow reads and
// writes alongside the remote subscription.
package account

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"receipt-workers/internal/models"
)

// KeyLastEndOfPeriod records the end of the most recently observed paid period, in Unix seconds.
const KeyLastEndOfPeriod = "subscription.last_end_of_period"

// ErrSubscriberNotFound is returned when an account has no stored subscriber.
var ErrSubscriberNotFound = errors.New("SUBSCRIBER_NOT_FOUND")

// Store is keyed account state plus the subscriber registry.
type Store interface {
	Get(ctx context.Context, id models.SubscriberID, key string) (value string, found bool, err error)
	Set(ctx context.Context, id models.SubscriberID, key, value string) error
	Subscriber(ctx context.Context, accountID string) (*models.Subscriber, error)
	SaveSubscriber(ctx context.Context, sub *models.Subscriber) error
}

func SetLastEndOfPeriod(ctx context.Context, s Store, id models.SubscriberID, endOfPeriod int64) error {
	return s.Set(ctx, id, KeyLastEndOfPeriod, strconv.FormatInt(endOfPeriod, 10))
}

// LastEndOfPeriod returns 0 when nothing was recorded yet.
func LastEndOfPeriod(ctx context.Context, s Store, id models.SubscriberID) (int64, error) {
	v, found, err := s.Get(ctx, id, KeyLastEndOfPeriod)
	if err != nil || !found {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu          sync.RWMutex
	values      map[string]string
	subscribers map[string]models.Subscriber
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:      make(map[string]string),
		subscribers: make(map[string]models.Subscriber),
	}
}

func (m *MemoryStore) Get(_ context.Context, id models.SubscriberID, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[id.String()+"/"+key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, id models.SubscriberID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[id.String()+"/"+key] = value
	return nil
}

func (m *MemoryStore) Subscriber(_ context.Context, accountID string) (*models.Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subscribers[accountID]
	if !ok {
		return nil, ErrSubscriberNotFound
	}
	return &sub, nil
}

func (m *MemoryStore) SaveSubscriber(_ context.Context, sub *models.Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers[sub.AccountID] = *sub
	return nil
}
