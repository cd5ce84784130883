package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukerupert/chefagenda/internal/model"
)

const subscriptionColumns = `id, endpoint, p256dh_key, auth_key, device_name, created_at`

// PushStore keeps the browsers that receive due-today alerts. Endpoints are
// unique; registering a known endpoint refreshes its keys.
type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

func scanSubscription(row rowScanner) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := row.Scan(&sub.ID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.DeviceName, &sub.CreatedAt); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Upsert stores a subscription and returns the stored row. created is false
// when the endpoint was already registered.
func (s *PushStore) Upsert(endpoint, p256dh, auth, deviceName string) (sub *model.PushSubscription, created bool, err error) {
	existing, err := s.GetByEndpoint(endpoint)
	if err != nil {
		return nil, false, err
	}
	if _, err := s.db.Exec(
		`INSERT INTO push_subscriptions (endpoint, p256dh_key, auth_key, device_name)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET
		   p256dh_key = excluded.p256dh_key,
		   auth_key = excluded.auth_key,
		   device_name = excluded.device_name`,
		endpoint, p256dh, auth, deviceName,
	); err != nil {
		return nil, false, fmt.Errorf("upsert push subscription: %w", err)
	}

	sub, err = s.GetByEndpoint(endpoint)
	if err != nil {
		return nil, false, err
	}
	if sub == nil {
		return nil, false, fmt.Errorf("push subscription %q vanished after upsert", endpoint)
	}
	return sub, existing == nil, nil
}

// GetByID returns nil, nil when no row matches.
func (s *PushStore) GetByID(id int64) (*model.PushSubscription, error) {
	sub, err := scanSubscription(s.db.QueryRow(
		`SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription %d: %w", id, err)
	}
	return sub, nil
}

// GetByEndpoint returns nil, nil when no row matches.
func (s *PushStore) GetByEndpoint(endpoint string) (*model.PushSubscription, error) {
	sub, err := scanSubscription(s.db.QueryRow(
		`SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE endpoint = ?`, endpoint))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription by endpoint: %w", err)
	}
	return sub, nil
}

// List returns every subscription, newest first.
func (s *PushStore) List() ([]model.PushSubscription, error) {
	rows, err := s.db.Query(
		`SELECT ` + subscriptionColumns + ` FROM push_subscriptions ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.PushSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *PushStore) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM push_subscriptions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count push subscriptions: %w", err)
	}
	return n, nil
}

// Delete reports whether a row was removed.
func (s *PushStore) Delete(id int64) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete push subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete push subscription: %w", err)
	}
	return n > 0, nil
}

// DeleteByEndpoint drops a subscription the push service reported gone.
func (s *PushStore) DeleteByEndpoint(endpoint string) error {
	if _, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint); err != nil {
		return fmt.Errorf("delete push subscription by endpoint: %w", err)
	}
	return nil
}
