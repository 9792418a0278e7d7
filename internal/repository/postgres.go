package repository

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/UnknownOlympus/cartograph/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrRecordNotFound is returned when an update matches no rows.
var ErrRecordNotFound = errors.New("no record with this address")

const connectTimeout = 10 * time.Second

// NewDatabase opens a connection pool to PostgreSQL and verifies it with a ping.
func NewDatabase(host, port, user, password, name string) (*pgxpool.Pool, error) {
	dsn := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, password),
		Host:   net.JoinHostPort(host, port),
		Path:   name,
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn.String())
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// FetchUnresolved retrieves up to limit records that have an address but no latitude yet.
// Addresses listed in skip are excluded; the caller uses it to avoid refetching rows it
// already gave up on during the current run.
func (r *Repository) FetchUnresolved(ctx context.Context, limit int, skip []string) ([]models.Record, error) {
	if skip == nil {
		// a NULL array would make NOT (address = ANY($2)) filter out every row
		skip = []string{}
	}

	query := fmt.Sprintf(`
		SELECT address
		FROM %s
		WHERE
			lat IS NULL
			AND address IS NOT NULL AND address <> ''
			AND NOT (address = ANY($2))
		LIMIT $1;
	`, r.table)

	rows, err := r.db.Query(ctx, query, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("failed to query unresolved records: %w", err)
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		var record models.Record
		if errScan := rows.Scan(&record.Address); errScan != nil {
			return nil, fmt.Errorf("failed to scan unresolved record: %w", errScan)
		}
		r.log.DebugContext(ctx, "Fetched record without coordinates", "address", record.Address)
		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read row: %w", err)
	}

	return records, nil
}

// UpdateCoordinates stores coordinates on every row carrying address.
func (r *Repository) UpdateCoordinates(ctx context.Context, address string, coords models.Coordinates) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET
			lat = $1,
			lon = $2
		WHERE
			address = $3;
	`, r.table)

	tag, err := r.db.Exec(ctx, query, coords.Latitude, coords.Longitude, address)
	if err != nil {
		return fmt.Errorf("failed to update record coordinates: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update record coordinates: %w", ErrRecordNotFound)
	}

	return nil
}
