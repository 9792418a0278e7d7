package repository

import (
	"context"
	"log/slog"
	"strings"

	"github.com/UnknownOlympus/cartograph/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultTable holds the address records when no table is configured.
const DefaultTable = "houses"

// Database is the subset of *pgxpool.Pool the repository needs.
type Database interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type Repository struct {
	db    Database
	log   *slog.Logger
	table string
}

type Interface interface {
	FetchUnresolved(ctx context.Context, limit int, skip []string) ([]models.Record, error)
	UpdateCoordinates(ctx context.Context, address string, coords models.Coordinates) error
}

// NewRepository creates a new instance of Repository with the provided Database.
// table may be schema-qualified ("public.houses"); it is quoted before use.
func NewRepository(db Database, log *slog.Logger, table string) *Repository {
	if strings.TrimSpace(table) == "" {
		table = DefaultTable
	}

	return &Repository{
		db:    db,
		log:   log,
		table: pgx.Identifier(strings.Split(table, ".")).Sanitize(),
	}
}
