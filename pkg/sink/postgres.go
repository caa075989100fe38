package sink

import (
	"context"
	"os"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/opusatlas/refdata/pkg/errors"
	"github.com/opusatlas/refdata/pkg/models"
)

func init() {
	Register("postgres", newPostgresSink)
}

const createEntitiesTable = `
CREATE TABLE IF NOT EXISTS refdata_entities (
    kind            TEXT NOT NULL,
    sort_key        TEXT NOT NULL,
    display_name    TEXT NOT NULL,
    name_variants   JSONB,
    birth_year      INT,
    death_year      INT,
    flourished_year INT,
    title           TEXT,
    composer_key    TEXT,
    catalog_no      TEXT,
    facets          JSONB,
    work_count      INT,
    sources         JSONB NOT NULL,
    attrs           JSONB,
    conflicts       JSONB,
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (kind, sort_key)
)`

const upsertEntity = `
INSERT INTO refdata_entities (
    kind, sort_key, display_name, name_variants, birth_year, death_year,
    flourished_year, title, composer_key, catalog_no, facets, work_count,
    sources, attrs, conflicts, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now())
ON CONFLICT (kind, sort_key) DO UPDATE SET
    display_name    = EXCLUDED.display_name,
    name_variants   = EXCLUDED.name_variants,
    birth_year      = EXCLUDED.birth_year,
    death_year      = EXCLUDED.death_year,
    flourished_year = EXCLUDED.flourished_year,
    title           = EXCLUDED.title,
    composer_key    = EXCLUDED.composer_key,
    catalog_no      = EXCLUDED.catalog_no,
    facets          = EXCLUDED.facets,
    work_count      = EXCLUDED.work_count,
    sources         = EXCLUDED.sources,
    attrs           = EXCLUDED.attrs,
    conflicts       = EXCLUDED.conflicts,
    updated_at      = now()`

// postgresSink upserts entities keyed by (kind, sort_key), so re-accepting an
// updated entity replaces its previous row. Identity is the primary key; the
// merge layer guarantees one entity per identity per run.
type postgresSink struct {
	dsn    string
	logger *zap.Logger
	pool   *pgxpool.Pool
}

func newPostgresSink(opts map[string]string, logger *zap.Logger) (Sink, error) {
	dsn := opts["dsn"]
	if dsn == "" {
		dsn = os.Getenv("REFDATA_POSTGRES_DSN")
	}
	if dsn == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "postgres sink requires dsn option or REFDATA_POSTGRES_DSN")
	}
	return &postgresSink{dsn: dsn, logger: logger.With(zap.String("sink", "postgres"))}, nil
}

func (s *postgresSink) Open(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, s.dsn)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to connect to postgres")
	}
	if _, err := pool.Exec(ctx, createEntitiesTable); err != nil {
		pool.Close()
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to create entities table")
	}
	s.pool = pool
	s.logger.Info("postgres sink opened")
	return nil
}

func (s *postgresSink) Accept(ctx context.Context, e *models.CanonicalEntity) error {
	if s.pool == nil {
		return errors.New(errors.ErrorTypeSink, "postgres sink not open")
	}
	variants, err := jsonb(e.NameVariants)
	if err != nil {
		return err
	}
	facets, err := jsonb(e.Facets)
	if err != nil {
		return err
	}
	sources, err := jsonb(e.Sources)
	if err != nil {
		return err
	}
	attrs, err := jsonb(e.Attrs)
	if err != nil {
		return err
	}
	conflicts, err := jsonb(e.Conflicts)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, upsertEntity,
		string(e.Kind), e.SortKey, e.DisplayName, variants,
		nullYear(e.BirthYear), nullYear(e.DeathYear), nullYear(e.FlourishedYear),
		e.Title, e.ComposerKey, e.CatalogNo, facets, e.WorkCount,
		sources, attrs, conflicts,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to upsert entity")
	}
	return nil
}

func (s *postgresSink) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

// jsonb marshals a value for a JSONB column; nil collections become SQL NULL.
func jsonb(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case []string:
		if t == nil {
			return nil, nil
		}
	case map[string]int:
		if t == nil {
			return nil, nil
		}
	case map[string]models.SourceAttrs:
		if t == nil {
			return nil, nil
		}
	case []models.Conflict:
		if t == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSink, "failed to marshal jsonb value")
	}
	return b, nil
}

func nullYear(y int) interface{} {
	if y == 0 {
		return nil
	}
	return y
}
