package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"GazetteScanner/internal/domain"
	"GazetteScanner/internal/ports"
)

const auditActor = "extraction-engine"

// Open connects to the publication store. driver is "postgres" (lib/pq)
// or "sqlite" (modernc, cgo-free) for local runs.
func Open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return db, nil
}

// Repository persists extracted publications and their audit trail. The
// same code serves both drivers; only the placeholder format differs.
type Repository struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ ports.PublicationRepository = (*Repository)(nil)

// NewRepository wires a sql.DB with the placeholder format of its driver.
func NewRepository(db *sql.DB, driver string) *Repository {
	var format sq.PlaceholderFormat = sq.Question
	if driver == "postgres" {
		format = sq.Dollar
	}
	return &Repository{db: db, sb: sq.StatementBuilder.PlaceholderFormat(format)}
}

// EnsureSchema creates the publication and audit tables if absent.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS publications (
			process_key       TEXT PRIMARY KEY,
			process_number    TEXT NOT NULL,
			publication_date  TIMESTAMP,
			availability_date TIMESTAMP NOT NULL,
			authors           TEXT NOT NULL,
			defendant         TEXT NOT NULL,
			lawyers           TEXT NOT NULL,
			gross_value       BIGINT,
			net_value         BIGINT,
			interest_value    BIGINT,
			attorney_fees     BIGINT,
			content           TEXT NOT NULL,
			start_page        INTEGER NOT NULL,
			end_page          INTEGER NOT NULL,
			low_confidence    BOOLEAN NOT NULL,
			status            TEXT NOT NULL,
			created_at        TIMESTAMP NOT NULL,
			updated_at        TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS publication_audit (
			id          TEXT PRIMARY KEY,
			process_key TEXT NOT NULL,
			action      TEXT NOT NULL,
			actor       TEXT NOT NULL,
			old_data    TEXT NOT NULL,
			new_data    TEXT NOT NULL,
			created_at  TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// FindByProcessNumbers returns the stored publications for the given
// process numbers (normalized before lookup), keyed by normalized number.
func (r *Repository) FindByProcessNumbers(ctx context.Context, numbers []string) (map[string]domain.Publication, error) {
	if len(numbers) == 0 {
		return map[string]domain.Publication{}, nil
	}

	keys := make([]string, len(numbers))
	for i, n := range numbers {
		keys[i] = domain.NormalizeProcessNumber(n)
	}

	query, args, err := r.sb.Select(
		"process_key", "process_number", "publication_date", "availability_date",
		"authors", "defendant", "lawyers",
		"gross_value", "net_value", "interest_value", "attorney_fees",
		"content", "start_page", "end_page", "low_confidence",
	).From("publications").Where(sq.Eq{"process_key": keys}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build lookup query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query publications: %w", err)
	}
	defer rows.Close()

	result := make(map[string]domain.Publication)
	for rows.Next() {
		var (
			key             string
			pub             domain.Publication
			publicationDate sql.NullTime
			authorsJSON     string
			lawyersJSON     string
			gross, net      sql.NullInt64
			interest, fees  sql.NullInt64
		)
		if err := rows.Scan(&key, &pub.ProcessNumber, &publicationDate, &pub.AvailabilityDate,
			&authorsJSON, &pub.Defendant, &lawyersJSON,
			&gross, &net, &interest, &fees,
			&pub.Content, &pub.StartPage, &pub.EndPage, &pub.LowConfidence); err != nil {
			return nil, fmt.Errorf("scan publication: %w", err)
		}

		if publicationDate.Valid {
			t := publicationDate.Time
			pub.PublicationDate = &t
		}
		pub.GrossValue = nullableInt64(gross)
		pub.NetValue = nullableInt64(net)
		pub.InterestValue = nullableInt64(interest)
		pub.AttorneyFees = nullableInt64(fees)

		if err := json.Unmarshal([]byte(authorsJSON), &pub.Authors); err != nil {
			return nil, fmt.Errorf("decode authors for %s: %w", key, err)
		}
		if err := json.Unmarshal([]byte(lawyersJSON), &pub.Lawyers); err != nil {
			return nil, fmt.Errorf("decode lawyers for %s: %w", key, err)
		}

		result[key] = pub
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return result, nil
}

// Create inserts a freshly extracted publication in state NEW.
func (r *Repository) Create(ctx context.Context, pub domain.Publication) error {
	authorsJSON, lawyersJSON, err := encodeLists(pub)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query, args, err := r.sb.Insert("publications").Columns(
		"process_key", "process_number", "publication_date", "availability_date",
		"authors", "defendant", "lawyers",
		"gross_value", "net_value", "interest_value", "attorney_fees",
		"content", "start_page", "end_page", "low_confidence",
		"status", "created_at", "updated_at",
	).Values(
		pub.Key(), pub.ProcessNumber, pub.PublicationDate, pub.AvailabilityDate,
		authorsJSON, pub.Defendant, lawyersJSON,
		pub.GrossValue, pub.NetValue, pub.InterestValue, pub.AttorneyFees,
		pub.Content, pub.StartPage, pub.EndPage, pub.LowConfidence,
		string(domain.StatusNew), now, now,
	).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert publication %s: %w", pub.ProcessNumber, err)
	}
	return nil
}

// UpdateWithAudit replaces the stored snapshot and appends the old/new
// pair to the audit log in the same transaction. Status is left
// untouched: transitions belong to the manual workflow, not the engine.
func (r *Repository) UpdateWithAudit(ctx context.Context, previous, updated domain.Publication) error {
	authorsJSON, lawyersJSON, err := encodeLists(updated)
	if err != nil {
		return err
	}
	oldData, err := json.Marshal(previous)
	if err != nil {
		return fmt.Errorf("encode previous snapshot: %w", err)
	}
	newData, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("encode updated snapshot: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	query, args, err := r.sb.Update("publications").
		SetMap(map[string]interface{}{
			"process_number":    updated.ProcessNumber,
			"publication_date":  updated.PublicationDate,
			"availability_date": updated.AvailabilityDate,
			"authors":           authorsJSON,
			"defendant":         updated.Defendant,
			"lawyers":           lawyersJSON,
			"gross_value":       updated.GrossValue,
			"net_value":         updated.NetValue,
			"interest_value":    updated.InterestValue,
			"attorney_fees":     updated.AttorneyFees,
			"content":           updated.Content,
			"start_page":        updated.StartPage,
			"end_page":          updated.EndPage,
			"low_confidence":    updated.LowConfidence,
			"updated_at":        time.Now().UTC(),
		}).
		Where(sq.Eq{"process_key": updated.Key()}).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update publication %s: %w", updated.ProcessNumber, err)
	}

	query, args, err = r.sb.Insert("publication_audit").Columns(
		"id", "process_key", "action", "actor", "old_data", "new_data", "created_at",
	).Values(
		uuid.NewString(), updated.Key(), "UPDATE", auditActor,
		string(oldData), string(newData), time.Now().UTC(),
	).ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert audit row for %s: %w", updated.ProcessNumber, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update %s: %w", updated.ProcessNumber, err)
	}
	return nil
}

func encodeLists(pub domain.Publication) (string, string, error) {
	authors := pub.Authors
	if authors == nil {
		authors = []string{}
	}
	lawyers := pub.Lawyers
	if lawyers == nil {
		lawyers = []domain.Lawyer{}
	}

	authorsJSON, err := json.Marshal(authors)
	if err != nil {
		return "", "", fmt.Errorf("encode authors: %w", err)
	}
	lawyersJSON, err := json.Marshal(lawyers)
	if err != nil {
		return "", "", fmt.Errorf("encode lawyers: %w", err)
	}
	return string(authorsJSON), string(lawyersJSON), nil
}

func nullableInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	value := v.Int64
	return &value
}
