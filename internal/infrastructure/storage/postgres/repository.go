package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"TechNotesScanner/internal/domain"
	"TechNotesScanner/internal/ports"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Repository persists sources, documents, summaries and audit entries into Postgres.
type Repository struct {
	db *sql.DB
}

var _ ports.Store = (*Repository)(nil)

// Open connects through the pgx database/sql driver.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	db := stdlib.OpenDB(*cfg)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewRepository(db), nil
}

// NewRepository wires a sql.DB implementation.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the schema when it does not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close releases the pool.
func (r *Repository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// GetSourceByName loads a data source by its unique name.
func (r *Repository) GetSourceByName(ctx context.Context, name string) (domain.DataSource, error) {
	query, args, err := selectSourceByName(name).ToSql()
	if err != nil {
		return domain.DataSource{}, fmt.Errorf("build query: %w", err)
	}

	var (
		source domain.DataSource
		config []byte
	)
	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&source.ID, &source.Name, &source.BaseURL, &source.ListingURL, &source.ContentType,
		&source.Scraper, &source.Active, &config, &source.CreatedAt, &source.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DataSource{}, fmt.Errorf("source %s: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return domain.DataSource{}, fmt.Errorf("query source: %w", err)
	}
	if err := unmarshalNullable(config, &source.Config); err != nil {
		return domain.DataSource{}, fmt.Errorf("decode source config: %w", err)
	}
	return source, nil
}

// SaveSource upserts by unique name.
func (r *Repository) SaveSource(ctx context.Context, source *domain.DataSource) error {
	if source.ID == "" {
		source.ID = uuid.NewString()
	}
	now := time.Now()
	if source.CreatedAt.IsZero() {
		source.CreatedAt = now
	}
	source.UpdatedAt = now

	builder, err := upsertSource(*source)
	if err != nil {
		return err
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&source.ID); err != nil {
		return fmt.Errorf("upsert source: %w", err)
	}
	return nil
}

// ListSources returns every data source ordered by name.
func (r *Repository) ListSources(ctx context.Context) ([]domain.DataSource, error) {
	query, args, err := selectSources().OrderBy("name").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var sources []domain.DataSource
	for rows.Next() {
		var (
			source domain.DataSource
			config []byte
		)
		if err := rows.Scan(
			&source.ID, &source.Name, &source.BaseURL, &source.ListingURL, &source.ContentType,
			&source.Scraper, &source.Active, &config, &source.CreatedAt, &source.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		if err := unmarshalNullable(config, &source.Config); err != nil {
			return nil, fmt.Errorf("decode source config: %w", err)
		}
		sources = append(sources, source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return sources, nil
}

// SetSourceActive toggles the active flag of a stored data source.
func (r *Repository) SetSourceActive(ctx context.Context, name string, active bool) error {
	query, args, err := psql.Update("data_sources").
		Set("active", active).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"name": name}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("source %s: %w", name, domain.ErrNotFound)
	}
	return nil
}

// CreateDocument relies on the unique content_hash index; a conflicting insert affects no rows.
func (r *Repository) CreateDocument(ctx context.Context, doc *domain.Document) error {
	if doc.ContentHash == "" {
		return fmt.Errorf("document content hash is required")
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	query, args, err := insertDocument(*doc).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("hash %s: %w", doc.ContentHash, domain.ErrDuplicate)
	}
	return nil
}

// GetDocument loads one document by id.
func (r *Repository) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	query, args, err := selectDocuments().Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Document{}, fmt.Errorf("build query: %w", err)
	}
	doc, err := scanDocument(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return doc, err
}

// ExistsByURL reports whether sourceID already has a document for url.
func (r *Repository) ExistsByURL(ctx context.Context, sourceID, url string) (bool, error) {
	return r.exists(ctx, existsDocument(sq.Eq{"source_id": sourceID, "url": url}))
}

// ExistsByHash reports whether a document with the content hash was stored.
func (r *Repository) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	return r.exists(ctx, existsDocument(sq.Eq{"content_hash": hash}))
}

func (r *Repository) exists(ctx context.Context, builder sq.SelectBuilder) (bool, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}
	var found bool
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&found); err != nil {
		return false, fmt.Errorf("query exists: %w", err)
	}
	return found, nil
}

// UpdateStatus moves a document to status and stamps updated_at.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus) error {
	query, args, err := updateDocumentStatus(id, status).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListByStatus returns documents in status, oldest first.
func (r *Repository) ListByStatus(ctx context.Context, status domain.DocumentStatus, limit int) ([]domain.Document, error) {
	query, args, err := listDocumentsByStatus(status, limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return docs, nil
}

// CountByStatus counts documents per status. An empty sourceID counts all sources.
func (r *Repository) CountByStatus(ctx context.Context, sourceID string) (map[domain.DocumentStatus]int, error) {
	query, args, err := countDocumentsByStatus(sourceID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.DocumentStatus]int, len(domain.AllStatuses))
	for _, status := range domain.AllStatuses {
		counts[status] = 0
	}
	for rows.Next() {
		var (
			status domain.DocumentStatus
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return counts, nil
}

// CreateSummary relies on the unique document_id index.
func (r *Repository) CreateSummary(ctx context.Context, summary *domain.Summary) error {
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now()
	}

	builder, err := insertSummary(*summary)
	if err != nil {
		return err
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", summary.DocumentID, domain.ErrAlreadyProcessed)
	}
	return nil
}

// GetSummaryByDocument loads the summary of documentID.
func (r *Repository) GetSummaryByDocument(ctx context.Context, documentID string) (domain.Summary, error) {
	query, args, err := selectSummaryByDocument(documentID).ToSql()
	if err != nil {
		return domain.Summary{}, fmt.Errorf("build query: %w", err)
	}

	var (
		s                        domain.Summary
		keyPoints, changes, tops []byte
		processingMillis         int64
	)
	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&s.ID, &s.DocumentID, &s.Text, &keyPoints, &changes, &tops, &s.ModelUsed,
		&processingMillis, &s.TokenCount, &s.ConfidenceScore, &s.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Summary{}, fmt.Errorf("summary for %s: %w", documentID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Summary{}, fmt.Errorf("query summary: %w", err)
	}
	s.ProcessingTime = time.Duration(processingMillis) * time.Millisecond
	for _, pair := range []struct {
		raw []byte
		dst *[]string
	}{{keyPoints, &s.KeyPoints}, {changes, &s.ChangesIdentified}, {tops, &s.Topics}} {
		if err := unmarshalNullable(pair.raw, pair.dst); err != nil {
			return domain.Summary{}, fmt.Errorf("decode summary lists: %w", err)
		}
	}
	return s, nil
}

// HasSummary reports whether documentID already has a summary.
func (r *Repository) HasSummary(ctx context.Context, documentID string) (bool, error) {
	return r.exists(ctx, psql.Select("COUNT(*) > 0").From("summaries").Where(sq.Eq{"document_id": documentID}))
}

// CountSummaries counts stored summaries.
func (r *Repository) CountSummaries(ctx context.Context) (int, error) {
	query, args, err := psql.Select("COUNT(*)").From("summaries").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count summaries: %w", err)
	}
	return count, nil
}

// ModelUsage counts summaries per model identifier.
func (r *Repository) ModelUsage(ctx context.Context) (map[string]int, error) {
	query, args, err := modelUsage().ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query model usage: %w", err)
	}
	defer rows.Close()

	usage := map[string]int{}
	for rows.Next() {
		var (
			model string
			count int
		)
		if err := rows.Scan(&model, &count); err != nil {
			return nil, fmt.Errorf("scan model usage: %w", err)
		}
		usage[model] = count
	}
	return usage, rows.Err()
}

// AppendLog inserts an audit entry.
func (r *Repository) AppendLog(ctx context.Context, entry *domain.ProcessingLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	builder, err := insertLog(*entry)
	if err != nil {
		return err
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	return nil
}

// ListLogs returns the newest entries first. An empty documentID lists all entries.
func (r *Repository) ListLogs(ctx context.Context, documentID string, limit int) ([]domain.ProcessingLogEntry, error) {
	query, args, err := listLogs(documentID, limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var entries []domain.ProcessingLogEntry
	for rows.Next() {
		var (
			entry    domain.ProcessingLogEntry
			docID    sql.NullString
			details  []byte
			duration int64
		)
		if err := rows.Scan(&entry.ID, &docID, &entry.Operation, &entry.Level, &entry.Message, &details, &duration, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entry.DocumentID = docID.String
		entry.Duration = time.Duration(duration) * time.Millisecond
		if err := unmarshalNullable(details, &entry.Details); err != nil {
			return nil, fmt.Errorf("decode log details: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var (
		doc       domain.Document
		pubDate   sql.NullTime
		localPath sql.NullString
	)
	err := row.Scan(
		&doc.ID, &doc.SourceID, &doc.Title, &doc.URL, &doc.ContentHash, &pubDate,
		&doc.Status, &doc.Size, &doc.Preview, &localPath, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Document{}, err
		}
		return domain.Document{}, fmt.Errorf("scan document: %w", err)
	}
	if pubDate.Valid {
		t := pubDate.Time
		doc.PublicationDate = &t
	}
	doc.LocalPath = localPath.String
	return doc, nil
}

func unmarshalNullable(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
