package postgres

import (
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"TechNotesScanner/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS data_sources (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL UNIQUE,
    base_url     TEXT NOT NULL,
    listing_url  TEXT NOT NULL,
    content_type TEXT NOT NULL,
    scraper      TEXT NOT NULL DEFAULT '',
    active       BOOLEAN NOT NULL DEFAULT TRUE,
    config       JSONB,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS documents (
    id               TEXT PRIMARY KEY,
    source_id        TEXT NOT NULL REFERENCES data_sources(id),
    title            TEXT NOT NULL,
    url              TEXT NOT NULL,
    content_hash     TEXT NOT NULL UNIQUE,
    publication_date TIMESTAMPTZ,
    status           TEXT NOT NULL DEFAULT 'pending',
    size             INTEGER NOT NULL DEFAULT 0,
    preview          TEXT NOT NULL DEFAULT '',
    local_path       TEXT,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS documents_source_url_idx ON documents (source_id, url);
CREATE INDEX IF NOT EXISTS documents_status_created_idx ON documents (status, created_at);

CREATE TABLE IF NOT EXISTS summaries (
    id                 TEXT PRIMARY KEY,
    document_id        TEXT NOT NULL UNIQUE REFERENCES documents(id),
    text               TEXT NOT NULL,
    key_points         JSONB,
    changes_identified JSONB,
    topics             JSONB,
    model_used         TEXT NOT NULL,
    processing_ms      BIGINT NOT NULL DEFAULT 0,
    token_count        INTEGER NOT NULL DEFAULT 0,
    confidence_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS processing_logs (
    id          TEXT PRIMARY KEY,
    document_id TEXT,
    operation   TEXT NOT NULL,
    level       TEXT NOT NULL,
    message     TEXT NOT NULL,
    details     JSONB,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

var sourceColumns = []string{
	"id", "name", "base_url", "listing_url", "content_type",
	"scraper", "active", "config", "created_at", "updated_at",
}

var documentColumns = []string{
	"id", "source_id", "title", "url", "content_hash", "publication_date",
	"status", "size", "preview", "local_path", "created_at", "updated_at",
}

func selectSources() sq.SelectBuilder {
	return psql.Select(sourceColumns...).From("data_sources")
}

func selectSourceByName(name string) sq.SelectBuilder {
	return selectSources().Where(sq.Eq{"name": name})
}

func upsertSource(source domain.DataSource) (sq.InsertBuilder, error) {
	config, err := json.Marshal(source.Config)
	if err != nil {
		return sq.InsertBuilder{}, fmt.Errorf("encode source config: %w", err)
	}
	return psql.Insert("data_sources").
		Columns(sourceColumns...).
		Values(
			source.ID, source.Name, source.BaseURL, source.ListingURL, string(source.ContentType),
			source.Scraper, source.Active, config, source.CreatedAt, source.UpdatedAt,
		).
		Suffix(`ON CONFLICT (name) DO UPDATE SET
    base_url = EXCLUDED.base_url,
    listing_url = EXCLUDED.listing_url,
    content_type = EXCLUDED.content_type,
    scraper = EXCLUDED.scraper,
    active = EXCLUDED.active,
    config = EXCLUDED.config,
    updated_at = EXCLUDED.updated_at
RETURNING id`), nil
}

func selectDocuments() sq.SelectBuilder {
	return psql.Select(documentColumns...).From("documents")
}

func insertDocument(doc domain.Document) sq.InsertBuilder {
	var localPath any
	if doc.LocalPath != "" {
		localPath = doc.LocalPath
	}
	return psql.Insert("documents").
		Columns(documentColumns...).
		Values(
			doc.ID, doc.SourceID, doc.Title, doc.URL, doc.ContentHash, doc.PublicationDate,
			string(doc.Status), doc.Size, doc.Preview, localPath, doc.CreatedAt, doc.UpdatedAt,
		).
		Suffix("ON CONFLICT (content_hash) DO NOTHING")
}

func existsDocument(where sq.Eq) sq.SelectBuilder {
	return psql.Select("COUNT(*) > 0").From("documents").Where(where)
}

func updateDocumentStatus(id string, status domain.DocumentStatus) sq.UpdateBuilder {
	return psql.Update("documents").
		Set("status", string(status)).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id})
}

func listDocumentsByStatus(status domain.DocumentStatus, limit int) sq.SelectBuilder {
	builder := selectDocuments().
		Where(sq.Eq{"status": string(status)}).
		OrderBy("created_at ASC", "id ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	return builder
}

func countDocumentsByStatus(sourceID string) sq.SelectBuilder {
	builder := psql.Select("status", "COUNT(*)").From("documents").GroupBy("status")
	if sourceID != "" {
		builder = builder.Where(sq.Eq{"source_id": sourceID})
	}
	return builder
}

func insertSummary(s domain.Summary) (sq.InsertBuilder, error) {
	keyPoints, err := json.Marshal(s.KeyPoints)
	if err != nil {
		return sq.InsertBuilder{}, fmt.Errorf("encode key points: %w", err)
	}
	changes, err := json.Marshal(s.ChangesIdentified)
	if err != nil {
		return sq.InsertBuilder{}, fmt.Errorf("encode changes: %w", err)
	}
	topics, err := json.Marshal(s.Topics)
	if err != nil {
		return sq.InsertBuilder{}, fmt.Errorf("encode topics: %w", err)
	}
	return psql.Insert("summaries").
		Columns(
			"id", "document_id", "text", "key_points", "changes_identified", "topics",
			"model_used", "processing_ms", "token_count", "confidence_score", "created_at",
		).
		Values(
			s.ID, s.DocumentID, s.Text, keyPoints, changes, topics,
			s.ModelUsed, s.ProcessingTime.Milliseconds(), s.TokenCount, s.ConfidenceScore, s.CreatedAt,
		).
		Suffix("ON CONFLICT (document_id) DO NOTHING"), nil
}

func selectSummaryByDocument(documentID string) sq.SelectBuilder {
	return psql.Select(
		"id", "document_id", "text", "key_points", "changes_identified", "topics",
		"model_used", "processing_ms", "token_count", "confidence_score", "created_at",
	).From("summaries").Where(sq.Eq{"document_id": documentID})
}

func modelUsage() sq.SelectBuilder {
	return psql.Select("model_used", "COUNT(*)").From("summaries").GroupBy("model_used")
}

func insertLog(entry domain.ProcessingLogEntry) (sq.InsertBuilder, error) {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return sq.InsertBuilder{}, fmt.Errorf("encode log details: %w", err)
	}
	var documentID any
	if entry.DocumentID != "" {
		documentID = entry.DocumentID
	}
	return psql.Insert("processing_logs").
		Columns("id", "document_id", "operation", "level", "message", "details", "duration_ms", "created_at").
		Values(
			entry.ID, documentID, string(entry.Operation), string(entry.Level), entry.Message,
			details, entry.Duration.Milliseconds(), entry.CreatedAt,
		), nil
}

func listLogs(documentID string, limit int) sq.SelectBuilder {
	builder := psql.Select("id", "document_id", "operation", "level", "message", "details", "duration_ms", "created_at").
		From("processing_logs").
		OrderBy("created_at DESC")
	if documentID != "" {
		builder = builder.Where(sq.Eq{"document_id": documentID})
	}
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	return builder
}
