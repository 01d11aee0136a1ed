package postgres

import (
	"strings"
	"testing"
	"time"

	"TechNotesScanner/internal/domain"
)

func TestInsertDocumentSkipsHashConflicts(t *testing.T) {
	t.Parallel()

	doc := domain.Document{
		ID:          "doc-1",
		SourceID:    "src-1",
		Title:       "NT 2024.001",
		URL:         "https://example.com/nt.pdf",
		ContentHash: "abc",
		Status:      domain.StatusPending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	query, args, err := insertDocument(doc).ToSql()
	if err != nil {
		t.Fatalf("ToSql: %v", err)
	}
	if !strings.HasPrefix(query, "INSERT INTO documents") {
		t.Fatalf("unexpected statement: %s", query)
	}
	if !strings.HasSuffix(query, "ON CONFLICT (content_hash) DO NOTHING") {
		t.Fatalf("missing conflict clause: %s", query)
	}
	if !strings.Contains(query, "$12") {
		t.Fatalf("expected dollar placeholders, got %s", query)
	}
	if len(args) != len(documentColumns) {
		t.Fatalf("expected %d args, got %d", len(documentColumns), len(args))
	}
	if args[9] != nil {
		t.Fatalf("empty local path must be stored as NULL, got %v", args[9])
	}
}

func TestListDocumentsByStatusOrdersOldestFirst(t *testing.T) {
	t.Parallel()

	query, args, err := listDocumentsByStatus(domain.StatusPending, 5).ToSql()
	if err != nil {
		t.Fatalf("ToSql: %v", err)
	}
	if !strings.Contains(query, "WHERE status = $1") {
		t.Fatalf("missing status filter: %s", query)
	}
	if !strings.Contains(query, "ORDER BY created_at ASC, id ASC") {
		t.Fatalf("missing FIFO ordering: %s", query)
	}
	if !strings.HasSuffix(query, "LIMIT 5") {
		t.Fatalf("missing limit: %s", query)
	}
	if len(args) != 1 || args[0] != "pending" {
		t.Fatalf("unexpected args: %v", args)
	}

	unbounded, _, err := listDocumentsByStatus(domain.StatusError, 0).ToSql()
	if err != nil {
		t.Fatalf("ToSql: %v", err)
	}
	if strings.Contains(unbounded, "LIMIT") {
		t.Fatalf("zero limit must not be rendered: %s", unbounded)
	}
}

func TestCountDocumentsByStatusScopesSource(t *testing.T) {
	t.Parallel()

	all, args, err := countDocumentsByStatus("").ToSql()
	if err != nil {
		t.Fatalf("ToSql: %v", err)
	}
	if strings.Contains(all, "WHERE") || len(args) != 0 {
		t.Fatalf("unscoped count must not filter: %s %v", all, args)
	}

	scoped, args, err := countDocumentsByStatus("src-1").ToSql()
	if err != nil {
		t.Fatalf("ToSql: %v", err)
	}
	if !strings.Contains(scoped, "WHERE source_id = $1") || !strings.Contains(scoped, "GROUP BY status") {
		t.Fatalf("unexpected scoped query: %s", scoped)
	}
	if len(args) != 1 || args[0] != "src-1" {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestInsertSummaryIsOnePerDocument(t *testing.T) {
	t.Parallel()

	builder, err := insertSummary(domain.Summary{
		ID:             "sum-1",
		DocumentID:     "doc-1",
		Text:           "resumo",
		KeyPoints:      []string{"a", "b"},
		ModelUsed:      "gpt-4o-mini",
		ProcessingTime: 1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("insertSummary: %v", err)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		t.Fatalf("ToSql: %v", err)
	}
	if !strings.HasSuffix(query, "ON CONFLICT (document_id) DO NOTHING") {
		t.Fatalf("missing conflict clause: %s", query)
	}
	if string(args[3].([]byte)) != `["a","b"]` {
		t.Fatalf("key points must be JSON encoded, got %s", args[3])
	}
	if args[7] != int64(1500) {
		t.Fatalf("processing time must be stored in milliseconds, got %v", args[7])
	}
}

func TestUpsertSourceReturnsID(t *testing.T) {
	t.Parallel()

	builder, err := upsertSource(domain.DataSource{
		ID:     "src-1",
		Name:   "nfe_fazenda",
		Config: map[string]string{"referer": "https://example.com"},
	})
	if err != nil {
		t.Fatalf("upsertSource: %v", err)
	}
	query, _, err := builder.ToSql()
	if err != nil {
		t.Fatalf("ToSql: %v", err)
	}
	if !strings.Contains(query, "ON CONFLICT (name) DO UPDATE") || !strings.HasSuffix(query, "RETURNING id") {
		t.Fatalf("unexpected upsert: %s", query)
	}
}
