package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"TechNotesScanner/internal/config"
	"TechNotesScanner/internal/domain"
)

func TestKeyLayout(t *testing.T) {
	t.Parallel()

	doc := domain.Document{
		ContentHash: "d41d8cd98f00b204e9800998ecf8427e",
		CreatedAt:   time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC),
	}
	got := Key("NFE FAZENDA", doc, domain.ContentPDF)
	want := "nfe_fazenda/2024/03/d41d8cd98f00b204e9800998ecf8427e.pdf"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}

	if got := Key("***", doc, domain.ContentHTML); got != "unknown/2024/03/d41d8cd98f00b204e9800998ecf8427e.html" {
		t.Fatalf("unexpected fallback key %s", got)
	}
}

func TestLocalPut(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store, err := NewLocal(root)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	location, err := store.Put(context.Background(), "src/2024/01/abc.pdf", []byte("%PDF-1.4"), MIMEType(domain.ContentPDF))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if location != filepath.Join(root, "src", "2024", "01", "abc.pdf") {
		t.Fatalf("unexpected location %s", location)
	}
	data, err := os.ReadFile(location)
	if err != nil {
		t.Fatalf("read archived file: %v", err)
	}
	if string(data) != "%PDF-1.4" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestLocalPutRejectsEscapingKeys(t *testing.T) {
	t.Parallel()

	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	for _, key := range []string{"../outside.pdf", "/etc/passwd", ""} {
		if _, err := store.Put(context.Background(), key, []byte("x"), "text/plain"); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}

func TestNewSelectsDriver(t *testing.T) {
	t.Parallel()

	none, err := New(config.ArchiveConfig{Driver: "none"})
	if err != nil || none != nil {
		t.Fatalf("expected nil archive for none driver, got %v %v", none, err)
	}

	local, err := New(config.ArchiveConfig{Driver: "local", Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New local: %v", err)
	}
	if _, ok := local.(*Local); !ok {
		t.Fatalf("expected *Local, got %T", local)
	}

	s3, err := New(config.ArchiveConfig{Driver: "s3", Endpoint: "localhost:9000", Bucket: "technotes"})
	if err != nil {
		t.Fatalf("New s3: %v", err)
	}
	if s3.(*S3).Bucket() != "technotes" {
		t.Fatalf("unexpected bucket")
	}

	if _, err := New(config.ArchiveConfig{Driver: "ftp"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
