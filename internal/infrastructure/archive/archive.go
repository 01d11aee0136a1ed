package archive

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"TechNotesScanner/internal/config"
	"TechNotesScanner/internal/domain"
	"TechNotesScanner/internal/ports"
)

var unsafeKeyChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// New builds the archive selected by cfg. The "none" driver returns nil.
func New(cfg config.ArchiveConfig) (ports.Archive, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "local":
		local, err := NewLocal(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return local, nil
	case "s3":
		s3, err := NewS3(S3Config{
			Endpoint:        cfg.Endpoint,
			Bucket:          cfg.Bucket,
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
			UseSSL:          cfg.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return s3, nil
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
	}
}

// Key derives the object name for a document: <source>/<yyyy>/<mm>/<hash>.<ext>.
func Key(sourceName string, doc domain.Document, contentType domain.ContentType) string {
	source := unsafeKeyChars.ReplaceAllString(strings.ToLower(sourceName), "_")
	source = strings.Trim(source, "_")
	if source == "" {
		source = "unknown"
	}
	created := doc.CreatedAt
	return path.Join(source, created.Format("2006"), created.Format("01"), doc.ContentHash+"."+extension(contentType))
}

// MIMEType maps a content type to the stored object type.
func MIMEType(contentType domain.ContentType) string {
	switch contentType {
	case domain.ContentPDF:
		return "application/pdf"
	case domain.ContentHTML:
		return "text/html; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

func extension(contentType domain.ContentType) string {
	switch contentType {
	case domain.ContentPDF:
		return "pdf"
	case domain.ContentHTML:
		return "html"
	default:
		return "txt"
	}
}
