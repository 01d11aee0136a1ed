package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TechNotesScanner/internal/domain"
)

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(Strategy{Name: "nfe"})
	reg.Register(Strategy{Name: "pdf"})

	s, err := reg.ForSource(domain.DataSource{Name: "a", Scraper: "nfe"})
	require.NoError(t, err)
	assert.Equal(t, "nfe", s.Name)

	s, err = reg.ForSource(domain.DataSource{Name: "b", ContentType: domain.ContentPDF})
	require.NoError(t, err)
	assert.Equal(t, "pdf", s.Name)

	_, err = reg.ForSource(domain.DataSource{Name: "c", Scraper: "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source c")
}
