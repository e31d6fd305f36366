package text

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfsearch/internal/testutils/pdffixture"
)

func TestExtract_NotAPDF(t *testing.T) {
	_, err := Extract([]byte("definitely not a pdf"))
	assert.Error(t, err)
}

func TestExtract_Empty(t *testing.T) {
	_, err := Extract(nil)
	assert.Error(t, err)
}

func TestExtractFile_Missing(t *testing.T) {
	_, err := ExtractFile(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExtractFile_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	assert.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\ngarbage without xref"), 0o600))

	_, err := ExtractFile(path)
	assert.Error(t, err)
}

func TestExtract_SinglePage(t *testing.T) {
	doc, err := Extract(pdffixture.HelloWorld())
	require.NoError(t, err)

	assert.Equal(t, 1, doc.Pages)
	assert.Equal(t, "Hello world", strings.TrimSpace(doc.Text))
}

func TestExtractFile_SinglePage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.pdf")
	require.NoError(t, os.WriteFile(path, pdffixture.SinglePage("page (one)", pdffixture.Info{}), 0o600))

	doc, err := ExtractFile(path)
	require.NoError(t, err)
	assert.Contains(t, doc.Text, "page (one)")
}
