package extract

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestText_Plain(t *testing.T) {
	out, err := Text("notes.txt", []byte("IAM manages access."))
	require.NoError(t, err)
	assert.Equal(t, "IAM manages access.", out)

	out, err = Text("README.md", []byte("# Heading"))
	require.NoError(t, err)
	assert.Equal(t, "# Heading", out)
}

func TestText_Unsupported(t *testing.T) {
	_, err := Text("photo.png", []byte{0x89, 0x50})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestText_Docx(t *testing.T) {
	doc := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>
  </w:body>
</w:document>`

	out, err := Text("notes.docx", buildDocx(t, doc))
	require.NoError(t, err)
	assert.Equal(t, "First paragraph.\nSecond paragraph.", out)
}

func TestText_DocxMissingDocument(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	require.NoError(t, zw.Close())

	_, err := Text("notes.docx", buf.Bytes())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "word/document.xml")
}

func TestText_DocxNotAZip(t *testing.T) {
	_, err := Text("notes.docx", []byte("not a zip"))
	require.Error(t, err)
}
