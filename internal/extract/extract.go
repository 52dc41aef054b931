package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrUnsupported is returned for file types ingestion does not handle.
var ErrUnsupported = errors.New("unsupported file type")

// Text extracts plain text from an uploaded study-material file, switching
// on the object key's extension.
func Text(key string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".txt", ".md":
		return string(data), nil
	case ".pdf":
		return pdfText(data)
	case ".docx":
		return docxText(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, key)
	}
}

// pdfText extracts page content via pdfcpu. pdfcpu works on files, so the
// bytes go through a temp file under the Lambda's /tmp.
func pdfText(data []byte) (string, error) {
	tempDir, err := os.MkdirTemp("", "ingest-pdf")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	tempFile := filepath.Join(tempDir, "in.pdf")
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return "", fmt.Errorf("write temp pdf: %w", err)
	}

	outDir := filepath.Join(tempDir, "pages")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", err
	}

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(tempFile, outDir, nil, conf); err != nil {
		return "", fmt.Errorf("extract pdf content: %w", err)
	}

	files, err := os.ReadDir(outDir)
	if err != nil {
		return "", err
	}

	pageTexts := map[int]string{}
	maxPage := 0
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, f.Name()))
		if err != nil {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(f.Name(), "page_%d", &pageNum); err != nil {
			if _, err := fmt.Sscanf(f.Name(), "Content_page_%d", &pageNum); err != nil {
				continue
			}
		}
		pageTexts[pageNum] = string(content)
		if pageNum > maxPage {
			maxPage = pageNum
		}
	}

	var b strings.Builder
	for p := 1; p <= maxPage; p++ {
		if pageTexts[p] == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(pageTexts[p])
	}
	return b.String(), nil
}

// docxText reads word/document.xml out of the docx zip and collects the
// run text, one line per paragraph.
func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}

	var docXML io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docXML, err = f.Open()
			if err != nil {
				return "", fmt.Errorf("open document.xml: %w", err)
			}
			break
		}
	}
	if docXML == nil {
		return "", fmt.Errorf("docx has no word/document.xml")
	}
	defer docXML.Close()

	var b strings.Builder
	dec := xml.NewDecoder(docXML)
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
