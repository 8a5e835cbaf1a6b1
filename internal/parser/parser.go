// Package parser extracts indexable text from repository files.
package parser

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"

	"repo-rag/internal/models"
)

// File types recorded on chunks and accepted by the search tool.
const (
	TypeMarkdown    = "markdown"
	TypePython      = "python"
	TypeJavaScript  = "javascript"
	TypeTypeScript  = "typescript"
	TypeJava        = "java"
	TypeGo          = "go"
	TypeText        = "text"
	TypePDF         = "pdf"
	TypeDocument    = "document"
	TypeSpreadsheet = "spreadsheet"
	TypeSlides      = "slides"
)

var fileTypes = map[string]string{
	".md":   TypeMarkdown,
	".py":   TypePython,
	".js":   TypeJavaScript,
	".ts":   TypeTypeScript,
	".java": TypeJava,
	".go":   TypeGo,
	".txt":  TypeText,
	".pdf":  TypePDF,
	".docx": TypeDocument,
	".xlsx": TypeSpreadsheet,
	".ods":  TypeSpreadsheet,
	".pptx": TypeSlides,
}

// FileType maps a path to its file type, or "" when the extension is unsupported.
func FileType(path string) string {
	return fileTypes[strings.ToLower(filepath.Ext(path))]
}

// ParseFile returns the text worth indexing from the file at path. Unsupported or
// unreadable files fail with a ParseError.
func ParseFile(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))

	var (
		text string
		err  error
	)
	switch ext {
	case ".md":
		text, err = parseMarkdown(path)
	case ".py", ".js", ".ts", ".java", ".go":
		text, err = parseCode(path)
	case ".txt":
		text, err = parseText(path)
	case ".pdf":
		text, err = parsePDF(path)
	case ".docx":
		text, err = parseDOCX(path)
	case ".pptx":
		text, err = parsePPTX(path)
	case ".xlsx":
		text, err = parseXLSX(path)
	case ".ods":
		text, err = parseODS(path)
	default:
		return "", models.NewError(models.ErrParse, "parse "+path, fmt.Errorf("unsupported file format: %s", ext))
	}
	if err != nil {
		return "", models.NewError(models.ErrParse, "parse "+path, err)
	}
	return strings.TrimSpace(text), nil
}

func parseText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(data), ""), nil
}

func parsePDF(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", err
	}
	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		text.WriteString(pageText)
		text.WriteString("\n\n")
	}
	return text.String(), nil
}

func parseDOCX(path string) (string, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", err
	}
	defer r.Close()

	var paragraphs []string
	for _, p := range strings.Split(r.Editable().GetContent(), "\n") {
		if p = strings.TrimSpace(stripXML(p)); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return strings.Join(paragraphs, "\n"), nil
}

func parsePPTX(path string) (string, error) {
	f, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var text strings.Builder
	for _, file := range f.File {
		if !strings.HasPrefix(file.Name, "ppt/slides/slide") {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		if slide := strings.TrimSpace(extractSlideText(string(data))); slide != "" {
			text.WriteString(slide)
			text.WriteString("\n\n")
		}
	}
	return text.String(), nil
}

func parseXLSX(path string) (string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, sheet := range f.Sheets {
		fmt.Fprintf(&text, "## Sheet: %s\n", sheet.Name)
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			text.WriteString(strings.Join(cells, "\t"))
			text.WriteString("\n")
		}
	}
	return text.String(), nil
}

func parseODS(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var text strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		fmt.Fprintf(&text, "## Sheet: %s\n", sheetName)
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
	}
	return text.String(), nil
}

func extractSlideText(xmlContent string) string {
	var text strings.Builder
	parts := strings.Split(xmlContent, "<a:t>")
	for i, part := range parts {
		if i == 0 {
			continue
		}
		if end := strings.Index(part, "</a:t>"); end >= 0 {
			text.WriteString(part[:end] + " ")
		}
	}
	return text.String()
}

// stripXML drops tags left in docx paragraph content.
func stripXML(s string) string {
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '<':
			depth++
		case r == '>' && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
