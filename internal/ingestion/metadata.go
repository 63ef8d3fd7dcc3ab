package ingestion

import (
	"path/filepath"
	"strings"
)

// InferredMetadata holds the course, title and document kind inferred from a
// course file's location and name. Explicit CLI flags take precedence; this is
// the best-effort fallback when the operator does not pass them.
type InferredMetadata struct {
	// CourseID is the name of the folder holding the file.
	CourseID string
	// Title is the file name without extension, separators replaced by spaces.
	Title string
	// DocType classifies the material (lecture, exercise, exam, summary, syllabus, material).
	DocType string
}

// docTypeKeywords maps a lowercase file-name token to a document kind.
var docTypeKeywords = map[string]string{
	"aula":       "lecture",
	"slides":     "lecture",
	"lecture":    "lecture",
	"lista":      "exercise",
	"exercicio":  "exercise",
	"exercicios": "exercise",
	"exercise":   "exercise",
	"prova":      "exam",
	"exame":      "exam",
	"exam":       "exam",
	"resumo":     "summary",
	"summary":    "summary",
	"ementa":     "syllabus",
	"plano":      "syllabus",
	"syllabus":   "syllabus",
}

// InferMetadata inspects a course file path and returns best-effort metadata.
// Unknown names yield DocType "material". A file directly under the working
// directory yields an empty CourseID.
//
// Supported layouts:
//
//	<root>/<course_id>/<file>.pdf
//	<course_id>/<file>.txt
func InferMetadata(path string) InferredMetadata {
	m := InferredMetadata{DocType: "material"}

	clean := filepath.Clean(path)
	if dir := filepath.Base(filepath.Dir(clean)); dir != "." && dir != string(filepath.Separator) {
		m.CourseID = dir
	}

	base := filepath.Base(clean)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	m.Title = strings.Join(nameTokens(stem, false), " ")

	for _, tok := range nameTokens(stem, true) {
		if kind, ok := docTypeKeywords[tok]; ok {
			m.DocType = kind
			break
		}
	}
	return m
}

// nameTokens splits a file stem on '_', '-', '.' and spaces, dropping empty
// parts. When lower is set, tokens are lowercased and trailing digits removed
// so "Aula03" matches "aula".
func nameTokens(stem string, lower bool) []string {
	parts := strings.FieldsFunc(stem, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' '
	})
	if !lower {
		return parts
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimRight(strings.ToLower(p), "0123456789")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
