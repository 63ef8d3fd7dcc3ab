// Package courses enumerates the courses a deployment knows about: course
// folders on disk (DirLister) and, through the Scraper interface, the courses
// a student is enrolled in on the LMS.
package courses

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Course is one course as seen by a lister or scraper.
type Course struct {
	// ID is the opaque course_id, e.g. the LMS numeric id or folder name.
	ID string `json:"id"`
	// Name is a human-readable label.
	Name string `json:"name,omitempty"`
	// URL is the course page on the LMS, when known.
	URL string `json:"url,omitempty"`
	// Details holds free-form descriptive text from the LMS.
	Details string `json:"details,omitempty"`
	// Dir is the local folder holding the course documents, when known.
	Dir string `json:"dir,omitempty"`
	// Documents lists the ingestible files under Dir.
	Documents []string `json:"documents,omitempty"`
}

// Credentials authenticate a student against the LMS.
type Credentials struct {
	Username string
	Password string
}

// ErrInvalidCredentials is returned by a Scraper when login fails.
var ErrInvalidCredentials = errors.New("courses: invalid credentials")

// Scraper logs into the LMS and lists the student's courses.
type Scraper interface {
	ListCourses(ctx context.Context, creds Credentials) ([]Course, error)
}

// documentExts are the file extensions DirLister treats as course documents.
var documentExts = []string{".pdf", ".txt", ".md"}

// DirLister enumerates course folders under a root directory. Each immediate
// sub-directory is one course whose ID is the folder name.
type DirLister struct {
	Root string
}

// NewDirLister returns a DirLister rooted at root.
func NewDirLister(root string) *DirLister {
	return &DirLister{Root: root}
}

// List returns one Course per sub-directory of Root, ordered by ID. Folders
// with no documents are still listed. Hidden folders are skipped.
func (l *DirLister) List() ([]Course, error) {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		return nil, fmt.Errorf("courses: read %s: %w", l.Root, err)
	}

	out := []Course{}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		c, err := l.Course(e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Course) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// Course returns the course for folder id under Root.
func (l *DirLister) Course(id string) (Course, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return Course{}, fmt.Errorf("courses: invalid course id %q", id)
	}
	dir := filepath.Join(l.Root, id)
	docs, err := Documents(dir)
	if err != nil {
		return Course{}, err
	}
	return Course{ID: id, Name: id, Dir: dir, Documents: docs}, nil
}

// Documents lists the ingestible files directly inside dir, sorted by path.
func Documents(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("courses: read %s: %w", dir, err)
	}
	docs := []string{}
	for _, e := range entries {
		if e.IsDir() || !IsDocument(e.Name()) {
			continue
		}
		docs = append(docs, filepath.Join(dir, e.Name()))
	}
	slices.Sort(docs)
	return docs, nil
}

// IsDocument reports whether name has an ingestible extension.
func IsDocument(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return slices.Contains(documentExts, ext) && !strings.HasPrefix(filepath.Base(name), ".")
}
