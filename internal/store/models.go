package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Page is a single path + full HTML document within a project.
type Page struct {
	Path string `json:"path"`
	HTML string `json:"html"`
}

// File is the persisted artifact derived from a Page: content mirrors
// the page HTML and size mirrors its byte length. Files are recomputed
// from pages on every save and never stored independently.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Size    int    `json:"size"`
}

// Commit describes the most recent save of a project. Only the latest
// commit is retained; each save overwrites this slot.
type Commit struct {
	Title     string `json:"title"`
	Timestamp string `json:"timestamp"`
}

type Project struct {
	ID            string
	UserID        string
	Name          string
	Slug          string
	Description   string
	Pages         []Page
	Files         []File
	LastCommit    Commit
	ScreenshotURL string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeriveFiles computes the file list for a set of pages. It is the only
// producer of file records, which keeps files a pure function of pages.
func DeriveFiles(pages []Page) []File {
	files := make([]File, 0, len(pages))
	for _, page := range pages {
		files = append(files, File{
			Path:    page.Path,
			Content: page.HTML,
			Size:    len(page.HTML),
		})
	}
	return files
}
