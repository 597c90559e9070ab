package schema

import (
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// UntitledTitle is used when content has no usable first line.
const UntitledTitle = "Untitled"

// MaxFolderNameLength bounds folder names.
const MaxFolderNameLength = 255

var (
	headingPrefix = regexp.MustCompile(`^#+\s*`)
	folderName    = regexp.MustCompile(`^[^/]+$`)
)

// Note is a markdown note. Title is always derived from Content.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	FolderID  *string   `json:"folderId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks if the Note has valid field values.
func (n *Note) Validate() error {
	return validation.ValidateStruct(n,
		validation.Field(&n.ID, validation.Required),
		validation.Field(&n.Title, validation.Required),
		validation.Field(&n.FolderID, validation.NilOrNotEmpty),
		validation.Field(&n.CreatedAt, validation.Required),
		validation.Field(&n.UpdatedAt, validation.Required),
	)
}

// Folder is a node in the folder tree.
type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  *string   `json:"parentId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks if the Folder has valid field values.
func (f *Folder) Validate() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.ID, validation.Required),
		validation.Field(&f.Name,
			validation.Required,
			validation.Length(1, MaxFolderNameLength),
			validation.Match(folderName).Error("folder name cannot contain slashes"),
		),
		validation.Field(&f.ParentID, validation.NilOrNotEmpty),
		validation.Field(&f.CreatedAt, validation.Required),
		validation.Field(&f.UpdatedAt, validation.Required),
	)
}

// ExtractTitle returns the first line of markdown with heading markers
// stripped, or UntitledTitle when nothing remains.
func ExtractTitle(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return UntitledTitle
	}

	firstLine, _, _ := strings.Cut(markdown, "\n")
	firstLine = strings.TrimSpace(firstLine)
	if firstLine == "" {
		return UntitledTitle
	}

	title := strings.TrimSpace(headingPrefix.ReplaceAllString(firstLine, ""))
	if title == "" {
		return UntitledTitle
	}
	return title
}
