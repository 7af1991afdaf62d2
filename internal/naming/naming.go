package naming

import (
	"strings"
)

const (
	// TitleSeparator separates the title from the tag list
	TitleSeparator = "--"
	// TagSeparator joins tags in a filename
	TagSeparator = "_"
	// TagInputSeparator splits the user supplied tag string
	TagInputSeparator = ","
)

// SampleFilename holds the parts a final recording filename is built from
type SampleFilename struct {
	Title     string   `json:"title"`
	Tags      []string `json:"tags"`
	Extension string   `json:"extension"`
}

// New sanitizes the title and splits the tag string.
// Tags are kept exactly as typed: "a, b" yields ["a", " b"] and a trailing
// comma yields an empty last tag.
func New(title, tagString, extension string) SampleFilename {
	return SampleFilename{
		Title:     SanitizeTitle(title),
		Tags:      SplitTags(tagString),
		Extension: extension,
	}
}

// Filename composes "<title>--<tag1>_<tag2>.<extension>"
func (s SampleFilename) Filename() string {
	return s.Title + TitleSeparator + strings.Join(s.Tags, TagSeparator) + "." + s.Extension
}

// GeneratePreviewFilename derives the canonical filename for a title and tag string
func GeneratePreviewFilename(title, tagString, extension string) string {
	return New(title, tagString, extension).Filename()
}

// SanitizeTitle removes every space character
func SanitizeTitle(title string) string {
	return strings.ReplaceAll(title, " ", "")
}

// SplitTags splits on commas without trimming or deduplicating
func SplitTags(tagString string) []string {
	return strings.Split(tagString, TagInputSeparator)
}

// Parse splits a filename produced by Filename back into its parts.
// It reports false for names that do not follow the scheme, such as
// temporary session identities.
func Parse(filename string) (SampleFilename, bool) {
	dot := strings.LastIndex(filename, ".")
	if dot <= 0 || dot == len(filename)-1 {
		return SampleFilename{}, false
	}
	stem, ext := filename[:dot], filename[dot+1:]

	title, tagPiece, found := strings.Cut(stem, TitleSeparator)
	if !found {
		return SampleFilename{}, false
	}

	return SampleFilename{
		Title:     title,
		Tags:      strings.Split(tagPiece, TagSeparator),
		Extension: ext,
	}, true
}
