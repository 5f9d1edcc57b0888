package blog

import (
	"encoding/json"
	"errors"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/2beens/blogsrv/internal/apperr"
	"github.com/2beens/blogsrv/internal/user"
)

const (
	TitleMinLength   = 5
	TitleMaxLength   = 50
	SummaryMaxLength = 100
	MaxTags          = 2
)

type Category string

const (
	CategoryAll         Category = "All"
	CategoryTechnology  Category = "Technology"
	CategoryHealth      Category = "Health"
	CategoryAgriculture Category = "Agriculture"
	CategoryMarketing   Category = "Marketing"
	CategorySocial      Category = "Social"
	CategoryBusiness    Category = "Business"
)

var Categories = []Category{
	CategoryAll,
	CategoryTechnology,
	CategoryHealth,
	CategoryAgriculture,
	CategoryMarketing,
	CategorySocial,
	CategoryBusiness,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

type Blog struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Summary    string      `json:"summary"`
	Body       string      `json:"body"`
	Category   Category    `json:"category"`
	Tags       []string    `json:"tags"`
	CoverImage string      `json:"coverImage,omitempty"`
	AuthorID   string      `json:"-"`
	Author     user.Public `json:"author"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// TagsInput holds tags as received: a comma separated string, or a JSON list of strings.
type TagsInput string

func (t *TagsInput) UnmarshalJSON(data []byte) error {
	var csv string
	if err := json.Unmarshal(data, &csv); err == nil {
		*t = TagsInput(csv)
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return errors.New("tags must be a comma separated string or a list of strings")
	}
	*t = TagsInput(strings.Join(list, ","))
	return nil
}

// Fields are the client supplied blog fields. On update, empty fields are left unchanged.
type Fields struct {
	Title    string    `json:"title"`
	Summary  string    `json:"summary"`
	Body     string    `json:"body"`
	Category string    `json:"category"`
	Tags     TagsInput `json:"tags"`
}

// ParseTags splits a comma separated tags list, trimming entries and dropping empty ones.
func ParseTags(csv string) []string {
	tags := []string{}
	for _, tag := range strings.Split(csv, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

var (
	bodyPolicy = bluemonday.UGCPolicy()
	// summaries are plain text
	summaryPolicy = bluemonday.StrictPolicy()
)

// plainText drops any markup from s. The strict policy escapes what it keeps, which is
// undone so that "&" and quotes survive as typed (and count as one character each).
func plainText(s string) string {
	return strings.TrimSpace(html.UnescapeString(summaryPolicy.Sanitize(s)))
}

// normalize trims the text fields, strips markup from the summary and sanitizes the body HTML.
func (b *Blog) normalize() {
	b.Title = strings.TrimSpace(b.Title)
	b.Summary = plainText(b.Summary)
	b.Body = strings.TrimSpace(bodyPolicy.Sanitize(b.Body))
	if b.Tags == nil {
		b.Tags = []string{}
	}
}

func (b *Blog) Validate() error {
	titleLen := utf8.RuneCountInString(b.Title)
	if titleLen < TitleMinLength || titleLen > TitleMaxLength {
		return apperr.Validation("title must be between %d and %d characters long", TitleMinLength, TitleMaxLength)
	}
	if utf8.RuneCountInString(b.Summary) > SummaryMaxLength {
		return apperr.Validation("summary must be at most %d characters long", SummaryMaxLength)
	}
	if b.Body == "" {
		return apperr.Validation("body is required")
	}
	if !b.Category.Valid() {
		return apperr.Validation("invalid category %q", b.Category)
	}
	if len(b.Tags) > MaxTags {
		return apperr.Validation("exceeds the limit of %d tags", MaxTags)
	}
	return nil
}
