package repository

import (
	"strconv"
	"strings"

	"github.com/ManuelReschke/SectionsStack/app/models"
	"gorm.io/gorm"
)

// Catalog pseudo categories accepted next to the concrete ones.
const (
	FilterAll      = "all"
	FilterNewest   = "newest"
	FilterFree     = "free"
	FilterPaid     = "paid"
	FilterPopular  = "popular"
	FilterTrending = "trending"
	FilterFeatured = "featured"
)

// SectionFilter narrows the catalog listing.
type SectionFilter struct {
	Category string
	Search   string
	Limit    int
	Offset   int
}

// Normalized trims the filter and maps an empty category to "all".
func (f SectionFilter) Normalized() SectionFilter {
	f.Category = strings.ToLower(strings.TrimSpace(f.Category))
	if f.Category == "" {
		f.Category = FilterAll
	}
	f.Search = strings.TrimSpace(f.Search)
	if f.Limit < 0 {
		f.Limit = 0
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// CacheKey identifies the filter in the catalog cache.
func (f SectionFilter) CacheKey() string {
	n := f.Normalized()
	var b strings.Builder
	b.WriteString(n.Category)
	b.WriteByte('|')
	b.WriteString(strings.ToLower(n.Search))
	if n.Limit > 0 || n.Offset > 0 {
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(n.Limit))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(n.Offset))
	}
	return b.String()
}

// IsKnownCategoryFilter reports whether c is a pseudo or concrete category.
func IsKnownCategoryFilter(c string) bool {
	switch c {
	case FilterAll, FilterNewest, FilterFree, FilterPaid, FilterPopular, FilterTrending, FilterFeatured:
		return true
	}
	return models.IsValidCategory(c)
}

func applySectionFilter(q *gorm.DB, f SectionFilter) *gorm.DB {
	f = f.Normalized()

	switch f.Category {
	case FilterAll, FilterNewest:
	case FilterFree:
		q = q.Where("is_free = ?", true)
	case FilterPaid:
		q = q.Where("is_free = ?", false)
	case FilterPopular:
		q = q.Where("is_popular = ?", true)
	case FilterTrending:
		q = q.Where("is_trending = ?", true)
	case FilterFeatured:
		q = q.Where("is_featured = ?", true)
	default:
		q = q.Where("category = ?", f.Category)
	}

	if f.Search != "" {
		like := "%" + escapeLike(strings.ToLower(f.Search)) + "%"
		q = q.Where(
			"(LOWER(name) LIKE ? OR LOWER(description) LIKE ? OR LOWER(identifier) LIKE ? OR LOWER(CAST(tags AS CHAR)) LIKE ? OR LOWER(category) LIKE ?)",
			like, like, like, like, like,
		)
	}

	q = q.Order("created_at DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit).Offset(f.Offset)
	}
	return q
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
