package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	CategoryHero        = "hero"
	CategoryTestimonial = "testimonial"
	CategoryVideo       = "video"
	CategoryText        = "text"
	CategoryImages      = "images"
	CategorySnippet     = "snippet"
	CategoryCountdown   = "countdown"
	CategoryScrolling   = "scrolling"
	CategoryFeatured    = "featured"
	CategoryOther       = "other"
)

// SectionCategories is the closed set of catalog categories.
var SectionCategories = []string{
	CategoryHero,
	CategoryTestimonial,
	CategoryVideo,
	CategoryText,
	CategoryImages,
	CategorySnippet,
	CategoryCountdown,
	CategoryScrolling,
	CategoryFeatured,
	CategoryOther,
}

// Section is a purchasable Liquid section in the catalog. IDs are 24 hex
// characters so they can be embedded in Shopify charge names and matched back
// from webhook payloads.
type Section struct {
	ID               string                      `gorm:"type:char(24);primaryKey" json:"id"`
	Name             string                      `gorm:"type:varchar(191);not null;index" json:"name"`
	Identifier       string                      `gorm:"type:varchar(191);not null;uniqueIndex:ux_sections_identifier" json:"identifier"`
	Description      string                      `gorm:"type:text" json:"description"`
	DetailedFeatures datatypes.JSONSlice[string] `gorm:"type:json" json:"detailed_features"`
	Category         string                      `gorm:"type:varchar(32);not null;index" json:"category"`
	Tags             datatypes.JSONSlice[string] `gorm:"type:json" json:"tags"`
	ThumbnailURL     string                      `gorm:"type:varchar(500);default:''" json:"thumbnail_url"`
	ImageGallery     datatypes.JSONSlice[string] `gorm:"type:json" json:"image_gallery"`
	Price            float64                     `gorm:"type:decimal(10,2);not null;default:0" json:"price"`
	IsFree           bool                        `gorm:"not null;index" json:"is_free"`
	IsPopular        bool                        `gorm:"default:false;index" json:"is_popular"`
	IsTrending       bool                        `gorm:"default:false;index" json:"is_trending"`
	IsFeatured       bool                        `gorm:"default:false;index" json:"is_featured"`
	DownloadCount    int64                       `gorm:"default:0" json:"download_count"`
	Rating           float64                     `gorm:"type:decimal(2,1);default:0" json:"rating"`
	DemoURL          string                      `gorm:"type:varchar(500);default:''" json:"demo_url"`
	CreatedAt        time.Time                   `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *Section) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = NewSectionID()
	}
	if s.Identifier == "" {
		s.Identifier = Slugify(s.Name) + "-" + s.ID[len(s.ID)-6:]
	}
	return nil
}

// RequiresPayment reports whether installing the section needs a paid charge.
// A zero price always means free, whatever the flag says.
func (s *Section) RequiresPayment() bool {
	return !s.IsFree && s.Price > 0
}

// NewSectionID returns a fresh 24 hex character section id.
func NewSectionID() string {
	return primitive.NewObjectID().Hex()
}

// IsValidSectionID reports whether id has the shape of a section id.
func IsValidSectionID(id string) bool {
	_, err := primitive.ObjectIDFromHex(id)
	return err == nil
}

// IsValidCategory reports whether c belongs to SectionCategories.
func IsValidCategory(c string) bool {
	for _, known := range SectionCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Slugify turns a display name into a lowercase, dash separated token.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
