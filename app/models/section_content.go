package models

import "time"

// SectionContent holds the Liquid source pushed into merchant themes.
type SectionContent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SectionID string    `gorm:"type:char(24);not null;uniqueIndex:ux_section_contents_section" json:"section_id"`
	Content   string    `gorm:"type:longtext;not null" json:"content"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ThemeFilename is the path of the section file inside a theme.
func (s *Section) ThemeFilename() string {
	slug := Slugify(s.Name)
	if slug == "" {
		slug = s.ID
	}
	return "sections/" + slug + ".liquid"
}
