package repository

import (
	"fmt"

	"github.com/ManuelReschke/SectionsStack/app/models"
	"gorm.io/gorm"
)

// sectionRepository implements the SectionRepository interface
type sectionRepository struct {
	db *gorm.DB
}

// NewSectionRepository creates a new section repository instance
func NewSectionRepository(db *gorm.DB) SectionRepository {
	return &sectionRepository{db: db}
}

// List retrieves catalog sections matching filter, newest first
func (r *sectionRepository) List(filter SectionFilter) ([]models.Section, error) {
	var sections []models.Section
	err := applySectionFilter(r.db.Model(&models.Section{}), filter).Find(&sections).Error
	return sections, err
}

// GetByID retrieves a section by its id
func (r *sectionRepository) GetByID(id string) (*models.Section, error) {
	var section models.Section
	err := r.db.Where("id = ?", id).First(&section).Error
	if err != nil {
		return nil, err
	}
	return &section, nil
}

// GetContent retrieves the Liquid source of a section
func (r *sectionRepository) GetContent(sectionID string) (*models.SectionContent, error) {
	var content models.SectionContent
	err := r.db.Where("section_id = ?", sectionID).First(&content).Error
	if err != nil {
		return nil, err
	}
	return &content, nil
}

// CreateWithContent stores a section and its Liquid source atomically
func (r *sectionRepository) CreateWithContent(section *models.Section, content string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(section).Error; err != nil {
			return err
		}
		return tx.Create(&models.SectionContent{SectionID: section.ID, Content: content}).Error
	})
}

// UpdateWithContent saves section and, when content is non-nil, replaces its source
func (r *sectionRepository) UpdateWithContent(section *models.Section, content *string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(section).Error; err != nil {
			return err
		}
		if content == nil {
			return nil
		}
		var existing int64
		if err := tx.Model(&models.SectionContent{}).Where("section_id = ?", section.ID).Count(&existing).Error; err != nil {
			return err
		}
		if existing == 0 {
			return tx.Create(&models.SectionContent{SectionID: section.ID, Content: *content}).Error
		}
		return tx.Model(&models.SectionContent{}).Where("section_id = ?", section.ID).Update("content", *content).Error
	})
}

// Delete removes the content first, then the section. Sections that a shop
// already owns are kept so no entitlement loses its target.
func (r *sectionRepository) Delete(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var purchases int64
		if err := tx.Model(&models.Purchase{}).Where("section_id = ?", id).Count(&purchases).Error; err != nil {
			return err
		}
		if purchases > 0 {
			return fmt.Errorf("%w: %d", ErrSectionInUse, purchases)
		}
		if err := tx.Where("section_id = ?", id).Delete(&models.SectionContent{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Section{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// CountPurchases counts entitlements referencing the section
func (r *sectionRepository) CountPurchases(sectionID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Purchase{}).Where("section_id = ?", sectionID).Count(&count).Error
	return count, err
}
