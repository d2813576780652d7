package repository

import (
	"errors"

	"github.com/ManuelReschke/SectionsStack/app/models"
	"gorm.io/gorm"
)

// ErrSectionInUse is returned when a section with entitlements is deleted.
var ErrSectionInUse = errors.New("section has purchases")

// ShopRepository defines the interface for installed-shop operations
type ShopRepository interface {
	GetByDomain(shop string) (*models.ShopAccount, error)
	SaveInstall(shop, accessTokenEnc, scope string) (*models.ShopAccount, error)
	UpdateScope(shop, scope string) error
	SetAdmin(shop string, isAdmin bool) error
	MarkUninstalled(shop string) error
	List() ([]models.ShopAccount, error)
}

// SectionRepository defines the interface for catalog operations
type SectionRepository interface {
	List(filter SectionFilter) ([]models.Section, error)
	GetByID(id string) (*models.Section, error)
	GetContent(sectionID string) (*models.SectionContent, error)
	CreateWithContent(section *models.Section, content string) error
	UpdateWithContent(section *models.Section, content *string) error
	Delete(id string) error
	CountPurchases(sectionID string) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Shop    ShopRepository
	Section SectionRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Shop:    NewShopRepository(db),
		Section: NewSectionRepository(db),
	}
}
