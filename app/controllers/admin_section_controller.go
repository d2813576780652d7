package controllers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/SectionsStack/app/models"
	"github.com/ManuelReschke/SectionsStack/app/repository"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/usercontext"
)

// AdminSectionController manages the catalog for admin shops
type AdminSectionController struct {
	sections repository.SectionRepository
	cache    SectionCache
	validate *validator.Validate
	now      func() time.Time
}

// NewAdminSectionController creates a new admin catalog controller
func NewAdminSectionController(sections repository.SectionRepository, cache SectionCache) *AdminSectionController {
	v := validator.New()
	_ = v.RegisterValidation("section_category", func(fl validator.FieldLevel) bool {
		return models.IsValidCategory(fl.Field().String())
	})
	return &AdminSectionController{sections: sections, cache: cache, validate: v, now: time.Now}
}

type sectionInput struct {
	Name             string   `json:"name" validate:"required,max=191"`
	Identifier       string   `json:"identifier" validate:"omitempty,max=191"`
	Description      string   `json:"description" validate:"max=5000"`
	Category         string   `json:"category" validate:"required,section_category"`
	Type             string   `json:"type" validate:"required,oneof=free paid"`
	Price            float64  `json:"price" validate:"gte=0,lte=10000"`
	ThumbnailURL     string   `json:"thumbnail_url" validate:"omitempty,url,max=500"`
	DemoURL          string   `json:"demo_url" validate:"omitempty,url,max=500"`
	ImageGallery     []string `json:"image_gallery" validate:"dive,url"`
	DetailedFeatures []string `json:"detailed_features" validate:"dive,max=500"`
	Tags             []string `json:"tags" validate:"dive,max=64"`
	IsPopular        bool     `json:"is_popular"`
	IsTrending       bool     `json:"is_trending"`
	IsFeatured       bool     `json:"is_featured"`
	Rating           float64  `json:"rating" validate:"gte=0,lte=5"`
	CustomCode       *string  `json:"custom_code"`
}

func (in *sectionInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Identifier = strings.TrimSpace(in.Identifier)
	in.Description = strings.TrimSpace(in.Description)
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	in.Type = strings.ToLower(strings.TrimSpace(in.Type))
	in.ThumbnailURL = strings.TrimSpace(in.ThumbnailURL)
	in.DemoURL = strings.TrimSpace(in.DemoURL)
	in.Tags = compactStrings(in.Tags)
	in.ImageGallery = compactStrings(in.ImageGallery)
	in.DetailedFeatures = compactStrings(in.DetailedFeatures)
}

func (in *sectionInput) check(v *validator.Validate) error {
	if err := v.Struct(in); err != nil {
		return err
	}
	if in.Type == "paid" && in.Price <= 0 {
		return errors.New("paid sections need a price above 0")
	}
	return nil
}

func (in *sectionInput) apply(s *models.Section) {
	s.Name = in.Name
	if in.Identifier != "" {
		s.Identifier = in.Identifier
	}
	s.Description = in.Description
	s.Category = in.Category
	s.IsFree = in.Type == "free"
	s.Price = in.Price
	if s.IsFree {
		s.Price = 0
	}
	s.ThumbnailURL = in.ThumbnailURL
	s.DemoURL = in.DemoURL
	s.ImageGallery = datatypes.JSONSlice[string](in.ImageGallery)
	s.DetailedFeatures = datatypes.JSONSlice[string](in.DetailedFeatures)
	s.Tags = datatypes.JSONSlice[string](in.Tags)
	s.IsPopular = in.IsPopular
	s.IsTrending = in.IsTrending
	s.IsFeatured = in.IsFeatured
	s.Rating = in.Rating
}

func compactStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (ac *AdminSectionController) parseInput(c *fiber.Ctx) (*sectionInput, error) {
	in := new(sectionInput)
	if err := c.BodyParser(in); err != nil {
		return nil, jsonError(c, fiber.StatusBadRequest, "invalid_body", "Request body could not be parsed")
	}
	in.normalize()
	if err := in.check(ac.validate); err != nil {
		return nil, jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", validationMessage(err))
	}
	return in, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// HandleList returns the whole catalog, newest first
func (ac *AdminSectionController) HandleList(c *fiber.Ctx) error {
	sections, err := ac.sections.List(repository.SectionFilter{Category: repository.FilterAll})
	if err != nil {
		log.Errorf("[Admin] list sections failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not load sections")
	}
	if sections == nil {
		sections = []models.Section{}
	}
	return c.JSON(fiber.Map{"sections": sections})
}

// HandleGet returns one section with its Liquid source
func (ac *AdminSectionController) HandleGet(c *fiber.Ctx) error {
	section, err := loadSection(c, ac.sections, c.Params("id"))
	if section == nil {
		return err
	}
	content, err := ac.sections.GetContent(section.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Errorf("[Admin] load content for %s failed: %v", section.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not load content")
	}
	code := ""
	if content != nil {
		code = content.Content
	}
	purchases, err := ac.sections.CountPurchases(section.ID)
	if err != nil {
		log.Warnf("[Admin] count purchases for %s failed: %v", section.ID, err)
	}
	return c.JSON(fiber.Map{"section": section, "content": code, "purchases": purchases})
}

// HandleCreate adds a section. Without custom_code a starter Liquid file is generated.
func (ac *AdminSectionController) HandleCreate(c *fiber.Ctx) error {
	in, err := ac.parseInput(c)
	if in == nil {
		return err
	}

	section := &models.Section{ID: models.NewSectionID()}
	in.apply(section)

	code := ""
	if in.CustomCode != nil {
		code = *in.CustomCode
	}
	if strings.TrimSpace(code) == "" {
		code, err = models.DefaultSectionContent(section, ac.now())
		if err != nil {
			log.Errorf("[Admin] scaffold for %q failed: %v", section.Name, err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not generate section code")
		}
	}

	if err := ac.sections.CreateWithContent(section, code); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return jsonError(c, fiber.StatusConflict, "identifier_taken", "A section with this identifier already exists")
		}
		log.Errorf("[Admin] create section %q failed: %v", section.Name, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not create section")
	}
	invalidateCatalog(ac.cache)

	log.Infof("[Admin] created section %s (%s) by shop=%s", section.ID, section.Name, usercontext.GetShopDomain(c))
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"section": section})
}

// HandleUpdate replaces the editable fields of a section. Content is only
// touched when custom_code is present in the body.
func (ac *AdminSectionController) HandleUpdate(c *fiber.Ctx) error {
	section, err := loadSection(c, ac.sections, c.Params("id"))
	if section == nil {
		return err
	}
	in, err := ac.parseInput(c)
	if in == nil {
		return err
	}
	in.apply(section)

	if err := ac.sections.UpdateWithContent(section, in.CustomCode); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return jsonError(c, fiber.StatusConflict, "identifier_taken", "A section with this identifier already exists")
		}
		log.Errorf("[Admin] update section %s failed: %v", section.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not update section")
	}
	invalidateCatalog(ac.cache)

	log.Infof("[Admin] updated section %s by shop=%s", section.ID, usercontext.GetShopDomain(c))
	return c.JSON(fiber.Map{"section": section})
}

// HandleDelete removes a section and its content. Sections that shops
// already own cannot be deleted.
func (ac *AdminSectionController) HandleDelete(c *fiber.Ctx) error {
	id := strings.ToLower(strings.TrimSpace(c.Params("id")))
	if !models.IsValidSectionID(id) {
		return jsonError(c, fiber.StatusBadRequest, "invalid_section_id", "")
	}

	err := ac.sections.Delete(id)
	switch {
	case errors.Is(err, repository.ErrSectionInUse):
		return jsonError(c, fiber.StatusConflict, "section_in_use", "Section has purchases and cannot be deleted")
	case errors.Is(err, gorm.ErrRecordNotFound):
		return jsonError(c, fiber.StatusNotFound, "section_not_found", "")
	case err != nil:
		log.Errorf("[Admin] delete section %s failed: %v", id, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not delete section")
	}
	invalidateCatalog(ac.cache)

	log.Infof("[Admin] deleted section %s by shop=%s", id, usercontext.GetShopDomain(c))
	return c.JSON(fiber.Map{"ok": true})
}
