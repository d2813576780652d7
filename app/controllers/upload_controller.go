package controllers

import (
	"context"
	"errors"
	"io"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SectionsStack/internal/pkg/assets"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/usercontext"
)

// MaxUploadBytes caps catalog image uploads.
const MaxUploadBytes = 10 * 1024 * 1024

// ImageSaver stores catalog images. *assets.Store implements it.
type ImageSaver interface {
	SaveImage(ctx context.Context, filename string, data []byte) (*assets.StoredImage, error)
}

// UploadController accepts thumbnail and gallery images from admins
type UploadController struct {
	store ImageSaver
}

// NewUploadController creates a new upload controller. A nil store
// disables uploads.
func NewUploadController(store ImageSaver) *UploadController {
	return &UploadController{store: store}
}

// HandleUpload reads the multipart field "file", shrinks it and stores it in S3
func (uc *UploadController) HandleUpload(c *fiber.Ctx) error {
	if uc.store == nil {
		return jsonError(c, fiber.StatusServiceUnavailable, "uploads_disabled", "Object storage is not configured")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "file_required", "Multipart field 'file' is missing")
	}
	if file.Size > MaxUploadBytes {
		return jsonError(c, fiber.StatusRequestEntityTooLarge, "file_too_large", "Images may be at most 10 MB")
	}

	src, err := file.Open()
	if err != nil {
		log.Errorf("[Upload] open %s failed: %v", file.Filename, err)
		return jsonError(c, fiber.StatusBadRequest, "file_unreadable", "")
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, MaxUploadBytes+1))
	if err != nil {
		log.Errorf("[Upload] read %s failed: %v", file.Filename, err)
		return jsonError(c, fiber.StatusBadRequest, "file_unreadable", "")
	}
	if len(data) > MaxUploadBytes {
		return jsonError(c, fiber.StatusRequestEntityTooLarge, "file_too_large", "Images may be at most 10 MB")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	stored, err := uc.store.SaveImage(ctx, filepath.Base(file.Filename), data)
	if errors.Is(err, assets.ErrInvalidImage) {
		return jsonError(c, fiber.StatusBadRequest, "invalid_image", err.Error())
	}
	if err != nil {
		log.Errorf("[Upload] store %s failed: %v", file.Filename, err)
		return jsonError(c, fiber.StatusBadGateway, "upload_failed", "Image could not be stored")
	}

	log.Infof("[Upload] stored %s (%dx%d, %d bytes) for shop=%s", stored.Key, stored.Width, stored.Height, stored.Size, usercontext.GetShopDomain(c))
	return c.Status(fiber.StatusCreated).JSON(stored)
}
