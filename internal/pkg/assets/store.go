package assets

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ObjectPutter writes one object and returns its public URL. *Client implements it.
type ObjectPutter interface {
	Put(ctx context.Context, objectKey string, data []byte, contentType string) (string, error)
}

// StoredImage describes an uploaded catalog image.
type StoredImage struct {
	URL    string `json:"url"`
	Key    string `json:"key"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Size   int    `json:"size"`
}

// Store validates, shrinks and uploads catalog images.
type Store struct {
	putter ObjectPutter
	config *Config
	now    func() time.Time
}

// NewStore creates a store writing through putter.
func NewStore(putter ObjectPutter, cfg *Config) *Store {
	return &Store{putter: putter, config: cfg, now: time.Now}
}

// SaveImage runs the thumbnail pipeline on data and uploads the result
// under a fresh uuid key.
func (s *Store) SaveImage(ctx context.Context, filename string, data []byte) (*StoredImage, error) {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	mime, err := ValidateImageBySniff(filename, head)
	if err != nil {
		return nil, err
	}

	thumb, err := MakeThumbnail(data, mime, s.config.MaxWidth)
	if err != nil {
		return nil, err
	}

	key := s.config.GetObjectKey(uuid.New().String(), thumb.Extension, s.now())
	url, err := s.putter.Put(ctx, key, thumb.Data, thumb.ContentType)
	if err != nil {
		return nil, err
	}
	return &StoredImage{URL: url, Key: key, Width: thumb.Width, Height: thumb.Height, Size: len(thumb.Data)}, nil
}
