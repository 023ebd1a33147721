package cloudinary

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"
)

// DefaultFolder is used when no folder is configured.
const DefaultFolder = "exam/questions"

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Enabled reports whether every credential is present.
func (c Config) Enabled() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// ImageStore keeps question images in Cloudinary.
type ImageStore struct {
	client *cloudinary.Cloudinary
	folder string
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Cloudinary-backed image store.
func New(cfg Config, logger zerolog.Logger) (*ImageStore, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	folder := strings.Trim(cfg.Folder, "/")
	if folder == "" {
		folder = DefaultFolder
	}

	return &ImageStore{
		client: cld,
		folder: folder,
		logger: logger.With().Str("component", "cloudinary").Logger(),
		now:    time.Now,
	}, nil
}

// Upload stores an image and returns its secure URL.
func (s *ImageStore) Upload(ctx context.Context, name string, reader io.Reader) (string, error) {
	params := uploader.UploadParams{
		Folder:       s.folder,
		PublicID:     PublicID(name, s.now()),
		ResourceType: "image",
	}

	result, err := s.client.Upload.Upload(ctx, reader, params)
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}

	s.logger.Info().Str("public_id", result.PublicID).Msg("question image uploaded")
	return result.SecureURL, nil
}

// PublicID derives a URL-safe Cloudinary public id from a file name.
func PublicID(name string, at time.Time) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '-'
	}, base)

	base = strings.Trim(base, "-")
	if base == "" {
		base = "question"
	}

	return fmt.Sprintf("%s-%d", base, at.Unix())
}
