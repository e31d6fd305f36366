// Package settings stores the runtime-tunable options of the search API:
// the Gemini key used for embeddings and answers, and the default top-K.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"pdfsearch/internal/apperr"
)

// DefaultSearchTopK is used when the stored value is unset and no other
// default was configured.
const DefaultSearchTopK = 5

const maskPrefix = "****"

type Settings struct {
	ID           int    `json:"-"`
	GeminiAPIKey string `json:"gemini_api_key"`
	SearchTopK   int    `json:"search_top_k" validate:"gte=1,lte=50"`
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

type Service struct {
	repo        Repository
	validate    *validator.Validate
	defaultTopK int
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, validate: validator.New(), defaultTopK: DefaultSearchTopK}
}

// WithDefaultTopK sets the top-K used while none is stored. Non-positive
// values are ignored.
func (s *Service) WithDefaultTopK(k int) *Service {
	if k > 0 {
		s.defaultTopK = k
	}
	return s
}

// Get returns the stored settings with the API key in clear text. Only
// internal callers should see this; HTTP goes through Public.
func (s *Service) Get(ctx context.Context) (*Settings, error) {
	set, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	if set.SearchTopK <= 0 {
		set.SearchTopK = s.defaultTopK
	}
	return set, nil
}

// Public returns the settings with the API key masked.
func (s *Service) Public(ctx context.Context) (*Settings, error) {
	set, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	set.GeminiAPIKey = MaskKey(set.GeminiAPIKey)
	return set, nil
}

// Update validates and stores set. A key equal to the masked stored key is
// what a client echoes back from Public, so the stored key is kept.
func (s *Service) Update(ctx context.Context, set *Settings) error {
	if err := s.validate.Struct(set); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return apperr.Validation(describe(verrs))
		}
		return err
	}

	if strings.HasPrefix(set.GeminiAPIKey, maskPrefix) {
		current, err := s.repo.Get(ctx)
		if err != nil {
			return err
		}
		if set.GeminiAPIKey == MaskKey(current.GeminiAPIKey) {
			set.GeminiAPIKey = current.GeminiAPIKey
		}
	}
	return s.repo.Update(ctx, set)
}

// SearchTopK returns the configured top-K, falling back to the default when
// settings cannot be read.
func (s *Service) SearchTopK(ctx context.Context) int {
	set, err := s.Get(ctx)
	if err != nil {
		return s.defaultTopK
	}
	return set.SearchTopK
}

// SeedAPIKey stores key when no key is set yet. The stored top-K is left
// as it is, unset included. It reports whether key was written.
func (s *Service) SeedAPIKey(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	current, err := s.repo.Get(ctx)
	if err != nil {
		return false, err
	}
	if current.GeminiAPIKey != "" {
		return false, nil
	}
	current.GeminiAPIKey = key
	if err := s.repo.Update(ctx, current); err != nil {
		return false, err
	}
	return true, nil
}

// MaskKey keeps the last four characters of key.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return maskPrefix
	}
	return maskPrefix + key[len(key)-4:]
}

func describe(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "gte", "lte":
			msgs = append(msgs, "search_top_k must be between 1 and 50.")
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid.", strings.ToLower(fe.Field())))
		}
	}
	return strings.Join(msgs, " ")
}
