package profile

import (
	"context"

	appErr "rexe/pkg/errors"
)

// Repository resolves language profiles.
type Repository interface {
	GetLanguageSpec(ctx context.Context, id string) (LanguageSpec, error)
	Languages() []string
}

// LocalRepository keeps language specs in memory.
type LocalRepository struct {
	languages map[string]LanguageSpec
	order     []string
}

// NewLocalRepository creates a repository from a config list.
func NewLocalRepository(languages []LanguageSpec) *LocalRepository {
	langMap := make(map[string]LanguageSpec)
	order := make([]string, 0, len(languages))
	for _, lang := range languages {
		if lang.ID == "" {
			continue
		}
		if _, ok := langMap[lang.ID]; !ok {
			order = append(order, lang.ID)
		}
		langMap[lang.ID] = lang
	}
	return &LocalRepository{languages: langMap, order: order}
}

// GetLanguageSpec returns a language spec.
func (r *LocalRepository) GetLanguageSpec(ctx context.Context, id string) (LanguageSpec, error) {
	if id == "" {
		return LanguageSpec{}, appErr.ValidationError("language", "required")
	}
	lang, ok := r.languages[id]
	if !ok {
		return LanguageSpec{}, appErr.New(appErr.LanguageNotSupported).WithMessagef("language %q not supported", id)
	}
	return lang, nil
}

// Languages lists configured language IDs in configuration order.
func (r *LocalRepository) Languages() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
