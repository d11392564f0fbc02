package profile

import (
	"context"
	"sort"

	appErr "codearena/pkg/errors"
)

// Registry resolves language specs by id. It is read-only after construction.
type Registry struct {
	languages map[string]LanguageSpec
}

// NewRegistry creates a registry from config lists. Entries without an id are skipped.
func NewRegistry(languages []LanguageSpec) *Registry {
	langMap := make(map[string]LanguageSpec, len(languages))
	for _, lang := range languages {
		if lang.ID == "" {
			continue
		}
		langMap[lang.ID] = lang
	}
	return &Registry{languages: langMap}
}

// GetLanguageSpec returns a language spec.
func (r *Registry) GetLanguageSpec(ctx context.Context, id string) (LanguageSpec, error) {
	if id == "" {
		return LanguageSpec{}, appErr.ValidationError("language", "required")
	}
	lang, ok := r.languages[id]
	if !ok {
		return LanguageSpec{}, appErr.Newf(appErr.LanguageNotSupported, "language %s is not supported", id)
	}
	return lang, nil
}

// IDs lists the registered language ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.languages))
	for id := range r.languages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
