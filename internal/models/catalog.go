package models

import (
	"fmt"
	"strings"

	"whisper-server/internal/domain"
)

// defaultRepo hosts the ggml conversions of the standard whisper models.
const defaultRepo = "ggerganov/whisper.cpp"

// catalog lists the selectable model presets with nominal download sizes.
var catalog = []domain.ModelOption{
	{Name: "tiny", SizeMB: 75},
	{Name: "base", SizeMB: 145},
	{Name: "small", SizeMB: 466},
	{Name: "medium", SizeMB: 1500},
	{Name: "large-v2", SizeMB: 2900},
	{Name: "large-v3", SizeMB: 2900},
}

// Catalog returns the selectable model presets.
func Catalog() []domain.ModelOption {
	out := make([]domain.ModelOption, len(catalog))
	copy(out, catalog)
	return out
}

// NominalSizeMB returns the known nominal size for a model name, 0 when
// the name is not in the catalog.
func NominalSizeMB(name string) int {
	for _, m := range catalog {
		if m.Name == name {
			return m.SizeMB
		}
	}
	return 0
}

// modelRef is a model name resolved to a repository and file within it.
// An empty fileName means the file must be discovered from the repository
// listing.
type modelRef struct {
	repoID   string
	fileName string
}

// resolveRef maps a model name to its repository reference. Plain names
// resolve to the default ggml repository; fully-qualified "org/repo"
// identifiers pass through.
func resolveRef(name string) (modelRef, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return modelRef{}, fmt.Errorf("model name is required")
	}

	if strings.Contains(trimmed, "/") {
		return modelRef{repoID: trimmed}, nil
	}
	return modelRef{
		repoID:   defaultRepo,
		fileName: "ggml-" + trimmed + ".bin",
	}, nil
}

// snapshotDirName maps a repository identifier to its cache directory.
func snapshotDirName(repoID string) string {
	return "models--" + strings.ReplaceAll(repoID, "/", "--")
}
