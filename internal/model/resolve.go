package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const envModelsDir = "PROMETHEUS_MODELS_DIR"

// ResolveModelDir turns a model reference into a checkpoint directory.
// Anything containing a path separator, or naming an existing directory,
// is used as-is; a bare name is looked up under the models directory
// (PROMETHEUS_MODELS_DIR, or <user config dir>/prometheus/models).
func ResolveModelDir(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("model is required")
	}
	if strings.Contains(ref, string(filepath.Separator)) || dirExists(ref) {
		return filepath.Clean(ref), nil
	}
	dir := modelsDir()
	if dir == "" {
		return "", fmt.Errorf("cannot resolve model %q: no models directory", ref)
	}
	cand := filepath.Join(dir, ref)
	if dirExists(cand) {
		return cand, nil
	}
	return "", fmt.Errorf("model %q not found in %s", ref, dir)
}

func modelsDir() string {
	if dir := strings.TrimSpace(os.Getenv(envModelsDir)); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "prometheus", "models")
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
