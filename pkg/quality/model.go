package quality

import (
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
)

// Model is one of the VMAF model presets from spec §4.I.
type Model string

const (
	Model4K     Model = "4k"
	ModelHD     Model = "hd"
	ModelMobile Model = "mobile"

	DefaultModel = ModelHD
)

var modelFilenames = map[Model]string{
	Model4K:     "vmaf_4k_v0.6.1.json",
	ModelHD:     "vmaf_v0.6.1.json",
	ModelMobile: "vmaf_v0.6.1neg.json",
}

// ResolveModelPath returns the on-disk path for model under modelDir. If
// the file is absent, it warns and falls back to libvmaf's built-in
// default model rather than failing the analysis.
func ResolveModelPath(modelDir string, model Model, logger logr.Logger) (path string, builtin bool) {
	if model == "" {
		model = DefaultModel
	}
	filename, ok := modelFilenames[model]
	if !ok {
		logger.Info("unknown vmaf model requested, using built-in default", "model", model)
		return "", true
	}
	full := filepath.Join(modelDir, filename)
	if _, err := os.Stat(full); err != nil {
		logger.Info("vmaf model file absent, proceeding with built-in model", "model", model, "path", full)
		return "", true
	}
	return full, false
}
