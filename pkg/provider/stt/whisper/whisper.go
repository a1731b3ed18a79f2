// Package whisper provides whisper.cpp-backed transcribers.
//
// Two backends share this package:
//
//   - [Native] loads a ggml model in process through the CGO bindings.
//   - [Server] posts each clip as a WAV upload to a running whisper-server
//     (POST /inference), for hosts where linking whisper.cpp is impractical.
//
// Both treat an empty or silent clip as valid input and return an empty
// transcript for it.
//
// Usage:
//
//	path, err := whisper.ResolveModel("base", "models")
//	t, err := whisper.NewNative(path, whisper.WithLanguage("en"))
//	defer t.Close()
//	transcript, err := t.Transcribe(ctx, clip)
package whisper

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// NativeName and ServerName are the backend names used in errors and config.
	NativeName = "whisper-native"
	ServerName = "whisper-server"

	defaultLanguage = "en"
)

// ResolveModel maps a model selector to a ggml model file.
//
// A selector that names a file (ends in ".bin" or contains a path separator)
// is used as given, relative to dir when it is relative and not found in the
// working directory. Any other selector, such as "tiny", "base.en", or
// "large-v3", resolves to dir/ggml-<selector>.bin. The file must exist.
func ResolveModel(selector, dir string) (string, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return "", errors.New("whisper: model selector must not be empty")
	}

	var candidates []string
	if strings.HasSuffix(selector, ".bin") || strings.ContainsRune(selector, os.PathSeparator) || strings.Contains(selector, "/") {
		candidates = append(candidates, selector)
		if !filepath.IsAbs(selector) && dir != "" {
			candidates = append(candidates, filepath.Join(dir, selector))
		}
	} else {
		candidates = append(candidates, filepath.Join(dir, "ggml-"+selector+".bin"))
	}

	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && !fi.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("whisper: model %q not found (looked for %s)", selector, strings.Join(candidates, ", "))
}
