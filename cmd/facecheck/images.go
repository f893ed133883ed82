package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/MrCodeEU/facecheck/pkg/imaging"
)

// readImageFiles loads image files as data URI payloads, the same form the HTTP API accepts.
func readImageFiles(paths []string, showProgress bool) ([]string, error) {
	var bar *progressbar.ProgressBar
	if showProgress {
		bar = progressbar.NewOptions(len(paths),
			progressbar.OptionSetDescription("Loading images"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	payloads := make([]string, len(paths))
	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		payloads[i] = imaging.BytesToDataURI(data, http.DetectContentType(data))
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return payloads, nil
}
