/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transcode

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/friendsincode/skald/internal/version"
)

// Source downloads share one fixed deadline; it is not per-call
// configurable.
const downloadTimeout = 30 * time.Second

var downloadClient = &http.Client{Timeout: downloadTimeout}

// DownloadSource fetches the track's source audio into destPath. Every
// failure, including the local write, is a TransportError.
func DownloadSource(ctx context.Context, sourceURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return &TransportError{URL: sourceURL, Err: err}
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := downloadClient.Do(req)
	if err != nil {
		return &TransportError{URL: sourceURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &TransportError{URL: sourceURL, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	out, err := os.Create(destPath)
	if err != nil {
		return &TransportError{URL: sourceURL, Err: err}
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(destPath)
		return &TransportError{URL: sourceURL, Err: err}
	}
	if err := out.Close(); err != nil {
		os.Remove(destPath)
		return &TransportError{URL: sourceURL, Err: err}
	}
	return nil
}
