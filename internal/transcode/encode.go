/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transcode

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// EncodeOpus converts the downloaded source into an opus artifact at
// outputPath. Encoder failures surface as EncodeError with the subprocess
// stderr attached.
func EncodeOpus(ctx context.Context, ffmpegPath, inputPath, outputPath string) error {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}

	args := []string{
		"-y",
		"-i", inputPath,
		"-c:a", "libopus",
		"-b:a", "128k",
		"-f", "opus",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &EncodeError{Output: strings.TrimSpace(stderr.String()), Err: err}
	}
	return nil
}
