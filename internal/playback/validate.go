/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// audioExtensions are the direct-audio file extensions playback accepts.
var audioExtensions = map[string]bool{
	".mp3":  true,
	".opus": true,
	".ogg":  true,
	".m4a":  true,
	".aac":  true,
	".wav":  true,
	".flac": true,
}

// ValidateStreamURL rejects URLs that must never reach the encoder
// subprocess: non-http schemes, provider landing pages that serve HTML
// instead of audio, and anything that does not look like a direct audio
// resource. The extension check ignores query strings so presigned
// object URLs pass.
func ValidateStreamURL(raw string) error {
	lowered := strings.ToLower(raw)
	if !strings.HasPrefix(lowered, "http://") && !strings.HasPrefix(lowered, "https://") {
		return fmt.Errorf("stream url must be http(s): %s", raw)
	}
	if strings.Contains(lowered, "suno.com/song/") || strings.Contains(lowered, "suno.com/s/") {
		return fmt.Errorf("refusing to stream a landing page url: %s", raw)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("unparseable stream url: %s", raw)
	}
	if audioExtensions[strings.ToLower(path.Ext(parsed.Path))] {
		return nil
	}
	if strings.Contains(lowered, "cdn") {
		return nil
	}
	return fmt.Errorf("refusing to stream a non-audio url: %s", raw)
}
