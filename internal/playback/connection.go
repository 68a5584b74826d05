/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playback drives live audio delivery for one community: it pulls
// tracks from the community session, hands their stream to an encoder
// subprocess, and manages the subprocess lifecycle.
package playback

// Connection is the live audio sink a controller drives. Implementations
// wrap whatever transport actually carries the audio (a voice gateway, an
// icecast mount, a test double) and report whether delivery is in flight.
type Connection interface {
	// IsActive reports whether the connection is currently delivering or
	// paused mid-delivery.
	IsActive() bool

	// Play begins consuming the started source's stream.
	Play(src Source) error

	// Stop halts delivery without touching the source's subprocess.
	Stop()
}
