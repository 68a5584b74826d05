/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version exposes build version information.
package version

// Version is the current version of Skald.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/skald/internal/version.Version=X.Y.Z
var Version = "0.4.0"

// UserAgent identifies Skald on the wire: the worker's source downloads
// send it as User-Agent and the API returns it as the Server header.
func UserAgent() string {
	return "skald/" + Version
}
