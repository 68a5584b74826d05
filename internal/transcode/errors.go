/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transcode

import (
	"errors"
	"fmt"
)

// TransportError wraps a failure fetching the source audio.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("failed to download %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// EncodeError wraps an encoder subprocess failure. Output carries the
// subprocess stderr when available.
type EncodeError struct {
	Output string
	Err    error
}

func (e *EncodeError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("ffmpeg failed to transcode: %v: %s", e.Err, e.Output)
	}
	return fmt.Sprintf("ffmpeg failed to transcode: %v", e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// StorageError wraps a failure placing the finished artifact.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// failureMessage returns the message a failed job should record and
// whether the error is a classified pipeline failure. Unclassified
// errors are the loop's problem, not the job's.
func failureMessage(err error) (string, bool) {
	var transport *TransportError
	if errors.As(err, &transport) {
		return transport.Error(), true
	}
	var encode *EncodeError
	if errors.As(err, &encode) {
		return encode.Error(), true
	}
	var storage *StorageError
	if errors.As(err, &storage) {
		return storage.Error(), true
	}
	return "", false
}
