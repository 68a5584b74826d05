/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// How long teardown waits after a graceful terminate before killing.
const gracefulStopTimeout = 2 * time.Second

// Source is one playable audio stream bound to an encoder subprocess.
type Source interface {
	// URL returns the stream URL the source was built for.
	URL() string

	// Start launches the subprocess. onExit fires exactly once, on its own
	// goroutine, after the subprocess exits for any reason.
	Start(onExit func(err error)) error

	// Stream is the encoded audio output. Valid after Start.
	Stream() io.Reader

	// Stop tears the subprocess down: close stdin, terminate gracefully
	// with a bounded wait, escalate to kill. Every step is best-effort and
	// logged; Stop never fails and is safe to call more than once.
	Stop()
}

// SourceFactory builds a Source for a validated stream URL.
type SourceFactory func(url string, logger zerolog.Logger) (Source, error)

// FFmpegSource streams a remote URL through an ffmpeg subprocess that
// re-encodes it to opus on stdout.
type FFmpegSource struct {
	url    string
	logger zerolog.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   io.ReadCloser
	stopping bool

	done     chan struct{}
	exitErr  error
	exitOnce sync.Once
}

// NewFFmpegSource returns an unstarted source for url.
func NewFFmpegSource(url string, logger zerolog.Logger) (Source, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not available: %w", err)
	}
	return &FFmpegSource{
		url:    url,
		logger: logger.With().Str("component", "ffmpeg_source").Logger(),
		done:   make(chan struct{}),
	}, nil
}

// URL returns the stream URL.
func (s *FFmpegSource) URL() string {
	return s.url
}

// Stream returns the subprocess stdout carrying opus audio.
func (s *FFmpegSource) Stream() io.Reader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdout
}

// Start spawns ffmpeg. Reconnect flags keep flaky CDN streams alive;
// -vn strips any video track before encoding.
func (s *FFmpegSource) Start(onExit func(err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return fmt.Errorf("source already started")
	}

	args := []string{
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-i", s.url,
		"-vn",
		"-c:a", "libopus",
		"-ar", "48000",
		"-ac", "2",
		"-f", "opus",
		"-loglevel", "warning",
		"pipe:1",
	}
	cmd := exec.Command("ffmpeg", args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.stdout = stdout

	s.logger.Info().
		Int("pid", cmd.Process.Pid).
		Str("url", s.url).
		Msg("ffmpeg source started")

	go s.monitorStderr(stderr)
	go s.monitorProcess(onExit)

	return nil
}

func (s *FFmpegSource) monitorStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			s.logger.Warn().Str("line", line).Msg("ffmpeg stderr")
		}
	}
}

func (s *FFmpegSource) monitorProcess(onExit func(err error)) {
	err := s.cmd.Wait()

	s.exitOnce.Do(func() {
		s.exitErr = err
		close(s.done)
	})

	if err != nil {
		s.logger.Debug().Err(err).Msg("ffmpeg exited with error")
	}
	if onExit != nil {
		go onExit(err)
	}
}

// Stop tears down the subprocess following the close-terminate-kill
// escalation. It waits a bounded time at each step and never fails.
func (s *FFmpegSource) Stop() {
	s.mu.Lock()
	if s.cmd == nil || s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	stdin := s.stdin
	proc := s.cmd.Process
	s.mu.Unlock()

	if stdin != nil {
		if err := stdin.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to close ffmpeg stdin")
		}
	}

	// Already exited naturally, nothing to escalate.
	select {
	case <-s.done:
		return
	default:
	}

	if proc == nil {
		return
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn().Err(err).Msg("failed to terminate ffmpeg process")
	}

	select {
	case <-s.done:
		return
	case <-time.After(gracefulStopTimeout):
	}

	s.logger.Warn().Msg("graceful shutdown timeout, force killing ffmpeg")
	if err := proc.Kill(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to kill ffmpeg process")
	}

	select {
	case <-s.done:
	case <-time.After(gracefulStopTimeout):
		s.logger.Error().Msg("ffmpeg did not exit after kill")
	}
}
