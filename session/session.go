// Package session speaks the ksysguardd line protocol over a reader/writer
// pair, answering each request from the snapshot cache.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/eddielth/ksysguardd-nvidia/fields"
	"github.com/eddielth/ksysguardd-nvidia/logger"
	"github.com/eddielth/ksysguardd-nvidia/router"
)

const (
	Banner = "ksysguardd 1.2.0\n"
	Prompt = "ksysguardd> "

	cmdMonitors = "monitors"
	cmdQuit     = "quit"

	// longer lines are answered with an invalid request error
	maxRequestSize = 64 * 1024
	// how much of an oversized line is echoed back in the error
	truncatedRequestSize = 64
)

// Source hands out the current snapshot.
type Source interface {
	Get(ctx context.Context) (*fields.Snapshot, error)
}

// Session serves one client connection.
type Session struct {
	in     *bufio.Reader
	out    *bufio.Writer
	source Source
	router *router.Router
}

// New creates a Session reading requests from in and writing responses to out.
func New(in io.Reader, out io.Writer, source Source, r *router.Router) *Session {
	return &Session{
		in:     bufio.NewReader(in),
		out:    bufio.NewWriter(out),
		source: source,
		router: r,
	}
}

// Run serves requests until "quit", end of input or a read failure. Only the
// read failure is returned. Oversized lines are answered like any other
// malformed request.
func (s *Session) Run(ctx context.Context) error {
	s.out.WriteString(Banner)
	if err := s.prompt(); err != nil {
		return err
	}

	for {
		line, tooLong, err := s.readRequest()
		if errors.Is(err, io.EOF) {
			logger.Debug("session: end of input")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read request: %w", err)
		}

		line = strings.TrimSpace(line)
		switch {
		case tooLong:
			logger.Warn("session: dropped request over %d bytes", maxRequestSize)
			s.writeError(&router.InvalidRequestError{Input: line + "..."})
		case line == cmdQuit:
			logger.Debug("session: quit requested")
			return s.out.Flush()
		case line != "":
			logger.Debug("session: request %q", line)
			s.handle(ctx, line)
		}

		if err := s.prompt(); err != nil {
			return err
		}
	}
}

// readRequest returns the next input line without its line ending. A line
// over maxRequestSize is consumed in full, reported as tooLong and cut down
// to its first truncatedRequestSize bytes.
func (s *Session) readRequest() (string, bool, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, isPrefix, err := s.in.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && (len(buf) > 0 || tooLong) {
				return string(buf), tooLong, nil
			}
			return "", false, err
		}

		if !tooLong {
			buf = append(buf, chunk...)
			if len(buf) > maxRequestSize {
				tooLong = true
				buf = buf[:truncatedRequestSize]
			}
		}
		if !isPrefix {
			return string(buf), tooLong, nil
		}
	}
}

func (s *Session) handle(ctx context.Context, line string) {
	var err error
	if line == cmdMonitors {
		err = s.monitors(ctx)
	} else {
		err = s.query(ctx, line)
	}
	if err != nil {
		logger.Warn("session: request %q failed: %v", line, err)
		s.writeError(err)
	}
}

func (s *Session) monitors(ctx context.Context) error {
	snapshot, err := s.source.Get(ctx)
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, m := range s.router.ListMonitors(snapshot) {
		b.WriteString(m.Path)
		b.WriteByte('\t')
		b.WriteString(string(m.Type))
		b.WriteByte('\n')
	}
	s.out.WriteString(b.String())
	return nil
}

func (s *Session) query(ctx context.Context, line string) error {
	q, err := s.router.Resolve(line)
	if err != nil {
		return err
	}
	snapshot, err := s.source.Get(ctx)
	if err != nil {
		return err
	}
	value, err := s.router.Render(snapshot, q)
	if err != nil {
		return err
	}
	s.out.WriteString(value)
	s.out.WriteByte('\n')
	return nil
}

func (s *Session) writeError(err error) {
	// the envelope is a single line
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	s.out.WriteString("\x1berror: " + msg + "\x1b\n")
}

func (s *Session) prompt() error {
	s.out.WriteString(Prompt)
	if err := s.out.Flush(); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}
