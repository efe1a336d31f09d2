// Package console relays a local terminal to a guest's serial console.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
)

// DefaultEscape is ctrl+].
const DefaultEscape = "^]"

type escapeState int

const (
	stateNormal escapeState = iota
	// escape received, waiting for the command byte
	stateEscaped
)

// ParseEscapeChar accepts a single character or caret notation (^X).
func ParseEscapeChar(s string) (byte, error) {
	switch {
	case len(s) == 1:
		return s[0], nil
	case len(s) == 2 && s[0] == '^':
		c := s[1]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c < '@' || c > '_' {
			return 0, fmt.Errorf("invalid escape %q", s)
		}
		return c - '@', nil
	}
	return 0, fmt.Errorf("invalid escape %q: want one character or ^X", s)
}

// FormatEscapeChar is the inverse of ParseEscapeChar.
func FormatEscapeChar(b byte) string {
	if b < 0x20 { //nolint:mnd
		return "^" + string(rune(b+'@'))
	}
	return string(rune(b))
}

// Relay copies remote to out and in to remote until either side closes or
// the user types escape followed by '.'. A PTY hangup counts as a clean
// disconnect.
func Relay(ctx context.Context, remote io.ReadWriter, in io.Reader, out io.Writer, escape byte) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2) //nolint:mnd
	go func() {
		_, err := io.Copy(out, remote)
		errCh <- err
		cancel()
	}()
	go func() {
		errCh <- relayInput(ctx, in, remote, out, escape)
		cancel()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !isCleanExit(err) {
			return err
		}
	}
	select {
	case err := <-errCh:
		if !isCleanExit(err) {
			return err
		}
	default:
	}
	return nil
}

func relayInput(ctx context.Context, in io.Reader, remote io.Writer, out io.Writer, escape byte) error {
	state := stateNormal
	buf := make([]byte, 1)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := in.Read(buf)
		if n == 0 || err != nil {
			return err
		}
		b := buf[0]

		if state == stateNormal {
			if b == escape {
				state = stateEscaped
				continue
			}
			if _, err := remote.Write(buf[:1]); err != nil {
				return err
			}
			continue
		}

		state = stateNormal
		var send []byte
		switch b {
		case '.':
			return nil
		case '?':
			e := FormatEscapeChar(escape)
			_, _ = fmt.Fprintf(out, "\r\nSupported escape sequences:\r\n  %s.  Disconnect\r\n  %s?  This help\r\n  %s%s Send %s\r\n", e, e, e, e, e)
		case escape:
			send = []byte{escape}
		default:
			send = []byte{escape, b}
		}
		if send != nil {
			if _, err := remote.Write(send); err != nil {
				return err
			}
		}
	}
}

func isCleanExit(err error) bool {
	return err == nil || errors.Is(err, io.EOF) || errors.Is(err, syscall.EIO)
}
