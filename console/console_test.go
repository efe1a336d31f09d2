package console

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pty struct {
	io.Reader
	io.Writer
}

func TestParseEscapeChar(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want byte
		err  bool
	}{
		{in: "^]", want: 0x1D},
		{in: "^a", want: 0x01},
		{in: "~", want: '~'},
		{in: "^1", err: true},
		{in: "abc", err: true},
		{in: "", err: true},
	} {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseEscapeChar(tc.in)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, strings.ToUpper(tc.in), FormatEscapeChar(got))
		})
	}
}

func TestRelayEscapeSequences(t *testing.T) {
	guest, guestW := io.Pipe()
	t.Cleanup(func() { _ = guestW.Close() })
	var sent, out bytes.Buffer

	in := strings.NewReader("ls\x1d\x1d\x1dx\x1d?\x1d.after")
	err := Relay(context.Background(), pty{guest, &sent}, in, &out, 0x1D)
	require.NoError(t, err)
	assert.Equal(t, "ls\x1d\x1dx", sent.String())
	assert.Contains(t, out.String(), "^].  Disconnect")
}

func TestRelayEndsWhenGuestCloses(t *testing.T) {
	in, inW := io.Pipe()
	t.Cleanup(func() { _ = inW.Close() })
	var out bytes.Buffer

	err := Relay(context.Background(), pty{strings.NewReader("login: "), io.Discard}, in, &out, 0x1D)
	require.NoError(t, err)
	assert.Equal(t, "login: ", out.String())
}
