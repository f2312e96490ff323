package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalPrompterReadsLines(t *testing.T) {
	var out bytes.Buffer
	p := newTerminalPrompter(strings.NewReader("secret\r\n/tmp/share\nlast"), &out)
	ctx := context.Background()

	pw, err := p.Password(ctx, "password")
	require.NoError(t, err)
	assert.Equal(t, "secret", pw)

	loc, err := p.Location(ctx, "location")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/share", loc)

	last, err := p.Location(ctx, "location")
	require.NoError(t, err)
	assert.Equal(t, "last", last)

	_, err = p.Password(ctx, "password")
	assert.ErrorIs(t, err, errInputClosed)
	assert.Contains(t, out.String(), "password: ")
}

func TestTerminalPrompterNewPassword(t *testing.T) {
	var out bytes.Buffer
	p := newTerminalPrompter(strings.NewReader("\na\nb\nc\nc\n"), &out)

	pw, err := p.NewPassword(context.Background(), "new password")
	require.NoError(t, err)
	assert.Equal(t, "c", pw)
	assert.Contains(t, out.String(), "password cannot be empty")
	assert.Contains(t, out.String(), "passwords do not match")
}

func TestTerminalPrompterCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newTerminalPrompter(strings.NewReader("x\n"), &bytes.Buffer{})
	_, err := p.Password(ctx, "password")
	assert.ErrorIs(t, err, context.Canceled)
}
