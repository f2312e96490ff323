package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var errInputClosed = errors.New("input closed")

// terminalPrompter reads passwords without echo when in is a terminal and
// falls back to plain lines otherwise.
type terminalPrompter struct {
	in     io.Reader
	out    io.Writer
	reader *bufio.Reader
}

func newTerminalPrompter(in io.Reader, out io.Writer) *terminalPrompter {
	return &terminalPrompter{in: in, out: out, reader: bufio.NewReader(in)}
}

func (p *terminalPrompter) Password(ctx context.Context, label string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprintf(p.out, "%s: ", label)
	if f, ok := p.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		pw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("fail to read password, err: %w", err)
		}
		return string(pw), nil
	}
	return p.line()
}

func (p *terminalPrompter) Location(ctx context.Context, label string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprintf(p.out, "%s: ", label)
	return p.line()
}

// NewPassword asks twice and requires both answers to match.
func (p *terminalPrompter) NewPassword(ctx context.Context, label string) (string, error) {
	for {
		pw, err := p.Password(ctx, label)
		if err != nil {
			return "", err
		}
		if pw == "" {
			fmt.Fprintln(p.out, "password cannot be empty")
			continue
		}
		again, err := p.Password(ctx, "repeat "+label)
		if err != nil {
			return "", err
		}
		if pw == again {
			return pw, nil
		}
		fmt.Fprintln(p.out, "passwords do not match")
	}
}

func (p *terminalPrompter) line() (string, error) {
	s, err := p.reader.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || s == "") {
		if errors.Is(err, io.EOF) {
			return "", errInputClosed
		}
		return "", fmt.Errorf("fail to read input, err: %w", err)
	}
	return strings.TrimRight(s, "\r\n"), nil
}
