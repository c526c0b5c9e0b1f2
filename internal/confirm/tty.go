package confirm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

// DefaultTTY is the controlling terminal.
const DefaultTTY = "/dev/tty"

// TTYPrompter asks on a terminal and accepts "y" or "yes".
type TTYPrompter struct {
	Path string
}

// NewTTYPrompter creates a prompter for the controlling terminal.
func NewTTYPrompter() *TTYPrompter {
	return &TTYPrompter{Path: DefaultTTY}
}

func (p *TTYPrompter) Ask(ctx context.Context, text string) (bool, error) {
	f, err := os.OpenFile(p.Path, os.O_RDWR, 0)
	if err != nil {
		return false, fmt.Errorf("opening terminal: %w", err)
	}
	defer f.Close()

	if !term.IsTerminal(int(f.Fd())) {
		return false, fmt.Errorf("%s is not a terminal", p.Path)
	}

	if deadline, ok := ctx.Deadline(); ok {
		f.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		f.SetReadDeadline(time.Now())
	})
	defer stop()

	ok, err := askLine(f, f, text)
	if err != nil && ctx.Err() != nil {
		fmt.Fprintln(f)
		return false, ctx.Err()
	}
	return ok, err
}

// askLine writes the prompt and reads a single answer line.
func askLine(r io.Reader, w io.Writer, text string) (bool, error) {
	if _, err := fmt.Fprintf(w, "%s [y/N] ", text); err != nil {
		return false, fmt.Errorf("writing prompt: %w", err)
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return false, fmt.Errorf("reading answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
