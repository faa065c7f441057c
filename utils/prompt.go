package utils

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// ErrInputClosed is returned when the input stream ends before an answer.
var ErrInputClosed = errors.New("prompt: input closed")

// Prompter asks an operator for values on a terminal. Every question honours
// the context deadline so a missing human never blocks past its stage timeout.
type Prompter struct {
	in  io.Reader
	out io.Writer

	once  sync.Once
	lines chan string
}

// NewPrompter creates a Prompter reading from in and writing prompts to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: in, out: out}
}

func (p *Prompter) start() {
	p.once.Do(func() {
		p.lines = make(chan string)
		go func() {
			defer close(p.lines)
			sc := bufio.NewScanner(p.in)
			for sc.Scan() {
				p.lines <- sc.Text()
			}
		}()
	})
}

// Ask prints prompt and waits for one line of input.
func (p *Prompter) Ask(ctx context.Context, prompt string) (string, error) {
	p.start()
	fmt.Fprintf(p.out, "%s: ", prompt)

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return "", ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			return "", ErrInputClosed
		}
		return strings.TrimSpace(line), nil
	}
}

// Code asks for a one-time passcode.
func (p *Prompter) Code(ctx context.Context, prompt string) (string, error) {
	fmt.Fprintln(p.out, strings.Repeat("=", 60))
	fmt.Fprintln(p.out, "MFA REQUIRED")
	fmt.Fprintln(p.out, strings.Repeat("=", 60))
	for {
		code, err := p.Ask(ctx, prompt)
		if err != nil {
			return "", err
		}
		if code != "" {
			return code, nil
		}
	}
}

// Choose lists options and returns the zero-based index the operator picked.
func (p *Prompter) Choose(ctx context.Context, prompt string, options []string) (int, error) {
	if len(options) == 0 {
		return 0, errors.New("prompt: no options to choose from")
	}
	fmt.Fprintln(p.out, prompt)
	for i, o := range options {
		fmt.Fprintf(p.out, "  %d. %s\n", i+1, o)
	}
	for {
		answer, err := p.Ask(ctx, fmt.Sprintf("Select 1-%d", len(options)))
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(answer)
		if err == nil && n >= 1 && n <= len(options) {
			return n - 1, nil
		}
		fmt.Fprintf(p.out, "Invalid choice %q\n", answer)
	}
}

// Notify prints an informational message for the operator.
func (p *Prompter) Notify(msg string) {
	fmt.Fprintln(p.out, msg)
}
