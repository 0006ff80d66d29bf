// Package prompt decouples operator decisions from business logic.
// Core components receive a Chooser instead of reading the terminal,
// so they stay testable without a tty.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// Option is one selectable choice presented to the operator
type Option struct {
	// ID is a stable identifier consumed by the caller.
	ID string
	// Label is the operator-facing description.
	Label string
}

// Chooser presents options and returns the selected one
type Chooser interface {
	Choose(question string, options []Option) (Option, error)
	// ReadLine reads a free-form answer, e.g. a filesystem path.
	ReadLine(question string) (string, error)
	// ReadSecret reads a value without echoing it to the terminal.
	ReadSecret(question string) (string, error)
}

// TerminalChooser implements Chooser against stdin/stdout
type TerminalChooser struct {
	in  io.Reader
	out io.Writer
}

// NewTerminalChooser creates a chooser bound to the process terminal
func NewTerminalChooser() *TerminalChooser {
	return &TerminalChooser{in: os.Stdin, out: os.Stdout}
}

// NewChooserWithStreams creates a chooser with custom streams (for testing)
func NewChooserWithStreams(in io.Reader, out io.Writer) *TerminalChooser {
	return &TerminalChooser{in: in, out: out}
}

// Choose renders a numbered menu and reads the selection
func (t *TerminalChooser) Choose(question string, options []Option) (Option, error) {
	if len(options) == 0 {
		return Option{}, fmt.Errorf("no options to choose from")
	}

	fmt.Fprintf(t.out, "\n%s\n", color.New(color.Bold).Sprint(question))
	for i, opt := range options {
		fmt.Fprintf(t.out, "  %d) %s\n", i+1, opt.Label)
	}
	fmt.Fprintf(t.out, "Select [1-%d]: ", len(options))

	scanner := bufio.NewScanner(t.in)
	for scanner.Scan() {
		answer := strings.TrimSpace(scanner.Text())
		n, err := strconv.Atoi(answer)
		if err == nil && n >= 1 && n <= len(options) {
			return options[n-1], nil
		}
		fmt.Fprintf(t.out, "Invalid selection, try again [1-%d]: ", len(options))
	}
	if err := scanner.Err(); err != nil {
		return Option{}, err
	}
	return Option{}, io.EOF
}

// ReadLine reads one line of free-form input
func (t *TerminalChooser) ReadLine(question string) (string, error) {
	fmt.Fprintf(t.out, "%s: ", question)
	scanner := bufio.NewScanner(t.in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(scanner.Text()), nil
}

// ReadSecret reads a value without echo when stdin is a terminal,
// falling back to a plain line read otherwise (tests, pipes).
func (t *TerminalChooser) ReadSecret(question string) (string, error) {
	fmt.Fprintf(t.out, "%s: ", question)

	if f, ok := t.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(t.out)
		if err != nil {
			return "", err
		}
		return string(secret), nil
	}

	scanner := bufio.NewScanner(t.in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(scanner.Text()), nil
}
