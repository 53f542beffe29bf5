package display

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Confirm asks a yes/no question on in. Anything but y/yes declines.
func (p *Printer) Confirm(in io.Reader, question string, details ...string) (bool, error) {
	fmt.Fprintln(p.writer, p.colors.Colorize("WARNING: "+question, p.theme.Warning))
	for _, d := range details {
		fmt.Fprintf(p.writer, "  - %s\n", d)
	}
	fmt.Fprint(p.writer, "Proceed? [y/N]: ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// IsInteractive reports whether stdin is a terminal
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// ReadPassword prompts for a password without echo
func (p *Printer) ReadPassword(prompt string) (string, error) {
	fmt.Fprint(p.writer, prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(p.writer)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}
