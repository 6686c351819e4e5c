// Package restoreui implements the restore-option selection prompt the
// Event Router's before-navigate handler offers the user (§4.7), backed by
// huh with a plain-stdin fallback for non-interactive terminals.
package restoreui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// Prompt selects a restore target from a list of candidate checkpoint refs.
type Prompt struct {
	in  io.Reader
	out io.Writer
}

// New constructs a Prompt reading from stdin and writing to stdout.
func New() *Prompt {
	return &Prompt{in: os.Stdin, out: os.Stdout}
}

// SelectRestoreTarget implements events.Selector. It renders a huh select
// when stdout is a terminal and ACCESSIBLE is unset; otherwise it falls
// back to a plain numbered prompt over stdin, so scripted and screen-reader
// sessions still work.
func (p *Prompt) SelectRestoreTarget(_ context.Context, candidates []string) (string, bool, error) {
	if len(candidates) == 0 {
		return "", false, nil
	}

	if !interactive() {
		return p.plainSelect(candidates)
	}

	options := make([]huh.Option[string], 0, len(candidates))
	for _, c := range candidates {
		options = append(options, huh.NewOption(c, c))
	}

	var choice string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Restore which checkpoint?").
				Options(options...).
				Value(&choice),
		),
	)
	if err := form.Run(); err != nil {
		if err == huh.ErrUserAborted {
			return "", false, nil
		}
		return "", false, fmt.Errorf("restore selection prompt: %w", err)
	}
	return choice, true, nil
}

func (p *Prompt) plainSelect(candidates []string) (string, bool, error) {
	fmt.Fprintln(p.out, "Restore which checkpoint?")
	for i, c := range candidates {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, c)
	}
	fmt.Fprint(p.out, "Enter a number, or blank to cancel: ")

	scanner := bufio.NewScanner(p.in)
	if !scanner.Scan() {
		return "", false, nil
	}
	line := scanner.Text()
	if line == "" {
		return "", false, nil
	}

	var idx int
	if _, err := fmt.Sscanf(line, "%d", &idx); err != nil || idx < 1 || idx > len(candidates) {
		return "", false, fmt.Errorf("invalid selection %q", line)
	}
	return candidates[idx-1], true, nil
}

func interactive() bool {
	if os.Getenv("ACCESSIBLE") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}
