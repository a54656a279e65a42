// File: internal/api/prompt.go
package api

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter obtains interactive input from the user. The engine needs it
// in exactly two places: two-factor passcodes and credential prompting;
// everything else is non-interactive.
type Prompter interface {
	// Prompt reads one line of input under the given label.
	Prompt(label string) (string, error)
	// PromptSecret reads input with terminal echo disabled.
	PromptSecret(label string) (string, error)
}

// TerminalPrompter prompts on a terminal, disabling echo for secrets.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

// NewTerminalPrompter prompts on stdin/stderr.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

func (p *TerminalPrompter) Prompt(label string) (string, error) {
	fmt.Fprintf(p.Out, "%s: ", label)
	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *TerminalPrompter) PromptSecret(label string) (string, error) {
	fmt.Fprintf(p.Out, "%s: ", label)
	defer fmt.Fprintln(p.Out)

	if !term.IsTerminal(int(p.In.Fd())) {
		// Piped input; fall back to a plain read.
		line, err := bufio.NewReader(p.In).ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}

	secret, err := term.ReadPassword(int(p.In.Fd()))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(secret)), nil
}

// PromptCredentials fills in missing username/password interactively.
// Returns an error when prompting is prohibited and a credential is
// missing.
func PromptCredentials(creds *Credentials, p Prompter) error {
	if creds.User != "" && creds.Password != "" {
		return nil
	}
	if creds.NoBlock || p == nil {
		return NewError(KindAuth, "username and password required but prompting is disabled")
	}

	var err error
	if creds.User == "" {
		if creds.User, err = p.Prompt("User name"); err != nil {
			return NewError(KindAuth, "cannot read username").WithCause(err)
		}
	}
	if creds.Password == "" {
		if creds.Password, err = p.PromptSecret("Password"); err != nil {
			return NewError(KindAuth, "cannot read password").WithCause(err)
		}
	}
	return nil
}
