package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// readSecret resolves the signing secret from envVar, falling back to an
// interactive prompt on stderr when a terminal is attached.
func readSecret(envVar string) ([]byte, error) {
	if value, ok := os.LookupEnv(envVar); ok {
		if strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("%s is set but empty", envVar)
		}
		return []byte(strings.TrimSpace(value)), nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, fmt.Errorf("signing secret required; set %s or run interactively", envVar)
	}
	fmt.Fprint(os.Stderr, "Enter signing secret: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read secret: %w", err)
	}
	secret := strings.TrimSpace(string(raw))
	if secret == "" {
		return nil, errors.New("signing secret cannot be empty")
	}
	return []byte(secret), nil
}
