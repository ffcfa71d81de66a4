package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

func pinFlag() cli.Flag {
	return &cli.StringFlag{Name: "pin", Usage: "Device PIN (prompted when omitted)"}
}

func terminalPassword() func() ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	return func() ([]byte, error) { return term.ReadPassword(fd) }
}

// pin returns the value of the named flag, or asks for it. Without a
// terminal the PIN is read as one line from stdin.
func (a *app) pin(cmd *cli.Command, flag, prompt string) (string, error) {
	if cmd.IsSet(flag) {
		return cmd.String(flag), nil
	}
	fmt.Fprint(a.stderr, prompt)

	var line string
	if a.readPassword != nil {
		b, err := a.readPassword()
		fmt.Fprintln(a.stderr)
		if err != nil {
			return "", fmt.Errorf("read PIN: %w", err)
		}
		line = string(b)
	} else {
		s, err := bufio.NewReader(a.stdin).ReadString('\n')
		if err != nil && s == "" {
			return "", fmt.Errorf("read PIN: %w", err)
		}
		line = s
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("PIN must not be empty")
	}
	return line, nil
}
