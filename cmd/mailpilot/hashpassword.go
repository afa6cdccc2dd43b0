package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/znz-systems/mailpilot/internal/auth"
)

// hashPassword prints the bcrypt hash for ADMIN_PASSWORD_HASH. The password
// is taken from args, or read as the first line of in.
func hashPassword(args []string, in io.Reader, out io.Writer) error {
	var password string
	switch len(args) {
	case 0:
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	case 1:
		password = args[0]
	default:
		return errors.New("usage: mailpilot hash-password [password]")
	}
	if password == "" {
		return errors.New("password must not be empty")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}
