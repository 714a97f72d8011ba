package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

var errNoTerminal = errors.New("journal is locked and stdin is not a terminal")

// terminalPIN prints prompt to w and reads a PIN without echo.
func terminalPIN(w io.Writer, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", &userError{err: errNoTerminal}
	}
	if _, err := fmt.Fprint(w, prompt); err != nil {
		return "", err
	}
	pin, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(pin)), nil
}
