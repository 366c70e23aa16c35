package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/sakif/keno-client/internal/auth"
)

// terminalAuthorizer runs Google consent on a terminal: it prints the consent
// URL and reads back either the bare code or the whole redirect URL.
type terminalAuthorizer struct {
	in  io.Reader
	out io.Writer
}

var _ auth.GoogleAuthorizer = terminalAuthorizer{}

func (a terminalAuthorizer) AuthCode(ctx context.Context, authURL, state string) (string, error) {
	fmt.Fprintf(a.out, "Open this URL, sign in, and paste the redirect URL or code:\n\n  %s\n\n> ", authURL)

	lines := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(a.in).ReadString('\n')
		lines <- strings.TrimSpace(line)
	}()

	var line string
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line = <-lines:
	}
	if line == "" {
		return "", auth.ErrSignInCancelled
	}

	if !strings.Contains(line, "://") {
		return line, nil
	}
	u, err := url.Parse(line)
	if err != nil {
		return "", fmt.Errorf("cli: parsing redirect url: %w", err)
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		return "", auth.ErrSignInCancelled
	}
	if q.Get("state") != state {
		return "", fmt.Errorf("cli: redirect state does not match")
	}
	return q.Get("code"), nil
}
