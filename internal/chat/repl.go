package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// RunREPL reads one user turn per line from in and writes answers to out.
// "/reset" clears the history; "/quit", "/exit" or EOF ends the loop.
// Per-turn errors are printed and the loop continues.
func RunREPL(ctx context.Context, s *Session, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	prompt := func() { fmt.Fprint(out, "> ") }
	prompt()

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			prompt()
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			s.Reset()
			fmt.Fprintln(out, "(conversation cleared)")
			prompt()
			continue
		}

		answer, err := s.Ask(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "error: %v\n", err)
		} else {
			fmt.Fprintln(out, answer)
		}
		fmt.Fprintln(out)
		prompt()
	}
	return scanner.Err()
}
