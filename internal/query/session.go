package query

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// Examples are printed when an interactive session starts.
var Examples = []string{
	"How many features are there?",
	"What attributes does this have?",
	"What is the total area?",
	"What are the bounds?",
	"What geometry types are present?",
}

// Session is a read-answer loop over one Responder.
type Session struct {
	Responder *Responder
	// Prompt prints the banner and a prompt before each question. Disable it
	// when input is piped.
	Prompt bool
}

// Run reads one question per line from in and writes answers to out until
// quit, exit, q, end of input, or ctx is done.
func (s *Session) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	if s.Prompt {
		fmt.Fprintln(out, "=== Interactive Query Session ===")
		fmt.Fprintln(out, "Ask questions about your GeoJSON data (type 'quit' to exit)")
		fmt.Fprintln(out, "Example queries:")
		for _, ex := range Examples {
			fmt.Fprintf(out, "- %s\n", ex)
		}
	}

	lines, errc, stop := scanLines(in)
	defer close(stop)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.Prompt {
			fmt.Fprint(out, "\nYour question: ")
		}

		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok = <-lines:
		}
		if !ok {
			break
		}

		q := strings.TrimSpace(line)
		switch strings.ToLower(q) {
		case "quit", "exit", "q":
			s.done(out)
			return nil
		case "":
			continue
		}
		fmt.Fprintf(out, "Answer: %s\n", s.Responder.Answer(q))
	}
	if err := <-errc; err != nil {
		return eris.Wrap(err, "query: read input")
	}
	s.done(out)
	return nil
}

// scanLines reads in on its own goroutine. lines is closed at end of input,
// after the scan error (or nil) is sent on errc. Closing stop releases a
// pending send; a read already in progress ends only when in does.
func scanLines(in io.Reader) (<-chan string, <-chan error, chan<- struct{}) {
	lines := make(chan string)
	errc := make(chan error, 1)
	stop := make(chan struct{})
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		errc <- scanner.Err()
	}()
	return lines, errc, stop
}

func (s *Session) done(out io.Writer) {
	if s.Prompt {
		fmt.Fprintln(out, "\nQuery session ended.")
	}
}
