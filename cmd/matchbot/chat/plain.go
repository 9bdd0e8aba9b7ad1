package chatcmder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/papercomputeco/matchbot/pkg/chat"
	"github.com/papercomputeco/matchbot/pkg/cliui"
)

const (
	cmdExit  = "/exit"
	cmdClear = "/clear"
)

var (
	userPrompt      = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true).Render("you> ")
	assistantPrompt = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render("assistant> ")
)

type sessionBuilder func(opts ...chat.Option) (*chat.Session, error)

// streamPrinter writes the growing assistant turn to out as snapshots
// arrive, printing only what it has not printed yet.
type streamPrinter struct {
	out     io.Writer
	printed int
	open    bool
}

func (p *streamPrinter) onSnapshot(snap chat.Snapshot) {
	if snap.State == chat.StateSending || len(snap.Conversation) == 0 {
		p.printed = 0
		p.open = false
		return
	}

	last := snap.Conversation[len(snap.Conversation)-1]
	if last.Role != chat.RoleAssistant || len(last.Content) <= p.printed {
		return
	}

	if !p.open {
		fmt.Fprint(p.out, assistantPrompt)
		p.open = true
	}
	fmt.Fprint(p.out, last.Content[p.printed:])
	p.printed = len(last.Content)
}

func runPlain(ctx context.Context, in io.Reader, out, errOut io.Writer, build sessionBuilder) error {
	if termenv.EnvNoColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	printer := &streamPrinter{out: out}
	session, err := build(chat.WithListener(printer.onSnapshot))
	if err != nil {
		return err
	}

	endpoint := session.Endpoint()
	if endpoint == "" {
		endpoint = "(not configured)"
	}
	fmt.Fprintf(out, "  %s %s\n", cliui.KeyStyle.Render("Endpoint:"), cliui.NameStyle.Render(endpoint))
	fmt.Fprintf(out, "  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. /clear starts over, /exit or Ctrl+D quits."))

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				scanErr <- nil
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(out, userPrompt)

		var input string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				if err := <-scanErr; err != nil {
					return fmt.Errorf("reading input: %w", err)
				}
				return nil
			}
			input = strings.TrimSpace(line)
		}

		switch input {
		case "":
			continue
		case cmdExit:
			return nil
		case cmdClear:
			if err := session.Reset(); err != nil {
				fmt.Fprintf(errOut, "  %s %v\n", cliui.FailMark, err)
				continue
			}
			fmt.Fprintf(out, "  %s\n\n", cliui.DimStyle.Render("Conversation cleared."))
			continue
		}

		err := session.SendMessage(ctx, input)
		if printer.open {
			fmt.Fprint(out, "\n\n")
		}
		if err != nil {
			if ctx.Err() != nil {
				fmt.Fprintln(out)
				return nil
			}
			reportError(errOut, err)
		}
	}
}

func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "  %s %v\n", cliui.FailMark, err)

	var cfgErr *chat.ConfigError
	if errors.As(err, &cfgErr) {
		fmt.Fprintf(w, "  %s\n", cliui.DimStyle.Render(configHint))
	}
}

const configHint = `Run "matchbot config set chat.url <url>" and "matchbot auth" to configure.`
