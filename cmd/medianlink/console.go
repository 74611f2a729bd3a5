package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Nikita-bot/MedianLink/internal/call"
)

// controller is the part of *call.Supervisor the console drives.
type controller interface {
	StartCall(ctx context.Context) error
	EndCall(ctx context.Context) error
	Status(ctx context.Context) (call.Status, error)
}

var errQuit = errors.New("quit")

// runConsole reads one command per line from in until EOF, "quit" or ctx is
// done. Command errors are printed, not returned.
func runConsole(ctx context.Context, in io.Reader, out io.Writer, ctl controller) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	fmt.Fprintln(out, "commands: start, end, status, quit")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if err := runCommand(ctx, strings.TrimSpace(line), out, ctl); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}

func runCommand(ctx context.Context, cmd string, out io.Writer, ctl controller) error {
	switch strings.ToLower(cmd) {
	case "":
		return nil
	case "start":
		if err := ctl.StartCall(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "calling")
	case "end":
		if err := ctl.EndCall(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "ended")
	case "status":
		st, err := ctl.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, formatStatus(st))
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func formatStatus(st call.Status) string {
	if !st.Active {
		s := fmt.Sprintf("idle endpoint=%s", st.Endpoint)
		if st.ReconnectPending {
			s += fmt.Sprintf(" reconnect_pending attempts=%d", st.ReconnectAttempts)
		}
		return s
	}
	return fmt.Sprintf("active endpoint=%s generation=%d signaling=%s connectivity=%s in_call=%v attempts=%d",
		st.Endpoint, st.Generation, st.Signaling, st.Connectivity, st.InCall, st.ReconnectAttempts)
}
