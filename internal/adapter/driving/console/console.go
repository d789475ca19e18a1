// Package console drives the call service from a terminal.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Wyydra/peercall/internal/core/domain"
	"github.com/Wyydra/peercall/internal/core/service"
	"github.com/fatih/color"
	"github.com/samber/lo"
)

// Calls is the part of the call service the console drives.
type Calls interface {
	StartCall(ctx context.Context, remote domain.UserID) error
	AcceptCall(ctx context.Context) error
	RejectCall(ctx context.Context) error
	EndCall(ctx context.Context) error
	SetTrackEnabled(ctx context.Context, kind domain.TrackKind, enabled bool) error
	RequestPresence(ctx context.Context) error
	Snapshot(ctx context.Context) (service.Snapshot, error)
}

var _ Calls = (*service.CallService)(nil)

var errUsage = errors.New("usage")

type Console struct {
	calls Calls
	in    io.Reader

	mu  sync.Mutex
	out io.Writer

	info  func(a ...any) string
	good  func(a ...any) string
	alert func(a ...any) string
	bad   func(a ...any) string
}

func New(calls Calls, in io.Reader, out io.Writer) *Console {
	return &Console{
		calls: calls,
		in:    in,
		out:   out,
		info:  color.New(color.FgCyan).SprintFunc(),
		good:  color.New(color.FgGreen).SprintFunc(),
		alert: color.New(color.FgYellow, color.Bold).SprintFunc(),
		bad:   color.New(color.FgRed).SprintFunc(),
	}
}

// Run reads commands until quit, end of input or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	c.println(c.info("type help for commands"))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := c.exec(ctx, line)
			if err != nil {
				c.println(c.bad("error: ", err))
			}
			if quit {
				return nil
			}
		}
	}
}

func (c *Console) exec(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "call":
		if len(args) != 1 {
			return false, fmt.Errorf("%w: call <user>", errUsage)
		}
		remote, err := domain.NewUserIDFromString(args[0])
		if err != nil {
			return false, err
		}
		return false, c.calls.StartCall(ctx, remote)
	case "accept":
		return false, c.calls.AcceptCall(ctx)
	case "reject":
		return false, c.calls.RejectCall(ctx)
	case "hangup", "end":
		return false, c.calls.EndCall(ctx)
	case "mute", "unmute":
		if len(args) != 1 {
			return false, fmt.Errorf("%w: %s audio|video", errUsage, cmd)
		}
		kind, ok := domain.ParseTrackKind(args[0])
		if !ok {
			return false, fmt.Errorf("%w: %s audio|video", errUsage, cmd)
		}
		return false, c.calls.SetTrackEnabled(ctx, kind, cmd == "unmute")
	case "users":
		return false, c.calls.RequestPresence(ctx)
	case "status":
		snap, err := c.calls.Snapshot(ctx)
		if err != nil {
			return false, err
		}
		c.printSnapshot(snap)
		return false, nil
	case "help":
		c.println(help)
		return false, nil
	case "quit", "exit":
		return true, nil
	}
	return false, fmt.Errorf("unknown command %q, try help", cmd)
}

const help = `commands:
  call <user>           start a call
  accept | reject       answer an incoming call
  hangup                end the current call
  mute|unmute <kind>    toggle local audio or video
  users                 refresh who is online
  status                show the call state
  quit                  leave`

// Notify prints a call service update. It is safe to call from any goroutine.
func (c *Console) Notify(u service.Update) {
	switch u.Kind {
	case service.UpdateIncoming:
		c.println(c.alert(fmt.Sprintf("incoming call from %s, accept or reject", u.Remote)))
	case service.UpdatePresence:
		c.printPresence(u.Presence)
	case service.UpdateStatus:
		line := fmt.Sprintf("status: %s", u.Status)
		if !u.Remote.IsZero() {
			line += fmt.Sprintf(" (%s)", u.Remote)
		}
		switch {
		case u.Err != nil:
			c.println(c.bad(line, ": ", u.Err))
		case u.Reason != "":
			c.println(c.info(line, ": ", u.Reason))
		case u.Status == domain.StatusActive:
			c.println(c.good(line))
		default:
			c.println(c.info(line))
		}
	}
}

func (c *Console) printPresence(users []domain.PresenceEntry) {
	if len(users) == 0 {
		c.println(c.info("nobody online"))
		return
	}
	names := lo.Map(users, func(e domain.PresenceEntry, _ int) string {
		if e.FullName != "" {
			return fmt.Sprintf("%s (%s)", e.UserID, e.FullName)
		}
		return e.UserID.String()
	})
	c.println(c.info("online: ", strings.Join(names, ", ")))
}

func (c *Console) printSnapshot(s service.Snapshot) {
	var b strings.Builder
	fmt.Fprintf(&b, "state %s, status %s, relay %s", s.State, s.Status, s.Link)
	if !s.Remote.IsZero() {
		fmt.Fprintf(&b, ", remote %s", s.Remote)
	}
	if s.State != domain.StateIdle {
		fmt.Fprintf(&b, ", audio %s, video %s", onOff(s.AudioEnabled), onOff(s.VideoEnabled))
	}
	if s.LastError != nil {
		fmt.Fprintf(&b, ", last error: %v", s.LastError)
	}
	c.println(c.info(b.String()))
}

func onOff(b bool) string {
	return lo.Ternary(b, "on", "off")
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}
