package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/portal-echo/wsclient"
)

// console is a line-oriented terminal surface for the controller.
type console struct {
	mu           sync.Mutex
	out          io.Writer
	inputEnabled bool
	input        string
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) println(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *console) AppendReceived(text string) { c.println("Server: %s", text) }
func (c *console) AppendSent(text string)     { c.println("You: %s", text) }
func (c *console) AppendSystem(text string)   { c.println("* %s", text) }

func (c *console) SetStatus(text string, class wsclient.StatusClass) {
	c.println("[%s] %s", class, text)
}

func (c *console) SetInputEnabled(enabled bool) {
	c.mu.Lock()
	c.inputEnabled = enabled
	c.mu.Unlock()
}

func (c *console) ClearInput() {
	c.mu.Lock()
	c.input = ""
	c.mu.Unlock()
}

// setInput stores the line being submitted; it stays there until the
// controller clears it after a successful send.
func (c *console) setInput(text string) {
	c.mu.Lock()
	c.input = text
	c.mu.Unlock()
}

func (c *console) pendingInput() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

func (c *console) acceptsInput() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputEnabled
}

// session is the part of the controller the input loop drives.
type session interface {
	Connect()
	Disconnect()
	Send(text string)
}

// runInput feeds stdin lines to the session until /quit, EOF or ctx ends.
func runInput(ctx context.Context, r io.Reader, s session, con *console) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					if err != nil {
						return fmt.Errorf("read input: %w", err)
					}
				default:
				}
				return nil
			}
			if quit := handleLine(line, s, con); quit {
				return nil
			}
		}
	}
}

func handleLine(line string, s session, con *console) bool {
	switch strings.TrimSpace(line) {
	case "/quit":
		return true
	case "/connect":
		s.Connect()
	case "/disconnect":
		s.Disconnect()
	case "/retry":
		if text := con.pendingInput(); text != "" {
			s.Send(text)
		}
	default:
		if !con.acceptsInput() {
			log.Debug().Msg("[client] input disabled; line ignored")
			return false
		}
		con.setInput(line)
		s.Send(line)
	}
	return false
}
