package ami

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// ClientOptions configures a manager connection.
type ClientOptions struct {
	Addr     string
	Username string
	Secret   string

	DialTimeout time.Duration
}

// HandlerFunc receives every event read from the connection, in arrival order.
type HandlerFunc func(ctx context.Context, evt Event)

// Run connects to the manager interface, logs in, and feeds events to handle
// until the context is cancelled or the connection drops. Responses to actions
// are not delivered to the handler. The caller owns reconnect policy.
func Run(ctx context.Context, opts ClientOptions, handle HandlerFunc) error {
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}

	conn, err := net.DialTimeout("tcp", opts.Addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("dial manager: %w", err)
	}
	defer conn.Close()

	// Close the connection when the context is cancelled so the read loop
	// unblocks.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	reader := bufio.NewReader(conn)

	banner, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading banner: %w", err)
	}
	_ = strings.TrimSpace(banner)

	login := fmt.Sprintf("Action: Login\r\nUsername: %s\r\nSecret: %s\r\n\r\n", opts.Username, opts.Secret)
	if _, err := conn.Write([]byte(login)); err != nil {
		return fmt.Errorf("sending login: %w", err)
	}

	parser := NewParser(reader)
	for {
		evt, ok := parser.Next()
		if !ok {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("manager connection closed")
		}
		if evt.IsResponse() {
			continue
		}
		handle(ctx, evt)
	}
}
