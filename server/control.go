package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ServeControl answers management commands on a unix socket until ctx is
// done. Commands are single lines: "stats" or "shutdown|reason". The
// shutdown command replies first and then calls stop.
func (s *Server) ServeControl(ctx context.Context, path string, stop func(reason string)) error {
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}
	defer os.Remove(path)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.log.Info("control socket listening", zap.String("path", path))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			continue
		}
		go s.handleControlCommand(conn, stop)
	}
}

func (s *Server) handleControlCommand(conn net.Conn, stop func(reason string)) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	parts := strings.SplitN(strings.TrimSpace(line), "|", 2)

	switch parts[0] {
	case "stats":
		conn.Write([]byte("OK|" + s.GetStats() + "\n"))

	case "shutdown":
		reason := "maintenance"
		if len(parts) == 2 && parts[1] != "" {
			reason = parts[1]
		}
		conn.Write([]byte("OK|Shutting down\n"))
		s.log.Info("shutdown requested", zap.String("reason", reason))
		if stop != nil {
			stop(reason)
		}

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}

// Control sends one command to a running server's control socket and
// returns the payload of an OK reply.
func Control(path, command string) (string, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return "", fmt.Errorf("dial control socket: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := conn.Write([]byte(command + "\n")); err != nil {
		return "", err
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read control reply: %w", err)
	}

	status, payload, _ := strings.Cut(strings.TrimSpace(reply), "|")
	if status != "OK" {
		return "", errors.New(payload)
	}
	return payload, nil
}
