package email

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/leadkit/automation/internal/action"
)

// startScriptedSMTP runs a minimal SMTP conversation for one connection and
// answers QUIT with the given reply.
func startScriptedSMTP(t *testing.T, quitReply string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)
		say := func(s string) { fmt.Fprintf(conn, "%s\r\n", s) }

		say("220 mail.test ESMTP")
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			switch {
			case strings.HasPrefix(line, "EHLO"), strings.HasPrefix(line, "HELO"):
				say("250 mail.test")
			case strings.HasPrefix(line, "MAIL"), strings.HasPrefix(line, "RCPT"):
				say("250 ok")
			case strings.HasPrefix(line, "DATA"):
				say("354 go ahead")
				for {
					l, err := br.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
				}
				say("250 accepted")
			case strings.HasPrefix(line, "QUIT"):
				say(quitReply)
				return
			default:
				say("250 ok")
			}
		}
	}()
	return ln.Addr().String()
}

// A QUIT failure after the server accepted the message must not fail the
// delivery.
func TestSendIgnoresQuitFailure(t *testing.T) {
	addr := startScriptedSMTP(t, "421 shutting down")
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	var port int
	fmt.Sscanf(portStr, "%d", &port)

	s := NewSMTPSender(SMTPConfig{Host: host, Port: port})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg := &Message{From: "noreply@leadkit.io", To: "jane@example.com", Subject: "hi", Body: "welcome"}
	if err := s.Send(ctx, msg); err != nil {
		t.Fatalf("Send = %v, want nil after an accepted DATA", err)
	}
}

func TestClassifySMTP(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		transient bool
	}{
		{"permanent reply", &textproto.Error{Code: 550, Msg: "mailbox unavailable"}, false},
		{"greylisting reply", &textproto.Error{Code: 451, Msg: "try again later"}, true},
		{"connection error", fmt.Errorf("read: connection reset by peer"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifySMTP(fmt.Errorf("smtp: %w", tc.err))
			if action.IsTransient(got) != tc.transient {
				t.Errorf("IsTransient = %v, want %v", action.IsTransient(got), tc.transient)
			}
			if action.IsPermanent(got) == tc.transient {
				t.Errorf("IsPermanent = %v, want %v", action.IsPermanent(got), !tc.transient)
			}
		})
	}
}
