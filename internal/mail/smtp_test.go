package mail

import (
	"bufio"
	"context"
	"encoding/base64"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSMTP accepts one session and records the envelope and data.
type fakeSMTP struct {
	ln       net.Listener
	auth     bool
	mu       sync.Mutex
	commands []string
	data     string
	done     chan struct{}
}

func startFakeSMTP(t *testing.T, auth bool) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeSMTP{ln: ln, auth: auth, done: make(chan struct{})}
	go f.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return f
}

func (f *fakeSMTP) port(t *testing.T) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(f.ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func (f *fakeSMTP) serve() {
	defer close(f.done)
	conn, err := f.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }
	reply("220 fake ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		f.mu.Lock()
		f.commands = append(f.commands, cmd)
		f.mu.Unlock()

		switch verb := strings.ToUpper(strings.Fields(cmd + " x")[0]); verb {
		case "EHLO":
			reply("250-fake")
			if f.auth {
				reply("250-AUTH PLAIN LOGIN")
			}
			reply("250 8BITMIME")
		case "AUTH":
			reply("235 authenticated")
		case "MAIL", "RCPT", "NOOP", "RSET":
			reply("250 ok")
		case "DATA":
			reply("354 go ahead")
			var b strings.Builder
			for {
				dl, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if dl == ".\r\n" {
					break
				}
				b.WriteString(dl)
			}
			f.mu.Lock()
			f.data = b.String()
			f.mu.Unlock()
			reply("250 queued")
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 unsupported")
		}
	}
}

func TestSMTPSenderDelivers(t *testing.T) {
	t.Parallel()

	server := startFakeSMTP(t, false)
	sender, err := NewSMTPSender(SMTPConfig{Address: "127.0.0.1", Port: server.port(t)}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = sender.Send(ctx, Message{
		From:    "kb@example.org",
		To:      "team@example.org",
		Subject: "Report",
		Body:    "Report of broken links in collection oa.1.",
	})
	require.NoError(t, err)
	<-server.done

	server.mu.Lock()
	defer server.mu.Unlock()
	require.NotEmpty(t, server.commands)
	assert.True(t, strings.HasPrefix(server.commands[0], "EHLO "))
	assert.True(t, strings.HasPrefix(commandWithVerb(server.commands, "MAIL"), "MAIL FROM:<kb@example.org>"))
	assert.True(t, strings.HasPrefix(commandWithVerb(server.commands, "RCPT"), "RCPT TO:<team@example.org>"))
	assert.Empty(t, commandWithVerb(server.commands, "AUTH"), "no password, no AUTH")
	assert.Contains(t, server.data, "Subject: Report")
	assert.Contains(t, server.data, "Report of broken links in collection oa.1.")
}

func TestSMTPSenderAuthenticatesAsSender(t *testing.T) {
	t.Parallel()

	server := startFakeSMTP(t, true)
	sender, err := NewSMTPSender(SMTPConfig{Address: "127.0.0.1", Port: server.port(t), Password: "secret"}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sender.Send(ctx, Message{From: "kb@example.org", To: "team@example.org", Body: "x"}))
	<-server.done

	server.mu.Lock()
	defer server.mu.Unlock()
	auth := strings.Fields(commandWithVerb(server.commands, "AUTH"))
	require.Len(t, auth, 3)
	assert.Equal(t, "PLAIN", auth[1])
	creds, err := base64.StdEncoding.DecodeString(auth[2])
	require.NoError(t, err)
	assert.Equal(t, "\x00kb@example.org\x00secret", string(creds))
}

func commandWithVerb(commands []string, verb string) string {
	for _, c := range commands {
		if strings.HasPrefix(strings.ToUpper(c), verb+" ") {
			return c
		}
	}
	return ""
}

func TestSMTPSenderDialFailure(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	sender, err := NewSMTPSender(SMTPConfig{Address: "127.0.0.1", Port: port, DialTimeout: time.Second}, nil)
	require.NoError(t, err)
	err = sender.Send(context.Background(), Message{From: "a@example.org", To: "b@example.org"})
	assert.ErrorContains(t, err, "deliver via smtp")
}

func TestNewSMTPSenderValidation(t *testing.T) {
	t.Parallel()

	_, err := NewSMTPSender(SMTPConfig{Port: 587}, nil)
	assert.Error(t, err)
	_, err = NewSMTPSender(SMTPConfig{Address: "smtp.example.org"}, nil)
	assert.Error(t, err)
	_, err = NewSMTPSender(SMTPConfig{Address: "smtp.example.org", Port: 70000}, nil)
	assert.Error(t, err)
}
