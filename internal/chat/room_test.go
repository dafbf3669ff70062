package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"protosrv/internal/metrics"
	"protosrv/internal/session"
	"protosrv/util"
)

// startRoom serves a Room on a loopback listener and returns its
// address and registry.
func startRoom(t *testing.T) (string, *Registry) {
	t.Helper()
	m := metrics.New()
	reg := NewRegistry(m)
	return serveRoom(t, NewRoom(reg, 0, 0), m), reg
}

// serveRoom accepts connections for room until the test ends.
func serveRoom(t *testing.T, room *Room, m *metrics.Collector) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	logger := util.NewLogger(0)

	var wg sync.WaitGroup
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer conn.Close()
				_ = room.Handle(context.Background(), session.New(conn, "chat", logger, m))
			}()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		wg.Wait()
	})
	return ln.Addr().String()
}

type client struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func connect(t *testing.T, addr string) *client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	t.Cleanup(func() { conn.Close() })
	c := &client{t: t, conn: conn, r: bufio.NewReader(conn)}
	c.expect(welcomeMsg)
	return c
}

// join connects and completes the handshake as name.
func join(t *testing.T, addr, name string) *client {
	c := connect(t, addr)
	c.send(name + "\n")
	return c
}

func (c *client) send(s string) {
	c.t.Helper()
	_, err := io.WriteString(c.conn, s)
	require.NoError(c.t, err)
}

func (c *client) expect(want string) {
	c.t.Helper()
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err)
	require.Equal(c.t, want, line)
}

func (c *client) expectClosed() {
	c.t.Helper()
	rest, err := io.ReadAll(c.r)
	require.NoError(c.t, err)
	require.Empty(c.t, string(rest))
}

func waitMembers(t *testing.T, reg *Registry, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return reg.Len() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestRoom_Scenario(t *testing.T) {
	addr, reg := startRoom(t)

	alice := join(t, addr, "alice")
	alice.expect("* The room contains: \n")

	bob := join(t, addr, "bob")
	alice.expect("* bob has entered the room\n")
	bob.expect("* The room contains: alice\n")

	bob.send("hi\n")
	alice.expect("[bob] hi\n")

	// Bob got nothing for his own line: the next thing he reads is
	// Alice's reply.
	alice.send("hello bob\n")
	bob.expect("[alice] hello bob\n")

	bob.conn.Close()
	alice.expect("* bob has left the room\n")
	waitMembers(t, reg, 1)
	require.Equal(t, []string{"alice"}, reg.List())
}

func TestRoom_ValidNamesBecomeActive(t *testing.T) {
	addr, reg := startRoom(t)
	long := strings.Repeat("q", 64)

	join(t, addr, "a").expect("* The room contains: \n")
	join(t, addr, "Zz9").expect("* The room contains: a\n")
	join(t, addr, long).expect("* The room contains: Zz9, a\n")

	waitMembers(t, reg, 3)
	require.Equal(t, []string{"Zz9", "a", long}, reg.List())
}

func TestRoom_InvalidNames(t *testing.T) {
	tests := []struct {
		name  string
		input string
		reply string
	}{
		{"empty", "\n", badLengthMsg},
		{"too long", strings.Repeat("x", 65) + "\n", badLengthMsg},
		{"invalid chars", "a!b\n", badCharsMsg},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, reg := startRoom(t)
			watcher := join(t, addr, "watcher")
			watcher.expect("* The room contains: \n")

			c := connect(t, addr)
			c.send(tt.input)
			c.expect(tt.reply)
			c.expectClosed()

			require.Equal(t, []string{"watcher"}, reg.List())

			// No announcement reached the existing member: the next
			// thing it sees is a later arrival.
			join(t, addr, "later")
			watcher.expect("* later has entered the room\n")
		})
	}
}

func TestRoom_HangUpBeforeName(t *testing.T) {
	addr, reg := startRoom(t)

	c := connect(t, addr)
	require.NoError(t, c.conn.(*net.TCPConn).CloseWrite())
	c.expect(badLengthMsg)
	c.expectClosed()
	require.Zero(t, reg.Len())
}

func TestRoom_DuplicateName(t *testing.T) {
	addr, reg := startRoom(t)
	first := join(t, addr, "alice")
	first.expect("* The room contains: \n")

	dup := join(t, addr, "alice")
	dup.expect(nameTakenMsg)
	dup.expectClosed()

	require.Equal(t, []string{"alice"}, reg.List())

	join(t, addr, "bob")
	first.expect("* bob has entered the room\n")
}

func TestRoom_RosterExcludesJoiner(t *testing.T) {
	addr, _ := startRoom(t)
	a := join(t, addr, "a")
	a.expect("* The room contains: \n")
	b := join(t, addr, "b")
	b.expect("* The room contains: a\n")
	c := join(t, addr, "c")
	c.expect("* The room contains: a, b\n")
}

func TestRoom_OneDepartureNoticePerMember(t *testing.T) {
	addr, reg := startRoom(t)
	stay1 := join(t, addr, "stay1")
	stay1.expect("* The room contains: \n")
	stay2 := join(t, addr, "stay2")
	stay2.expect("* The room contains: stay1\n")
	stay1.expect("* stay2 has entered the room\n")
	gone := join(t, addr, "gone")
	gone.expect("* The room contains: stay1, stay2\n")
	stay1.expect("* gone has entered the room\n")
	stay2.expect("* gone has entered the room\n")

	gone.conn.Close()
	stay1.expect("* gone has left the room\n")
	stay2.expect("* gone has left the room\n")
	waitMembers(t, reg, 2)

	// Exactly one notice each: the next line is the next chat message.
	stay2.send("still here\n")
	stay1.expect("[stay2] still here\n")
	stay1.send("me too\n")
	stay2.expect("[stay1] me too\n")
}

func TestRoom_PartialLineAtEOFDropped(t *testing.T) {
	addr, reg := startRoom(t)
	alice := join(t, addr, "alice")
	alice.expect("* The room contains: \n")
	bob := join(t, addr, "bob")
	bob.expect("* The room contains: alice\n")
	alice.expect("* bob has entered the room\n")

	bob.send("unterminated")
	bob.conn.(*net.TCPConn).CloseWrite()
	alice.expect("* bob has left the room\n")
	waitMembers(t, reg, 1)
}

func TestRoom_InvalidUTF8Disconnects(t *testing.T) {
	addr, reg := startRoom(t)
	alice := join(t, addr, "alice")
	alice.expect("* The room contains: \n")
	bob := join(t, addr, "bob")
	bob.expect("* The room contains: alice\n")
	alice.expect("* bob has entered the room\n")

	bob.send("bad \xff\xfe\n")
	alice.expect("* bob has left the room\n")
	bob.expectClosed()
	waitMembers(t, reg, 1)
}

func TestRoom_ConcurrentDuplicateNames(t *testing.T) {
	addr, reg := startRoom(t)

	const n = 10
	replies := make(chan string, n)
	var tried atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
			if err != nil {
				replies <- "dial: " + err.Error()
				return
			}
			defer conn.Close()
			conn.SetDeadline(time.Now().Add(5 * time.Second))
			r := bufio.NewReader(conn)
			r.ReadString('\n') // welcome
			io.WriteString(conn, "same\n")
			line, _ := r.ReadString('\n')
			replies <- line
			tried.Add(1)
			if line != nameTakenMsg {
				// Hold the name until everyone has tried.
				deadline := time.Now().Add(3 * time.Second)
				for tried.Load() < n && time.Now().Before(deadline) {
					time.Sleep(5 * time.Millisecond)
				}
			}
		}()
	}
	wg.Wait()
	close(replies)

	admitted := 0
	for line := range replies {
		if strings.HasPrefix(line, rosterPrefix) {
			admitted++
		} else {
			require.Equal(t, nameTakenMsg, line)
		}
	}
	require.Equal(t, 1, admitted)
	waitMembers(t, reg, 0)
}

func TestRoom_ZeroValueConcurrent(t *testing.T) {
	m := metrics.New()
	reg := NewRegistry(m)
	addr := serveRoom(t, &Room{Registry: reg}, m)

	clients := make([]*client, 8)
	for i := range clients {
		clients[i] = connect(t, addr)
	}
	for i, c := range clients {
		c.send(fmt.Sprintf("user%d\n", i))
	}
	waitMembers(t, reg, len(clients))
}
