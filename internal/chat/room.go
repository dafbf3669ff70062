package chat

import (
	"context"
	"sync"

	ncerr "protosrv/internal/errors"
	"protosrv/internal/linecodec"
	"protosrv/internal/session"
	"protosrv/util"
)

// Room serves chat connections against a shared Registry.  It
// implements capability.Capability.
type Room struct {
	Registry      *Registry
	MaxLineLength int // ≤ 0 selects linecodec.DefaultMaxLength
	OutboxSize    int // ≤ 0 selects DefaultOutboxSize

	once      sync.Once
	handshake *Handshake
}

// NewRoom returns a Room bound to reg.
func NewRoom(reg *Registry, maxLineLength, outboxSize int) *Room {
	return &Room{
		Registry:      reg,
		MaxLineLength: maxLineLength,
		OutboxSize:    outboxSize,
	}
}

func (r *Room) handshaker() *Handshake {
	r.once.Do(func() { r.handshake = NewHandshake() })
	return r.handshake
}

// Handle runs one member's lifecycle: handshake, admission, the
// relay loop, and departure.
func (r *Room) Handle(_ context.Context, sess *session.Session) error {
	peer := util.PeerString(sess.Peer)
	dec := linecodec.NewDecoder(sess.Conn, r.MaxLineLength)

	// ── AwaitingUsername ──
	name, err := r.handshaker().Run(sess.Conn, dec)
	if err != nil {
		if ncerr.Is(err, ncerr.ErrInvalidUsername) {
			sess.Metrics.ProtocolError(sess.Protocol)
			sess.Logger.Verbose("refused: %v", err)
			return nil
		}
		if ncerr.IsClosed(err) {
			return nil
		}
		return ncerr.Wrap("handshake", peer, err)
	}

	out := NewOutbox(sess.Conn, r.OutboxSize, sess.Logger, sess.Metrics)
	roster, err := r.Registry.Admit(name, out)
	if err != nil {
		sess.Metrics.ProtocolError(sess.Protocol)
		sess.Logger.Verbose("refused %q: %v", name, err)
		if _, werr := sess.Conn.Write([]byte(nameTakenMsg)); werr != nil && !ncerr.IsClosed(werr) {
			return ncerr.Wrap("write", peer, werr)
		}
		return nil
	}
	go out.Run()

	// ── Active ──
	sess.Logger.Info("%s joined (%d already here)", name, len(roster))
	err = r.relay(sess, dec, name)

	// ── Disconnected ──
	r.Registry.Leave(name)
	r.Registry.Broadcast(leftMsg(name), name)
	sess.Metrics.ChatMessage("leave")
	out.Close()
	sess.Logger.Info("%s left after %s", name, sess.Age())

	switch {
	case err == nil, ncerr.IsClosed(err):
		return nil
	case ncerr.Is(err, ncerr.ErrLineTooLong), ncerr.Is(err, ncerr.ErrInvalidEncoding):
		sess.Metrics.ProtocolError(sess.Protocol)
		sess.Logger.Verbose("dropped: %v", err)
		return nil
	default:
		return ncerr.Wrap("read", peer, err)
	}
}

// relay broadcasts every complete line from the member until the
// stream ends or a line is rejected.
func (r *Room) relay(sess *session.Session, dec *linecodec.Decoder, name string) error {
	for {
		line, err := dec.ReadLine()
		if err != nil {
			return err
		}
		sess.Metrics.BytesReceived(sess.Protocol, int64(len(line)))
		n := r.Registry.Broadcast(chatMsg(name, line), name)
		sess.Metrics.ChatMessage("chat")
		sess.Logger.Debug("relayed %d bytes to %d members", len(line), n)
	}
}
