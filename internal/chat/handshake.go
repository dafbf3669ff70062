package chat

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"

	ncerr "protosrv/internal/errors"
	"protosrv/internal/linecodec"
)

// Username rules, checked in this order.  Length is counted in bytes.
const (
	minUsernameBytes  = 1
	maxUsernameBytes  = 64
	usernameCharsRule = "alphanum"
)

// errBadLength marks a username that fails the length rule.
var errBadLength = ncerr.New("username length out of range")

// Handshake greets a new connection and reads its username.
type Handshake struct {
	validate *validator.Validate
}

// NewHandshake returns a Handshake with its own validator.
func NewHandshake() *Handshake {
	return &Handshake{validate: validator.New()}
}

// Run writes the welcome prompt to w, reads one record from dec and
// validates it.  On a bad name the matching reply has already been
// written and the error wraps ErrInvalidUsername; the caller hangs up.
// Any other error is a transport failure.
func (h *Handshake) Run(w io.Writer, dec *linecodec.Decoder) (string, error) {
	if _, err := io.WriteString(w, welcomeMsg); err != nil {
		return "", err
	}

	rec, err := dec.ReadRecord()
	if ncerr.Is(err, ncerr.ErrLineTooLong) {
		return "", h.refuse(w, badLengthMsg, "<over line limit>")
	}
	// A final unterminated record is still taken as the name, and a
	// peer that hangs up without sending one gets the empty name.
	if err != nil && len(rec) == 0 && !ncerr.Is(err, io.EOF) {
		return "", err
	}

	name := strings.TrimSpace(string(rec))
	if err := h.Validate(name); err != nil {
		reply := badCharsMsg
		if ncerr.Is(err, errBadLength) {
			reply = badLengthMsg
		}
		return "", h.refuse(w, reply, name)
	}
	return name, nil
}

// Validate checks name against the username rules: 1 to 64 bytes,
// all ASCII letters or digits.
func (h *Handshake) Validate(name string) error {
	if n := len(name); n < minUsernameBytes || n > maxUsernameBytes {
		return ncerr.Join(ncerr.ErrInvalidUsername, errBadLength)
	}
	if err := h.validate.Var(name, usernameCharsRule); err != nil {
		return ncerr.ErrInvalidUsername
	}
	return nil
}

func (h *Handshake) refuse(w io.Writer, reply, name string) error {
	if _, err := io.WriteString(w, reply); err != nil {
		return err
	}
	return fmt.Errorf("%w: %q", ncerr.ErrInvalidUsername, name)
}
