package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"

	ncerr "protosrv/internal/errors"
	"protosrv/internal/linecodec"
	"protosrv/internal/session"
	"protosrv/util"
)

const primeMethod = "isPrime"

// maxExponent bounds the decimal exponent of a number literal that is
// expanded exactly.  Anything with a larger magnitude is either a
// multiple of ten or a non-integer, so never prime.
const maxExponent = 1000

// malformedResponse is sent before hanging up on a bad request.
var malformedResponse = []byte("{}\n")

type primeRequest struct {
	Method *string          `json:"method" validate:"required,eq=isPrime"`
	Number *json.RawMessage `json:"number" validate:"required"`
}

type primeResponse struct {
	Method string `json:"method"`
	Prime  bool   `json:"prime"`
}

// Prime answers newline-delimited JSON primality queries:
//
//	{"method":"isPrime","number":123}  ->  {"method":"isPrime","prime":false}
//
// A malformed request is answered with "{}" and the connection closed.
type Prime struct {
	// MaxLineLength bounds a single request line; ≤ 0 selects
	// linecodec.DefaultMaxLength.
	MaxLineLength int

	once     sync.Once
	validate *validator.Validate
}

// NewPrime returns a Prime handler.
func NewPrime(maxLineLength int) *Prime {
	return &Prime{MaxLineLength: maxLineLength}
}

func (p *Prime) requestValidator() *validator.Validate {
	p.once.Do(func() { p.validate = validator.New() })
	return p.validate
}

// Handle implements Capability.
func (p *Prime) Handle(_ context.Context, sess *session.Session) error {
	dec := linecodec.NewDecoder(sess.Conn, p.MaxLineLength)
	cw := &util.CountingWriter{W: sess.Conn}
	enc := json.NewEncoder(cw)
	var served int
	defer func() {
		sess.Metrics.BytesSent(sess.Protocol, cw.N)
		sess.Logger.Verbose("served %d requests in %s", served, sess.Age())
	}()

	for {
		line, err := dec.ReadLine()
		if err != nil {
			if ncerr.IsClosed(err) {
				return nil
			}
			if ncerr.Is(err, ncerr.ErrLineTooLong) || ncerr.Is(err, ncerr.ErrInvalidEncoding) {
				return p.reject(sess, cw, err)
			}
			return ncerr.Wrap("read", util.PeerString(sess.Peer), err)
		}
		sess.Metrics.BytesReceived(sess.Protocol, int64(len(line)))

		prime, err := p.decide([]byte(line))
		if err != nil {
			return p.reject(sess, cw, err)
		}
		sess.Metrics.Request(sess.Protocol, primeMethod)
		if err := enc.Encode(primeResponse{Method: primeMethod, Prime: prime}); err != nil {
			return ncerr.Wrap("write", util.PeerString(sess.Peer), err)
		}
		served++
	}
}

// reject sends the malformed-request reply.  The caller hangs up.
func (p *Prime) reject(sess *session.Session, cw *util.CountingWriter, cause error) error {
	sess.Metrics.ProtocolError(sess.Protocol)
	sess.Logger.Verbose("malformed request: %v", cause)
	if _, err := cw.Write(malformedResponse); err != nil && !ncerr.IsClosed(err) {
		return ncerr.Wrap("write", util.PeerString(sess.Peer), err)
	}
	return nil
}

// decide parses one request line and reports whether its number is
// prime.  Any error means the request is malformed.
func (p *Prime) decide(line []byte) (bool, error) {
	var req primeRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return false, ncerr.Join(ncerr.ErrMalformedRequest, err)
	}
	if err := p.requestValidator().Struct(req); err != nil {
		return false, ncerr.Join(ncerr.ErrMalformedRequest, err)
	}
	n, ok, err := integerValue(*req.Number)
	if err != nil {
		return false, err
	}
	return ok && IsPrime(n), nil
}

// integerValue interprets a JSON value as a number.  ok is false when
// the number is valid but not an integer (or too large in magnitude to
// matter); err is set when the value is not a JSON number at all.
func integerValue(raw json.RawMessage) (n *big.Int, ok bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return nil, false, ncerr.Join(ncerr.ErrMalformedRequest, ncerr.New("number is not a JSON number"))
	}
	lit := string(raw)

	if i := bytes.IndexAny(raw, "eE"); i >= 0 {
		exp, err := strconv.Atoi(lit[i+1:])
		if err != nil || exp > maxExponent || exp < -maxExponent {
			// Valid JSON (the decoder accepted it) but outside the
			// range worth expanding.
			return nil, false, nil
		}
	}

	r, parsed := new(big.Rat).SetString(lit)
	if !parsed {
		return nil, false, ncerr.Join(ncerr.ErrMalformedRequest, ncerr.New("number is not a JSON number"))
	}
	if !r.IsInt() {
		return nil, false, nil
	}
	return new(big.Int).Set(r.Num()), true, nil
}

// IsPrime reports whether n is a prime.  The answer is exact below
// 2^64 and correct with overwhelming probability above.
func IsPrime(n *big.Int) bool {
	return n.Sign() > 0 && n.ProbablyPrime(20)
}
