// Package linecodec frames a byte stream into newline-terminated
// records.  It is shared by the chat room and the prime service.
//
// Policy: a record is at most MaxLength bytes including its '\n';
// longer records fail with ErrLineTooLong.  ReadLine additionally
// requires UTF-8 and drops a trailing record that has no newline when
// the stream ends.
package linecodec

import (
	"bufio"
	"io"
	"unicode/utf8"

	ncerr "protosrv/internal/errors"
)

// DefaultMaxLength bounds a single record (64 KiB).
const DefaultMaxLength = 64 * 1024

// readBufSize is the bufio buffer size; records longer than this are
// assembled from several fragments.
const readBufSize = 4096

// Decoder reads newline-terminated records from an io.Reader.  It is
// not safe for concurrent use; each session owns its own Decoder.
type Decoder struct {
	r   *bufio.Reader
	max int
}

// NewDecoder wraps r.  A maxLength ≤ 0 selects DefaultMaxLength.
func NewDecoder(r io.Reader, maxLength int) *Decoder {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Decoder{r: bufio.NewReaderSize(r, readBufSize), max: maxLength}
}

// MaxLength returns the configured record limit.
func (d *Decoder) MaxLength() int { return d.max }

// ReadRecord returns the next record including its trailing '\n',
// without any encoding check.  When the stream ends mid-record the
// partial bytes are returned together with the read error (usually
// io.EOF), so callers that want to be lenient can still use them.
func (d *Decoder) ReadRecord() ([]byte, error) {
	var line []byte
	for {
		frag, err := d.r.ReadSlice('\n')
		if len(line)+len(frag) > d.max {
			return nil, ncerr.ErrLineTooLong
		}
		line = append(line, frag...)
		switch err {
		case nil:
			return line, nil
		case bufio.ErrBufferFull:
			continue
		default:
			return line, err
		}
	}
}

// ReadLine returns the next complete, UTF-8 encoded line including
// its '\n'.  A partial line at end of stream is discarded and io.EOF
// returned.
func (d *Decoder) ReadLine() (string, error) {
	rec, err := d.ReadRecord()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(rec) {
		return "", ncerr.ErrInvalidEncoding
	}
	return string(rec), nil
}
