package relp

import (
	"bufio"
	"fmt"
	"strconv"
)

// A frame is one RELP transfer unit:
//
//	TXNR SP COMMAND SP DATALEN [SP DATA] LF
//
// DATALEN counts the DATA bytes only. A frame with DATALEN 0 carries no
// data and no separating space before the trailer.
type frame struct {
	txnr    uint64
	command string
	data    []byte
}

func (f *frame) encode() []byte {
	head := fmt.Sprintf("%d %s %d", f.txnr, f.command, len(f.data))
	buf := make([]byte, 0, len(head)+1+len(f.data)+1)
	buf = append(buf, head...)
	if len(f.data) > 0 {
		buf = append(buf, ' ')
		buf = append(buf, f.data...)
	}
	buf = append(buf, '\n')
	return buf
}

// readFrame parses one frame off r. The header fields are length-limited so
// a misbehaving peer cannot make us buffer unbounded garbage.
func readFrame(r *bufio.Reader) (*frame, error) {
	txnr, err := readNumber(r, 9) // TXNR is limited to 9 digits on the wire
	if err != nil {
		return nil, fmt.Errorf("reading txnr: %w", err)
	}
	command, err := readToken(r, 32)
	if err != nil {
		return nil, fmt.Errorf("reading command: %w", err)
	}
	datalen, err := readNumber(r, 9)
	if err != nil {
		return nil, fmt.Errorf("reading datalen: %w", err)
	}

	f := &frame{txnr: txnr, command: command}
	if datalen > 0 {
		f.data = make([]byte, datalen)
		if _, err := readFull(r, f.data); err != nil {
			return nil, fmt.Errorf("reading %d data bytes: %w", datalen, err)
		}
	}
	trailer, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if trailer != '\n' {
		return nil, fmt.Errorf("bad frame trailer 0x%02x", trailer)
	}
	return f, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// readToken reads bytes up to the next space or LF. The terminating space is
// consumed; a terminating LF is pushed back so the trailer check sees it.
func readToken(r *bufio.Reader, maxLen int) (string, error) {
	tok := make([]byte, 0, 16)
	for {
		c, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if c == ' ' {
			break
		}
		if c == '\n' {
			if err := r.UnreadByte(); err != nil {
				return "", err
			}
			break
		}
		if len(tok) == maxLen {
			return "", fmt.Errorf("token exceeds %d bytes", maxLen)
		}
		tok = append(tok, c)
	}
	if len(tok) == 0 {
		return "", fmt.Errorf("empty token")
	}
	return string(tok), nil
}

func readNumber(r *bufio.Reader, maxDigits int) (uint64, error) {
	tok, err := readToken(r, maxDigits)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(tok, 10, 64)
}
