package message

import (
	"time"

	"github.com/ardnew/softant/pkg"
)

// Reader is the read half of a transport driver. Read returns up to count
// bytes, or pkg.ErrTimeout if none arrived within timeout.
type Reader interface {
	Read(count int, timeout time.Duration) ([]byte, error)
}

// ReadFrame reads the next well-formed frame from r.
//
// Bytes preceding a sync byte are skipped. A frame whose checksum does not
// match is dropped and scanning resumes after it. Errors from r, including
// a timeout in the middle of a frame, are returned unchanged and any
// partial frame is discarded.
func ReadFrame(r Reader, timeout time.Duration) (Message, error) {
	for {
		b, err := readByte(r, timeout)
		if err != nil {
			return Message{}, err
		}
		if b != Sync {
			continue
		}

		n, err := readByte(r, timeout)
		if err != nil {
			return Message{}, err
		}
		id, err := readByte(r, timeout)
		if err != nil {
			return Message{}, err
		}
		content := make([]byte, n)
		for i := range content {
			if content[i], err = readByte(r, timeout); err != nil {
				return Message{}, err
			}
		}
		chk, err := readByte(r, timeout)
		if err != nil {
			return Message{}, err
		}

		m := Message{ID: id, Content: content}
		if m.Checksum() != chk {
			pkg.LogDebug(pkg.ComponentCodec, "dropping frame with bad checksum",
				"id", id, "got", chk, "want", m.Checksum())
			continue
		}
		return m, nil
	}
}

func readByte(r Reader, timeout time.Duration) (byte, error) {
	b, err := r.Read(1, timeout)
	if err != nil {
		return 0, err
	}
	if len(b) == 0 {
		return 0, pkg.ErrTimeout
	}
	return b[0], nil
}
