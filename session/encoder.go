package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"
)

// CurrentSchemaVersion is the first byte of every encoded session.
const CurrentSchemaVersion = 1

const (
	flagActive byte = 1 << iota
)

// MaxUserDataEntries is the most UserData entries a record may hold.
const MaxUserDataEntries = 256

var (
	// ErrCorrupt is returned when a stored blob cannot be decoded.
	ErrCorrupt = errors.New("session: corrupt record")
	// ErrTooLarge is returned when a session cannot be encoded.
	ErrTooLarge = errors.New("session: record too large")
)

// Encode serializes s into the versioned binary layout:
//
//	version(1) flags(1) loginCount(4) created(8) lastAccess(8) expires(8)
//	userID ip userAgent (uint16 length + bytes each)
//	userData count(2) then key/value pairs sorted by key
//
// Timestamps are Unix nanoseconds, big endian.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(64 + len(s.UserID) + len(s.IPAddress) + len(s.UserAgent))

	buf.WriteByte(CurrentSchemaVersion)

	var flags byte
	if s.IsActive {
		flags |= flagActive
	}
	buf.WriteByte(flags)

	var scratch [8]byte
	binary.BigEndian.PutUint32(scratch[:4], s.LoginCount)
	buf.Write(scratch[:4])
	for _, ts := range []time.Time{s.CreatedAt, s.LastAccessedAt, s.ExpiresAt} {
		binary.BigEndian.PutUint64(scratch[:], uint64(ts.UnixNano()))
		buf.Write(scratch[:])
	}

	if err := writeString(&buf, "userID", s.UserID); err != nil {
		return nil, err
	}
	if err := writeString(&buf, "ip", s.IPAddress); err != nil {
		return nil, err
	}
	if err := writeString(&buf, "userAgent", s.UserAgent); err != nil {
		return nil, err
	}

	if len(s.UserData) > MaxUserDataEntries {
		return nil, fmt.Errorf("%w: too many user data entries", ErrTooLarge)
	}
	binary.BigEndian.PutUint16(scratch[:2], uint16(len(s.UserData)))
	buf.Write(scratch[:2])

	keys := make([]string, 0, len(s.UserData))
	for k := range s.UserData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := writeString(&buf, "userData key", k); err != nil {
			return nil, err
		}
		if err := writeString(&buf, "userData value", s.UserData[k]); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode parses a blob produced by Encode. Unknown versions and truncated
// input return an error wrapping ErrCorrupt.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, corrupt(err)
	}
	if version != CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: unsupported session schema version %d", ErrCorrupt, version)
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, corrupt(err)
	}

	s := &Session{IsActive: flags&flagActive != 0}

	if err := binary.Read(reader, binary.BigEndian, &s.LoginCount); err != nil {
		return nil, corrupt(err)
	}

	var stamps [3]int64
	if err := binary.Read(reader, binary.BigEndian, &stamps); err != nil {
		return nil, corrupt(err)
	}
	s.CreatedAt = time.Unix(0, stamps[0])
	s.LastAccessedAt = time.Unix(0, stamps[1])
	s.ExpiresAt = time.Unix(0, stamps[2])

	if s.UserID, err = readString(reader); err != nil {
		return nil, err
	}
	if s.IPAddress, err = readString(reader); err != nil {
		return nil, err
	}
	if s.UserAgent, err = readString(reader); err != nil {
		return nil, err
	}

	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return nil, corrupt(err)
	}
	if n > MaxUserDataEntries {
		return nil, fmt.Errorf("%w: %d user data entries", ErrCorrupt, n)
	}
	if n > 0 {
		s.UserData = make(map[string]string, n)
		for i := 0; i < int(n); i++ {
			k, err := readString(reader)
			if err != nil {
				return nil, err
			}
			v, err := readString(reader)
			if err != nil {
				return nil, err
			}
			s.UserData[k] = v
		}
	}

	if reader.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, reader.Len())
	}

	return s, nil
}

func writeString(buf *bytes.Buffer, field, v string) error {
	if len(v) > math.MaxUint16 {
		return fmt.Errorf("%w: %s too long", ErrTooLarge, field)
	}
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(v)))
	buf.Write(l[:])
	buf.WriteString(v)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var l uint16
	if err := binary.Read(r, binary.BigEndian, &l); err != nil {
		return "", corrupt(err)
	}
	if int(l) > r.Len() {
		return "", corrupt(io.ErrUnexpectedEOF)
	}
	b := make([]byte, l)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", corrupt(err)
	}
	return string(b), nil
}

func corrupt(err error) error {
	return fmt.Errorf("%w: %v", ErrCorrupt, err)
}
