package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/campusreach/authcore/store"
)

const (
	resetRecordVersionV1 = 1
)

const resetFlagUsed byte = 1

var (
	ErrResetNotFound       = errors.New("reset record not found")
	ErrResetCorrupt        = errors.New("reset record corrupt")
	ErrResetAlreadyClaimed = errors.New("reset record already claimed")
)

// ResetRecord is the stored state of one password-reset token. The raw token
// is never part of it.
type ResetRecord struct {
	UserID    string
	Email     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
	UsedAt    time.Time
	Attempts  uint16
	IPAddress string
	UserAgent string
}

// PasswordResetStore keeps reset records under "<prefix>:tok:<tokenHash>".
//
// Update and MarkUsed are read-modify-write and last-writer-wins; attempts
// are counted on their own key. Single use is guaranteed by Claim, which is
// backed by the atomic window counter.
type PasswordResetStore struct {
	backend store.Backend
	prefix  string
}

func NewPasswordResetStore(backend store.Backend, prefix string) *PasswordResetStore {
	if prefix == "" {
		prefix = "pwreset"
	}
	return &PasswordResetStore{
		backend: backend,
		prefix:  prefix,
	}
}

func (s *PasswordResetStore) key(tokenHash string) string {
	return s.prefix + ":tok:" + tokenHash
}

func (s *PasswordResetStore) claimKey(tokenHash string) string {
	return s.prefix + ":claim:" + tokenHash
}

func (s *PasswordResetStore) attemptKey(tokenHash string) string {
	return s.prefix + ":att:" + tokenHash
}

// Backend returns the underlying backend.
func (s *PasswordResetStore) Backend() store.Backend {
	return s.backend
}

func (s *PasswordResetStore) Save(ctx context.Context, tokenHash string, record *ResetRecord, ttl time.Duration) error {
	encoded, err := encodeResetRecord(record)
	if err != nil {
		return err
	}
	return s.backend.Set(ctx, s.key(tokenHash), encoded, ttl)
}

// Get returns the record regardless of its Used flag or expiry; callers
// decide what those mean.
func (s *PasswordResetStore) Get(ctx context.Context, tokenHash string) (*ResetRecord, error) {
	data, err := s.backend.Get(ctx, s.key(tokenHash))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrResetNotFound
		}
		return nil, err
	}
	record, err := decodeResetRecord(data)
	if err != nil {
		return nil, err
	}

	raw, err := s.backend.Get(ctx, s.attemptKey(tokenHash))
	if err == nil {
		if n, perr := strconv.ParseInt(string(raw), 10, 64); perr == nil && n > int64(record.Attempts) {
			record.Attempts = clampAttempts(n)
		}
	}
	return record, nil
}

// Update rewrites record keeping the key's remaining lifetime. A record that
// expired or was deleted in the meantime is not recreated.
func (s *PasswordResetStore) Update(ctx context.Context, tokenHash string, record *ResetRecord) error {
	key := s.key(tokenHash)
	ttl, err := s.backend.TTL(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrResetNotFound
		}
		return err
	}
	if ttl == 0 {
		return ErrResetNotFound
	}
	if ttl < 0 {
		ttl = 0
	}

	encoded, err := encodeResetRecord(record)
	if err != nil {
		return err
	}
	ok, err := s.backend.Replace(ctx, key, encoded, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrResetNotFound
	}
	return nil
}

// RecordAttempt counts one verification on a separate atomic counter, so it
// never rewrites the record and cannot undo a concurrent MarkUsed. The
// counter lives as long as the record.
func (s *PasswordResetStore) RecordAttempt(ctx context.Context, tokenHash string, record *ResetRecord) error {
	ttl, err := s.backend.TTL(ctx, s.key(tokenHash))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrResetNotFound
		}
		return err
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	c, err := s.backend.IncrWindow(ctx, s.attemptKey(tokenHash), ttl)
	if err != nil {
		return err
	}
	record.Attempts = clampAttempts(c.Count)
	return nil
}

func clampAttempts(n int64) uint16 {
	if n > math.MaxUint16 {
		return math.MaxUint16
	}
	if n < 0 {
		return 0
	}
	return uint16(n)
}

// Claim atomically reserves the token for one consumer. Exactly one caller
// per token gets nil; everyone else gets ErrResetAlreadyClaimed until Release.
func (s *PasswordResetStore) Claim(ctx context.Context, tokenHash string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Minute
	}
	c, err := s.backend.IncrWindow(ctx, s.claimKey(tokenHash), ttl)
	if err != nil {
		return err
	}
	if c.Count != 1 {
		return ErrResetAlreadyClaimed
	}
	return nil
}

// Release drops a claim so the token can be retried.
func (s *PasswordResetStore) Release(ctx context.Context, tokenHash string) error {
	_, err := s.backend.Delete(ctx, s.claimKey(tokenHash))
	return err
}

// MarkUsed flips Used and stamps UsedAt. The record is kept until its TTL so
// that replays are distinguishable from unknown tokens.
func (s *PasswordResetStore) MarkUsed(ctx context.Context, tokenHash string, record *ResetRecord, at time.Time) error {
	record.Used = true
	record.UsedAt = at
	return s.Update(ctx, tokenHash, record)
}

func (s *PasswordResetStore) Delete(ctx context.Context, tokenHash string) error {
	_, err := s.backend.Delete(ctx, s.key(tokenHash), s.claimKey(tokenHash), s.attemptKey(tokenHash))
	return err
}

func encodeResetRecord(record *ResetRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(resetRecordVersionV1)

	var flags byte
	if record.Used {
		flags |= resetFlagUsed
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	var usedAt int64
	if !record.UsedAt.IsZero() {
		usedAt = record.UsedAt.UnixNano()
	}
	stamps := [3]int64{record.CreatedAt.UnixNano(), record.ExpiresAt.UnixNano(), usedAt}
	if err := binary.Write(&buf, binary.BigEndian, stamps); err != nil {
		return nil, err
	}

	for _, field := range []string{record.UserID, record.Email, record.IPAddress, record.UserAgent} {
		if len(field) > math.MaxUint16 {
			return nil, errors.New("reset record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeResetRecord(data []byte) (*ResetRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, resetCorrupt(err)
	}
	if version != resetRecordVersionV1 {
		return nil, fmt.Errorf("%w: version %d", ErrResetCorrupt, version)
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, resetCorrupt(err)
	}

	record := &ResetRecord{Used: flags&resetFlagUsed != 0}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, resetCorrupt(err)
	}

	var stamps [3]int64
	if err := binary.Read(reader, binary.BigEndian, &stamps); err != nil {
		return nil, resetCorrupt(err)
	}
	record.CreatedAt = time.Unix(0, stamps[0])
	record.ExpiresAt = time.Unix(0, stamps[1])
	if stamps[2] != 0 {
		record.UsedAt = time.Unix(0, stamps[2])
	}

	fields := []*string{&record.UserID, &record.Email, &record.IPAddress, &record.UserAgent}
	for _, field := range fields {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, resetCorrupt(err)
		}
		if int(n) > reader.Len() {
			return nil, resetCorrupt(io.ErrUnexpectedEOF)
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(reader, b); err != nil {
			return nil, resetCorrupt(err)
		}
		*field = string(b)
	}

	return record, nil
}

func resetCorrupt(err error) error {
	return fmt.Errorf("%w: %v", ErrResetCorrupt, err)
}
