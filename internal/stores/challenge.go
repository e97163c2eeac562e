package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const challengeRecordVersionV1 = 1

var ErrChallengeNotFound = errors.New("challenge not found")

// ChallengeRecord is one in-flight authentication attempt. ServerSecret is
// engine-internal: it is persisted here so a stateless fleet can verify the
// proof, but it must never be serialized to a caller or log.
type ChallengeRecord struct {
	SubjectID    string
	Email        string
	Salt         []byte
	Verifier     []byte
	ServerPublic []byte
	ServerSecret []byte
	CreatedAt    int64
	ExpiresAt    int64
}

// ChallengeStore persists at most one live challenge per email. Put
// overwrites any prior challenge; Consume is a single GETDEL so two
// concurrent verifications can never both redeem the same challenge.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewChallengeStore(redisClient redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "chal"
	}
	return &ChallengeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *ChallengeStore) key(email string) string {
	return s.prefix + ":" + NormalizeEmail(email)
}

// Put stores a challenge, replacing any live one for the email. keyTTL
// should exceed the record's logical expiry so a consumed-late challenge can
// still be distinguished from a missing one.
func (s *ChallengeStore) Put(ctx context.Context, record *ChallengeRecord, keyTTL time.Duration) error {
	encoded, err := encodeChallengeRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(record.Email), encoded, keyTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Consume atomically removes and returns the live challenge for an email.
// The atomic delete closes the replay race: of two concurrent Consume calls,
// exactly one observes the record.
func (s *ChallengeStore) Consume(ctx context.Context, email string) (*ChallengeRecord, error) {
	data, err := s.redis.GetDel(ctx, s.key(email)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return decodeChallengeRecord(data)
}

// Get returns the live challenge without consuming it. Used by tests and
// operational tooling only; the verification path must use Consume.
func (s *ChallengeStore) Get(ctx context.Context, email string) (*ChallengeRecord, error) {
	data, err := s.redis.Get(ctx, s.key(email)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return decodeChallengeRecord(data)
}

func encodeChallengeRecord(record *ChallengeRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(challengeRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range [][]byte{
		[]byte(record.SubjectID),
		[]byte(NormalizeEmail(record.Email)),
		record.Salt,
		record.Verifier,
		record.ServerPublic,
		record.ServerSecret,
	} {
		if len(field) > 65535 {
			return nil, errors.New("challenge field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.Write(field)
	}

	return buf.Bytes(), nil
}

func decodeChallengeRecord(data []byte) (*ChallengeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersionV1 {
		return nil, errors.New("invalid challenge record version")
	}

	record := &ChallengeRecord{}

	if err := binary.Read(reader, binary.BigEndian, &record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	fields := make([][]byte, 6)
	for i := range fields {
		var length uint16
		if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
			return nil, err
		}
		field := make([]byte, length)
		if _, err := io.ReadFull(reader, field); err != nil {
			return nil, err
		}
		fields[i] = field
	}

	record.SubjectID = string(fields[0])
	record.Email = string(fields[1])
	record.Salt = fields[2]
	record.Verifier = fields[3]
	record.ServerPublic = fields[4]
	record.ServerSecret = fields[5]

	return record, nil
}
