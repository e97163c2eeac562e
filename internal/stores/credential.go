package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const credentialRecordVersionV1 = 1

var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialExists   = errors.New("credential already exists")
	ErrRedisUnavailable   = errors.New("redis unavailable")
)

// CredentialRecord is the persisted (salt, verifier) pair for one identity.
// The verifier is one-way derived; nothing in this record can recover the
// password.
type CredentialRecord struct {
	SubjectID string
	Email     string
	Salt      []byte
	Verifier  []byte
	CreatedAt int64
	UpdatedAt int64
}

// CredentialStore persists per-identity credentials keyed by lower-cased
// email, with a subject-to-email index for lookups by subject ID.
type CredentialStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewCredentialStore(redisClient redis.UniversalClient, prefix string) *CredentialStore {
	if prefix == "" {
		prefix = "cred"
	}
	return &CredentialStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *CredentialStore) key(email string) string {
	return s.prefix + ":" + NormalizeEmail(email)
}

func (s *CredentialStore) subjectKey(subjectID string) string {
	return s.prefix + "s:" + subjectID
}

func (s *CredentialStore) failedKey(email string) string {
	return s.prefix + "f:" + NormalizeEmail(email)
}

// NormalizeEmail lower-cases and trims an email for use as a store key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// createCredentialScript claims the email key and writes the subject index
// in one step. Splitting them would let a fault strand a claimed email with
// no subject behind it.
//
// KEYS[1] = credential key, KEYS[2] = subject index key
// ARGV[1] = encoded record, ARGV[2] = normalized email
var createCredentialScript = redis.NewScript(`
if redis.call("SETNX", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2])
return 1
`)

// Create persists a new credential. Exactly one record may exist per email:
// the claim is SET NX and a losing writer gets [ErrCredentialExists].
func (s *CredentialStore) Create(ctx context.Context, record *CredentialRecord) error {
	encoded, err := encodeCredentialRecord(record)
	if err != nil {
		return err
	}

	keys := []string{s.key(record.Email), s.subjectKey(record.SubjectID)}
	created, err := createCredentialScript.Run(ctx, s.redis, keys, encoded, NormalizeEmail(record.Email)).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if created == 0 {
		return ErrCredentialExists
	}

	return nil
}

// GetByEmail returns the credential for an email.
func (s *CredentialStore) GetByEmail(ctx context.Context, email string) (*CredentialRecord, error) {
	data, err := s.redis.Get(ctx, s.key(email)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return decodeCredentialRecord(data)
}

// GetBySubject resolves a subject ID through the index and returns the
// credential.
func (s *CredentialStore) GetBySubject(ctx context.Context, subjectID string) (*CredentialRecord, error) {
	email, err := s.redis.Get(ctx, s.subjectKey(subjectID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return s.GetByEmail(ctx, email)
}

// Replace atomically swaps salt and verifier for the subject's credential.
// Salt and verifier always change together; a concurrent Replace on the same
// record retries via optimistic WATCH.
func (s *CredentialStore) Replace(ctx context.Context, subjectID string, newSalt, newVerifier []byte) error {
	email, err := s.redis.Get(ctx, s.subjectKey(subjectID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCredentialNotFound
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	const maxRetries = 4
	key := s.key(email)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeCredentialRecord(data)
			if err != nil {
				return err
			}

			record.Salt = newSalt
			record.Verifier = newVerifier
			record.UpdatedAt = time.Now().Unix()

			updated, err := encodeCredentialRecord(record)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, 0)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrCredentialNotFound
			}
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return nil
	}

	return fmt.Errorf("%w: replace contention", ErrRedisUnavailable)
}

// Delete removes a credential and its subject index. It is the compensating
// action of the registration saga and tolerates missing records.
func (s *CredentialStore) Delete(ctx context.Context, subjectID, email string) error {
	if err := s.redis.Del(ctx, s.key(email), s.subjectKey(subjectID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// IncrementFailed bumps the failed-proof counter for an email and returns the
// new count. The counter ages out after window.
func (s *CredentialStore) IncrementFailed(ctx context.Context, email string, window time.Duration) (int64, error) {
	key := s.failedKey(email)

	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 && window > 0 {
		if err := s.redis.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

// ResetFailed clears the failed-proof counter.
func (s *CredentialStore) ResetFailed(ctx context.Context, email string) error {
	if err := s.redis.Del(ctx, s.failedKey(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// FailedAttempts returns the current failed-proof counter. Missing keys
// return zero and do not reveal account existence.
func (s *CredentialStore) FailedAttempts(ctx context.Context, email string) (int64, error) {
	count, err := s.redis.Get(ctx, s.failedKey(email)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return count, nil
}

func encodeCredentialRecord(record *CredentialRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(credentialRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.UpdatedAt); err != nil {
		return nil, err
	}

	for _, field := range [][]byte{
		[]byte(record.SubjectID),
		[]byte(NormalizeEmail(record.Email)),
		record.Salt,
		record.Verifier,
	} {
		if len(field) > 65535 {
			return nil, errors.New("credential field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.Write(field)
	}

	return buf.Bytes(), nil
}

func decodeCredentialRecord(data []byte) (*CredentialRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != credentialRecordVersionV1 {
		return nil, errors.New("invalid credential record version")
	}

	record := &CredentialRecord{}

	if err := binary.Read(reader, binary.BigEndian, &record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.UpdatedAt); err != nil {
		return nil, err
	}

	fields := make([][]byte, 4)
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

	return record, nil
}
