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

const (
	challengeRecordVersion1 = 1
	challengeExpiryGrace    = 30 * time.Second
)

var (
	ErrChallengeNotFound = errors.New("webauthn challenge not found")
	ErrChallengeExpired  = errors.New("webauthn challenge expired")
	ErrChallengeBackend  = errors.New("webauthn challenge backend unavailable")
)

// Purpose scopes a challenge to one ceremony type.
type Purpose string

const (
	PurposeRegistration   Purpose = "registration"
	PurposeAuthentication Purpose = "authentication"
)

// ChallengeLedger keeps at most one pending challenge per account and
// purpose. Records are removed by the first Consume, whatever its result.
type ChallengeLedger struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewChallengeLedger(redisClient redis.UniversalClient, prefix string, now func() time.Time) *ChallengeLedger {
	if prefix == "" {
		prefix = "wac"
	}
	if now == nil {
		now = time.Now
	}
	return &ChallengeLedger{
		redis:  redisClient,
		prefix: prefix,
		now:    now,
	}
}

func (l *ChallengeLedger) key(accountID string, purpose Purpose) string {
	return l.prefix + ":" + string(purpose) + ":" + accountID
}

// Put stores payload as the pending challenge, replacing any previous one.
// The Redis TTL outlives ttl slightly so an expired record can still be
// reported as expired rather than missing.
func (l *ChallengeLedger) Put(ctx context.Context, accountID string, purpose Purpose, payload []byte, ttl time.Duration) error {
	if accountID == "" {
		return errors.New("challenge account id empty")
	}
	if ttl <= 0 {
		return errors.New("challenge ttl must be positive")
	}
	encoded, err := encodeChallenge(l.now().Add(ttl).UnixMilli(), payload)
	if err != nil {
		return err
	}
	if err := l.redis.Set(ctx, l.key(accountID, purpose), encoded, ttl+challengeExpiryGrace).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// Consume atomically reads and deletes the pending challenge.
func (l *ChallengeLedger) Consume(ctx context.Context, accountID string, purpose Purpose) ([]byte, error) {
	data, err := l.redis.GetDel(ctx, l.key(accountID, purpose)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	expiresAt, payload, err := decodeChallenge(data)
	if err != nil {
		return nil, err
	}
	if l.now().UnixMilli() > expiresAt {
		return nil, ErrChallengeExpired
	}
	return payload, nil
}

func encodeChallenge(expiresAt int64, payload []byte) ([]byte, error) {
	if len(payload) > 1<<20 {
		return nil, errors.New("challenge payload too large")
	}

	var buf bytes.Buffer
	buf.Grow(1 + 8 + 4 + len(payload))
	buf.WriteByte(challengeRecordVersion1)
	if err := binary.Write(&buf, binary.BigEndian, expiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(payload))); err != nil {
		return nil, err
	}
	buf.Write(payload)
	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (int64, []byte, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	if version != challengeRecordVersion1 {
		return 0, nil, errors.New("invalid webauthn challenge version")
	}

	var expiresAt int64
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return 0, nil, err
	}
	var size uint32
	if err := binary.Read(reader, binary.BigEndian, &size); err != nil {
		return 0, nil, err
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(reader, payload); err != nil {
		return 0, nil, err
	}
	return expiresAt, payload, nil
}
