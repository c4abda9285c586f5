package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	tokenRecordVersionV1 = 1
	defaultTokenPrefix   = "atk"
)

var (
	ErrTokenNotFound         = errors.New("token record not found")
	ErrTokenExpired          = errors.New("token record expired")
	ErrTokenRedisUnavailable = errors.New("token redis unavailable")
)

// issueTokenLua stores a new token record and retires the previous live token
// of the same (account, purpose) in one step.
// KEYS[1] = account index key
// KEYS[2] = new record key
// ARGV[1] = record bytes
// ARGV[2] = ttl in milliseconds
// ARGV[3] = record key prefix for this purpose
// ARGV[4] = new digest (hex)
//
// Returns 1 when a previous token was retired, 0 otherwise.
var issueTokenLua = redis.NewScript(`
local prev = redis.call('GET', KEYS[1])
if prev then
  redis.call('DEL', ARGV[3] .. prev)
end
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
redis.call('SET', KEYS[1], ARGV[4], 'PX', ARGV[2])
if prev then
  return 1
end
return 0
`)

// consumeTokenLua atomically performs GET→DEL on a token record so that only
// one caller can ever observe it.
// KEYS[1] = record key
// ARGV[1] = current unix timestamp
// ARGV[2] = account index key prefix for this purpose
// ARGV[3] = digest (hex)
//
// Returns record bytes on success, or error string "not_found" / "expired".
var consumeTokenLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end
redis.call('DEL', KEYS[1])

-- version(1) purpose(1) expiresAt(8 big-endian) accountIDLen(2) accountID
local version = string.byte(data, 1)
if version ~= 1 then
  return {err='not_found'}
end

local e0,e1,e2,e3,e4,e5,e6,e7 = string.byte(data, 3, 10)
local expiresAt = e0
for _, b in ipairs({e1,e2,e3,e4,e5,e6,e7}) do
  expiresAt = expiresAt * 256 + b
end

local idLen = string.byte(data, 11) * 256 + string.byte(data, 12)
local accountID = string.sub(data, 13, 12 + idLen)
local idxKey = ARGV[2] .. accountID
if redis.call('GET', idxKey) == ARGV[3] then
  redis.call('DEL', idxKey)
end

if tonumber(ARGV[1]) > expiresAt then
  return {err='expired'}
end
return data
`)

// revokeTokenLua deletes the live token of an (account, purpose), if any.
// KEYS[1] = account index key
// ARGV[1] = record key prefix for this purpose
var revokeTokenLua = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  return 0
end
redis.call('DEL', ARGV[1] .. cur)
redis.call('DEL', KEYS[1])
return 1
`)

type TokenRecord struct {
	AccountID string
	Purpose   uint8
	ExpiresAt int64
}

// TokenStore keeps single-use token digests in Redis. Raw token values are
// never stored.
type TokenStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewTokenStore(redisClient redis.UniversalClient, prefix string) *TokenStore {
	if prefix == "" {
		prefix = defaultTokenPrefix
	}
	return &TokenStore{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *TokenStore) recordPrefix(purpose uint8) string {
	return s.prefix + ":" + strconv.Itoa(int(purpose)) + ":"
}

func (s *TokenStore) indexPrefix(purpose uint8) string {
	return s.prefix + ":idx:" + strconv.Itoa(int(purpose)) + ":"
}

// Issue stores digest as the only live token for (accountID, purpose). It
// reports whether an older token was retired.
func (s *TokenStore) Issue(
	ctx context.Context,
	accountID string,
	purpose uint8,
	digest [32]byte,
	ttl time.Duration,
) (*TokenRecord, bool, error) {
	if ttl <= 0 {
		return nil, false, errors.New("token ttl must be > 0")
	}

	record := &TokenRecord{
		AccountID: accountID,
		Purpose:   purpose,
		ExpiresAt: s.now().Add(ttl).Unix(),
	}
	encoded, err := encodeTokenRecord(record)
	if err != nil {
		return nil, false, err
	}

	digestHex := hex.EncodeToString(digest[:])
	replaced, err := issueTokenLua.Run(ctx, s.redis,
		[]string{s.indexPrefix(purpose) + accountID, s.recordPrefix(purpose) + digestHex},
		encoded,
		ttl.Milliseconds(),
		s.recordPrefix(purpose),
		digestHex,
	).Int64()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}

	return record, replaced == 1, nil
}

// Consume retires the token with digest and returns its record. Exactly one
// concurrent caller succeeds; the rest see ErrTokenNotFound.
func (s *TokenStore) Consume(ctx context.Context, purpose uint8, digest [32]byte) (*TokenRecord, error) {
	digestHex := hex.EncodeToString(digest[:])

	result, err := consumeTokenLua.Run(ctx, s.redis,
		[]string{s.recordPrefix(purpose) + digestHex},
		s.now().Unix(),
		s.indexPrefix(purpose),
		digestHex,
	).Result()
	if err != nil {
		switch err.Error() {
		case "not_found":
			return nil, ErrTokenNotFound
		case "expired":
			return nil, ErrTokenExpired
		default:
			return nil, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
		}
	}

	data, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected lua result type", ErrTokenRedisUnavailable)
	}

	record, err := decodeTokenRecord([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}
	if record.Purpose != purpose {
		return nil, ErrTokenNotFound
	}
	return record, nil
}

// Revoke deletes the live token of (accountID, purpose). It reports whether
// one existed.
func (s *TokenStore) Revoke(ctx context.Context, accountID string, purpose uint8) (bool, error) {
	n, err := revokeTokenLua.Run(ctx, s.redis,
		[]string{s.indexPrefix(purpose) + accountID},
		s.recordPrefix(purpose),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}
	return n == 1, nil
}

func encodeTokenRecord(record *TokenRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(tokenRecordVersionV1)
	buf.WriteByte(record.Purpose)

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.AccountID) > 65535 {
		return nil, errors.New("token record account id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.AccountID)

	return buf.Bytes(), nil
}

func decodeTokenRecord(data []byte) (*TokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != tokenRecordVersionV1 {
		return nil, errors.New("invalid token record version")
	}

	purpose, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &TokenRecord{Purpose: purpose}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var idLen uint16
	if err := binary.Read(reader, binary.BigEndian, &idLen); err != nil {
		return nil, err
	}
	accountID := make([]byte, idLen)
	if _, err := io.ReadFull(reader, accountID); err != nil {
		return nil, err
	}
	record.AccountID = string(accountID)

	return record, nil
}
