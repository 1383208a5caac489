package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/sms-mailing/internal/model"
)

const redisMailingsKey = "sms:mailings"

func redisMailingKey(id string) string {
	return "sms:mailing:" + id
}

func redisRecipientsKey(id string) string {
	return "sms:mailing:" + id + ":recipients"
}

// KEYS: mailings set, mailing hash, recipients hash.
// ARGV: id, text, created_at, phones...
var createMailingScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
redis.call('HSET', KEYS[2], 'text', ARGV[2], 'created_at', ARGV[3])
for i = 4, #ARGV do
	redis.call('HSET', KEYS[3], ARGV[i], 'pending')
end
redis.call('SADD', KEYS[1], ARGV[1])
return 1
`)

// KEYS: mailing hash, recipients hash.
// ARGV: phone, status.
var updateRecipientScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 'unknown_mailing'
end
local cur = redis.call('HGET', KEYS[2], ARGV[1])
if not cur then
	return 'unknown_recipient'
end
if cur == ARGV[2] then
	return 'noop'
end
if cur ~= 'pending' then
	return 'invalid_transition'
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
return 'applied'
`)

type RedisMailingStore struct {
	rdb redis.UniversalClient
	now func() time.Time
}

func NewRedisMailingStore(rdb redis.UniversalClient) *RedisMailingStore {
	return &RedisMailingStore{rdb: rdb, now: time.Now}
}

func (s *RedisMailingStore) Create(ctx context.Context, id string, phones []string, text string) error {
	phones = dedupePhones(phones)
	if err := validateCreate(id, phones, text); err != nil {
		return err
	}

	args := make([]any, 0, len(phones)+3)
	args = append(args, id, text, strconv.FormatInt(s.now().UTC().UnixNano(), 10))
	for _, p := range phones {
		args = append(args, p)
	}

	keys := []string{redisMailingsKey, redisMailingKey(id), redisRecipientsKey(id)}
	created, err := createMailingScript.Run(ctx, s.rdb, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("create mailing %s: %w", id, err)
	}
	if created == 0 {
		return fmt.Errorf("mailing %s: %w", id, ErrDuplicateMailing)
	}
	return nil
}

func (s *RedisMailingStore) UpdateRecipientStatus(ctx context.Context, id, phone string, status model.RecipientStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%q: %w", status, ErrInvalidStatus)
	}

	keys := []string{redisMailingKey(id), redisRecipientsKey(id)}
	res, err := updateRecipientScript.Run(ctx, s.rdb, keys, phone, string(status)).Text()
	if err != nil {
		return fmt.Errorf("update recipient %s of mailing %s: %w", phone, id, err)
	}

	switch res {
	case "applied", "noop":
		return nil
	case "unknown_mailing":
		return fmt.Errorf("mailing %s: %w", id, ErrUnknownMailing)
	case "unknown_recipient":
		return fmt.Errorf("mailing %s phone %s: %w", id, phone, ErrUnknownRecipient)
	case "invalid_transition":
		return fmt.Errorf("mailing %s phone %s to %s: %w", id, phone, status, ErrInvalidTransition)
	default:
		return fmt.Errorf("unexpected update result %q", res)
	}
}

func (s *RedisMailingStore) ListMailingIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, redisMailingsKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisMailingStore) GetMailings(ctx context.Context, ids ...string) ([]model.Mailing, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	type pending struct {
		id         string
		mailing    *redis.MapStringStringCmd
		recipients *redis.MapStringStringCmd
	}
	cmds := make([]pending, 0, len(ids))

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			cmds = append(cmds, pending{
				id:         id,
				mailing:    pipe.HGetAll(ctx, redisMailingKey(id)),
				recipients: pipe.HGetAll(ctx, redisRecipientsKey(id)),
			})
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make([]model.Mailing, 0, len(cmds))
	for _, c := range cmds {
		fields := c.mailing.Val()
		if len(fields) == 0 {
			continue
		}

		m := model.Mailing{
			ID:         c.id,
			Text:       fields["text"],
			Recipients: make(map[string]model.RecipientStatus, len(c.recipients.Val())),
		}
		if ns, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
			m.CreatedAt = time.Unix(0, ns).UTC()
		}
		for phone, status := range c.recipients.Val() {
			m.Recipients[phone] = model.RecipientStatus(status)
		}
		out = append(out, m)
	}

	sortMailings(out)
	return out, nil
}
