package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quizrun/quizrun-backend/internal/config"
	"github.com/quizrun/quizrun-backend/internal/model"
	"github.com/quizrun/quizrun-backend/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// quizCacheTTL bounds staleness after upstream authoring changes. Session
// traffic re-primes the cache on the next miss.
const quizCacheTTL = 10 * time.Minute

// CachedQuestionBank layers Redis over a QuestionBank. Answer keys are
// stored as a hash (question ID → encoded key entry) so grading never hits
// Postgres on the hot path; question order and time limit are cached
// alongside. Cache misses and decode failures fall through to the database
// and re-prime the cache, collapsed per quiz with singleflight.
type CachedQuestionBank struct {
	db    service.QuestionBank
	rdb   *redis.Client
	group singleflight.Group
	log   zerolog.Logger
}

// NewCachedQuestionBank creates a new CachedQuestionBank.
func NewCachedQuestionBank(db service.QuestionBank, rdb *redis.Client, log zerolog.Logger) *CachedQuestionBank {
	return &CachedQuestionBank{
		db:  db,
		rdb: rdb,
		log: log.With().Str("component", "question_bank_cache").Logger(),
	}
}

// OrderedQuestions returns the quiz's questions in position order.
func (c *CachedQuestionBank) OrderedQuestions(ctx context.Context, quizID uuid.UUID) ([]model.QuestionRef, error) {
	key := config.CacheKey.QuizQuestionsKey(quizID.String())

	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var refs []model.QuestionRef
		if jerr := json.Unmarshal(data, &refs); jerr == nil {
			return refs, nil
		}
		c.log.Warn().Str("quiz_id", quizID.String()).Msg("Corrupt cached question list, reloading")
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warn().Err(err).Msg("Redis read failed, falling back to database")
	}

	v, err, _ := c.group.Do("questions:"+quizID.String(), func() (interface{}, error) {
		refs, err := c.db.OrderedQuestions(ctx, quizID)
		if err != nil {
			return nil, err
		}
		if payload, jerr := json.Marshal(refs); jerr == nil {
			if serr := c.rdb.Set(ctx, key, payload, quizCacheTTL).Err(); serr != nil {
				c.log.Warn().Err(serr).Msg("Question list cache write failed")
			}
		}
		return refs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.QuestionRef), nil
}

// AnswerKey returns the quiz's answer key, from cache when possible.
func (c *CachedQuestionBank) AnswerKey(ctx context.Context, quizID uuid.UUID) (map[uuid.UUID]model.QuestionKey, error) {
	key := config.CacheKey.QuizAnswerKeyKey(quizID.String())

	fields, err := c.rdb.HGetAll(ctx, key).Result()
	if err == nil && len(fields) > 0 {
		if decoded, derr := decodeAnswerKey(fields); derr == nil {
			return decoded, nil
		}
		c.log.Warn().Str("quiz_id", quizID.String()).Msg("Corrupt cached answer key, reloading")
	} else if err != nil {
		c.log.Warn().Err(err).Msg("Redis read failed, falling back to database")
	}

	v, err, _ := c.group.Do("key:"+quizID.String(), func() (interface{}, error) {
		decoded, err := c.db.AnswerKey(ctx, quizID)
		if err != nil {
			return nil, err
		}

		encoded := make(map[string]interface{}, len(decoded))
		for qid, k := range decoded {
			encoded[qid.String()] = encodeKeyEntry(k)
		}
		if len(encoded) > 0 {
			pipe := c.rdb.Pipeline()
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, encoded)
			pipe.Expire(ctx, key, quizCacheTTL)
			if _, perr := pipe.Exec(ctx); perr != nil {
				c.log.Warn().Err(perr).Msg("Answer key cache write failed")
			}
		}
		return decoded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[uuid.UUID]model.QuestionKey), nil
}

// TimeLimit returns the quiz's time limit, from cache when possible.
func (c *CachedQuestionBank) TimeLimit(ctx context.Context, quizID uuid.UUID) (time.Duration, error) {
	key := config.CacheKey.QuizTimeLimitKey(quizID.String())

	raw, err := c.rdb.Get(ctx, key).Result()
	if err == nil {
		if seconds, perr := strconv.Atoi(raw); perr == nil {
			return time.Duration(seconds) * time.Second, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warn().Err(err).Msg("Redis read failed, falling back to database")
	}

	v, err, _ := c.group.Do("limit:"+quizID.String(), func() (interface{}, error) {
		limit, err := c.db.TimeLimit(ctx, quizID)
		if err != nil {
			return nil, err
		}
		if serr := c.rdb.Set(ctx, key, int(limit/time.Second), quizCacheTTL).Err(); serr != nil {
			c.log.Warn().Err(serr).Msg("Time limit cache write failed")
		}
		return limit, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(time.Duration), nil
}

// encodeKeyEntry packs a key entry into one hash field value. The answer
// text goes last so it may itself contain the separator.
func encodeKeyEntry(k model.QuestionKey) string {
	return fmt.Sprintf("%s|%d|%s", k.Type, k.Position, k.Answer)
}

func decodeAnswerKey(fields map[string]string) (map[uuid.UUID]model.QuestionKey, error) {
	decoded := make(map[uuid.UUID]model.QuestionKey, len(fields))
	for field, value := range fields {
		qid, err := uuid.Parse(field)
		if err != nil {
			return nil, fmt.Errorf("bad question id %q: %w", field, err)
		}
		parts := strings.SplitN(value, "|", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("bad key entry %q", value)
		}
		pos, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("bad position in %q: %w", value, err)
		}
		decoded[qid] = model.NewQuestionKey(qid, parts[2], model.QuestionType(parts[0]), pos)
	}
	return decoded, nil
}
