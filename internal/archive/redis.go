package archive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/zerverless/coordinator/internal/events"
)

// RedisStream appends settled jobs to a capped Redis stream for downstream
// consumers.
type RedisStream struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

func NewRedisStream(rdb *redis.Client, stream string, maxLen int64) *RedisStream {
	if stream == "" {
		stream = "coordinator:settled"
	}
	return &RedisStream{rdb: rdb, stream: stream, maxLen: maxLen}
}

func (s *RedisStream) Name() string { return "redis" }

func (s *RedisStream) Handle(ctx context.Context, ev events.Event) error {
	rec, ok := FromEvent(ev)
	if !ok {
		return nil
	}
	args, err := streamArgs(s.stream, s.maxLen, rec)
	if err != nil {
		return err
	}
	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

func streamArgs(stream string, maxLen int64, rec Record) (*redis.XAddArgs, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: maxLen > 0,
		Values: map[string]interface{}{
			"job_id":   rec.JobID,
			"job_type": rec.JobType,
			"status":   string(rec.Status),
			"rate":     rec.VerificationRate,
			"payload":  string(payload),
		},
	}, nil
}
