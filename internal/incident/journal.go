package incident

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const journalTTL = 7 * 24 * time.Hour

// Journal keeps a redis trail of incidents and delivery outcomes per client,
// so an undeliverable incident is still findable even when the relational
// store is disabled.
type Journal struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewJournal(redisClient *redis.Client, ttl time.Duration) *Journal {
	if ttl == 0 {
		ttl = journalTTL
	}
	return &Journal{
		redis: redisClient,
		ttl:   ttl,
	}
}

type JournalEntry struct {
	IncidentID     string               `json:"incident_id"`
	ClientID       string               `json:"client_id"`
	DetectedAt     time.Time            `json:"detected_at"`
	Risk           string               `json:"risk_level"`
	DeliveryStatus DeliveryStatus       `json:"delivery_status"`
	DeliveryRef    string               `json:"delivery_ref,omitempty"`
	VideoAbsent    bool                 `json:"video_absent"`
	Note           string               `json:"note,omitempty"`
}

func journalKey(clientID string) string {
	return fmt.Sprintf("client:%s:incidents", clientID)
}

func (j *Journal) Append(ctx context.Context, e JournalEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	key := journalKey(e.ClientID)
	member := redis.Z{
		Score:  float64(e.DetectedAt.UnixMilli()),
		Member: data,
	}

	pipe := j.redis.Pipeline()
	pipe.ZAdd(ctx, key, member)
	pipe.Expire(ctx, key, j.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (j *Journal) Recent(ctx context.Context, clientID string, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	results, err := j.redis.ZRevRange(ctx, journalKey(clientID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]JournalEntry, 0, len(results))
	for _, r := range results {
		var e JournalEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (j *Journal) Delete(ctx context.Context, clientID string) error {
	return j.redis.Del(ctx, journalKey(clientID)).Err()
}
