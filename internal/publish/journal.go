package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dvilelaf/tsunami/internal/posts"
)

// JournalKeyPrefix namespaces publication progress in the cursor store.
const JournalKeyPrefix = "published_"

// Journal records which thread messages a channel already has, outside any
// agreement round, so a replayed pass resumes instead of posting again.
type Journal interface {
	Sent(ctx context.Context, postID string, ch posts.Channel) ([]string, error)
	Save(ctx context.Context, postID string, ch posts.Channel, ids []string) error
}

// KV is the store surface the journal needs.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Write(ctx context.Context, data map[string]string) error
}

// StoreJournal keeps progress as one JSON list of message IDs per post and
// channel.
type StoreJournal struct {
	kv KV
}

func NewStoreJournal(kv KV) *StoreJournal {
	return &StoreJournal{kv: kv}
}

func journalKey(postID string, ch posts.Channel) string {
	return JournalKeyPrefix + postID + "_" + string(ch)
}

func (j *StoreJournal) Sent(ctx context.Context, postID string, ch posts.Channel) ([]string, error) {
	raw, ok, err := j.kv.Get(ctx, journalKey(postID, ch))
	if err != nil || !ok {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decode %s: %w", journalKey(postID, ch), err)
	}
	return ids, nil
}

func (j *StoreJournal) Save(ctx context.Context, postID string, ch posts.Channel, ids []string) error {
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return j.kv.Write(ctx, map[string]string{journalKey(postID, ch): string(raw)})
}
