package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"crvs/internal/workflow/models"
	id "crvs/pkg/domain"
)

const (
	docKeyPrefix    = "crvs:idx:record:"
	statusKeyPrefix = "crvs:idx:status:"
)

// upsertScript applies a projection atomically: it refuses to move a document
// to a lower version, moves the id between status sets, then writes fields.
// ARGV: version, status, status key prefix, record id, field/value pairs...
var upsertScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
local old = redis.call('HGET', KEYS[1], 'status')
if old and old ~= ARGV[2] then
  redis.call('SREM', ARGV[3] .. old, ARGV[4])
end
redis.call('SADD', ARGV[3] .. ARGV[2], ARGV[4])
for i = 5, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

// RedisIndex stores one hash per record plus a set of ids per status.
type RedisIndex struct {
	client redis.UniversalClient
}

func NewRedisIndex(client redis.UniversalClient) *RedisIndex {
	return &RedisIndex{client: client}
}

func (r *RedisIndex) Upsert(ctx context.Context, p Projection) error {
	rid := p.RecordID.String()
	args := []any{
		p.Version,
		string(p.Status),
		statusKeyPrefix,
		rid,
		"eventType", p.EventType,
		"status", string(p.Status),
		"version", p.Version,
		"lastAction", string(p.LastAction),
		"lastActor", p.LastActor,
		"lastReason", p.LastReason,
		"pendingCorrection", strconv.FormatBool(p.PendingCorrection),
		"updatedAt", p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if p.Full() {
		participants, err := json.Marshal(p.Participants)
		if err != nil {
			return fmt.Errorf("marshal participants: %w", err)
		}
		args = append(args, "participants", string(participants))
	}
	if err := upsertScript.Run(ctx, r.client, []string{docKeyPrefix + rid}, args...).Err(); err != nil {
		return fmt.Errorf("upsert index document %s: %w", rid, err)
	}
	return nil
}

// Get reads a document back. ok is false when the record is not indexed.
func (r *RedisIndex) Get(ctx context.Context, recordID id.RecordID) (Projection, bool, error) {
	fields, err := r.client.HGetAll(ctx, docKeyPrefix+recordID.String()).Result()
	if err != nil {
		return Projection{}, false, fmt.Errorf("read index document: %w", err)
	}
	if len(fields) == 0 {
		return Projection{}, false, nil
	}
	p := Projection{
		RecordID:   recordID,
		EventType:  fields["eventType"],
		Status:     models.State(fields["status"]),
		LastAction: models.Action(fields["lastAction"]),
		LastActor:  fields["lastActor"],
		LastReason: fields["lastReason"],
	}
	p.Version, _ = strconv.ParseInt(fields["version"], 10, 64)
	p.PendingCorrection = fields["pendingCorrection"] == "true"
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updatedAt"])
	if raw, ok := fields["participants"]; ok {
		if err := json.Unmarshal([]byte(raw), &p.Participants); err != nil {
			return Projection{}, false, fmt.Errorf("decode participants: %w", err)
		}
	}
	return p, true, nil
}

// ByStatus lists record ids indexed under status.
func (r *RedisIndex) ByStatus(ctx context.Context, status models.State) ([]id.RecordID, error) {
	members, err := r.client.SMembers(ctx, statusKeyPrefix+string(status)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read status set: %w", err)
	}
	out := make([]id.RecordID, 0, len(members))
	for _, m := range members {
		rid, err := id.ParseRecordID(m)
		if err != nil {
			continue
		}
		out = append(out, rid)
	}
	return out, nil
}
