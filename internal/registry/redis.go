package registry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reviewlens/api/internal/model"
)

// RedisRegistry stores job records as Redis hashes. The layout per job:
//
//	job:<id>          hash with the record fields
//	job:<id>:batches  set of batch indexes already counted
//	sourceref:<ref>   secondary index, source ref -> job id
//
// The conditional insert is an HSETNX on the job_id field, the progress
// counter a single HINCRBY, and the per-index dedup an SADD, so every shared
// mutation is one atomic Redis command.
type RedisRegistry struct {
	client *redis.Client
}

func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

func jobKey(jobID string) string      { return "job:" + jobID }
func batchSetKey(jobID string) string { return "job:" + jobID + ":batches" }
func sourceRefKey(ref string) string  { return "sourceref:" + ref }

func (r *RedisRegistry) Register(ctx context.Context, rec *model.JobRecord) error {
	key := jobKey(rec.JobID)

	created, err := r.client.HSetNX(ctx, key, "job_id", rec.JobID).Result()
	if err != nil {
		return fmt.Errorf("registry write failed: %w", err)
	}
	if !created {
		return ErrDuplicateJob
	}

	fields := map[string]interface{}{
		"status":            string(rec.Status),
		"total_batches":     rec.TotalBatches,
		"processed_batches": 0,
		"source_ref":        rec.SourceRef,
		"created_at":        rec.CreatedAt.UTC().Format(time.RFC3339),
	}
	if err := r.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("registry write failed: %w", err)
	}
	if rec.SourceRef != "" {
		if err := r.client.Set(ctx, sourceRefKey(rec.SourceRef), rec.JobID, 0).Err(); err != nil {
			return fmt.Errorf("registry index write failed: %w", err)
		}
	}
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, jobID string) (*model.JobRecord, error) {
	fields, err := r.client.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("registry read failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return recordFromFields(jobID, fields), nil
}

func (r *RedisRegistry) Resolve(ctx context.Context, sourceRef string) (*model.JobRecord, error) {
	jobID, err := r.client.Get(ctx, sourceRefKey(sourceRef)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry index read failed: %w", err)
	}
	return r.Get(ctx, jobID)
}

// completeBatchScript performs the per-index dedup and the counter increment
// as one atomic step. They must not be separate commands: a transient failure
// between SADD and HINCRBY would leave the index marked counted with the
// counter never moved, and the redelivery would skip the increment forever.
var completeBatchScript = redis.NewScript(`
local added = redis.call("SADD", KEYS[2], ARGV[1])
if added == 1 then
  return {1, redis.call("HINCRBY", KEYS[1], "processed_batches", 1)}
end
return {0, tonumber(redis.call("HGET", KEYS[1], "processed_batches")) or 0}
`)

func (r *RedisRegistry) CompleteBatch(ctx context.Context, jobID string, batchIndex int) (*BatchCompletion, error) {
	key := jobKey(jobID)

	total, err := r.client.HGet(ctx, key, "total_batches").Int()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry read failed: %w", err)
	}

	res, err := completeBatchScript.Run(ctx, r.client, []string{key, batchSetKey(jobID)}, batchIndex).Result()
	if err != nil {
		return nil, fmt.Errorf("registry write failed: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return nil, fmt.Errorf("registry write returned unexpected reply %v", res)
	}
	counted, _ := vals[0].(int64)
	processed, _ := vals[1].(int64)

	return &BatchCompletion{
		Counted:   counted == 1,
		Processed: int(processed),
		Total:     total,
		Done:      counted == 1 && int(processed) == total,
	}, nil
}

func (r *RedisRegistry) MarkCompleted(ctx context.Context, jobID string) error {
	return r.setStatus(ctx, jobID, model.JobStatusCompleted, "")
}

func (r *RedisRegistry) MarkFailed(ctx context.Context, jobID, message string) error {
	return r.setStatus(ctx, jobID, model.JobStatusFailed, message)
}

func (r *RedisRegistry) RecordSplitterFailure(ctx context.Context, jobID, sourceRef, message string) error {
	fields := map[string]interface{}{
		"job_id":        jobID,
		"status":        string(model.JobStatusSplitterFailed),
		"source_ref":    sourceRef,
		"error_message": message,
		"created_at":    time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.client.HSet(ctx, jobKey(jobID), fields).Err(); err != nil {
		return fmt.Errorf("registry write failed: %w", err)
	}
	if sourceRef != "" {
		if err := r.client.Set(ctx, sourceRefKey(sourceRef), jobID, 0).Err(); err != nil {
			return fmt.Errorf("registry index write failed: %w", err)
		}
	}
	return nil
}

func (r *RedisRegistry) setStatus(ctx context.Context, jobID string, status model.JobStatus, message string) error {
	exists, err := r.client.Exists(ctx, jobKey(jobID)).Result()
	if err != nil {
		return fmt.Errorf("registry read failed: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	fields := map[string]interface{}{"status": string(status)}
	if message != "" {
		fields["error_message"] = message
	}
	if err := r.client.HSet(ctx, jobKey(jobID), fields).Err(); err != nil {
		return fmt.Errorf("registry write failed: %w", err)
	}
	return nil
}

func recordFromFields(jobID string, fields map[string]string) *model.JobRecord {
	rec := &model.JobRecord{
		JobID:        jobID,
		Status:       model.JobStatus(fields["status"]),
		SourceRef:    fields["source_ref"],
		ErrorMessage: fields["error_message"],
	}
	rec.TotalBatches, _ = strconv.Atoi(fields["total_batches"])
	rec.ProcessedBatches, _ = strconv.Atoi(fields["processed_batches"])
	if ts := fields["created_at"]; ts != "" {
		rec.CreatedAt, _ = time.Parse(time.RFC3339, ts)
	}
	return rec
}
