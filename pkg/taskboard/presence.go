package taskboard

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence provides instance-scoped Redis operations for the ephemeral side
// of the taskboard: worker heartbeats and task lifecycle events. All keys and
// channels are automatically namespaced with the instance name. The client is
// thread-safe and can be used concurrently from multiple goroutines.
//
// Nothing stored here is authoritative. A lost heartbeat only affects
// observability and role inference; task ownership always comes from the
// durable store.
type Presence struct {
	rdb          *redis.Client
	instanceName string
}

// NewPresence creates a presence client for the specified instance.
// Returns an error if instanceName is empty.
func NewPresence(redisOpts *redis.Options, instanceName string) (*Presence, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	return &Presence{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (p *Presence) Close() error {
	return p.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (p *Presence) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// Beat upserts a worker's heartbeat hash with the given time-to-live and
// registers the worker in the instance index. Called on every poll and
// renewal; expiry on silence is what makes the record a liveness signal.
func (p *Presence) Beat(ctx context.Context, hb *WorkerHeartbeat, ttl time.Duration) error {
	if err := hb.Validate(); err != nil {
		return fmt.Errorf("invalid heartbeat: %w", err)
	}

	lanesJSON, err := json.Marshal(hb.AllowedLanes)
	if err != nil {
		return fmt.Errorf("failed to serialize allowed lanes: %w", err)
	}
	tasksJSON, err := json.Marshal(hb.TaskIDs)
	if err != nil {
		return fmt.Errorf("failed to serialize task ids: %w", err)
	}

	key := WorkerKey(p.instanceName, hb.WorkerID)
	fields := map[string]any{
		"worker_id":     hb.WorkerID,
		"worker_type":   hb.WorkerType,
		"allowed_lanes": string(lanesJSON),
		"last_seen_ms":  strconv.FormatInt(hb.LastSeenMs, 10),
		"task_ids":      string(tasksJSON),
	}
	if err := p.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("failed to write heartbeat for %s: %w", hb.WorkerID, err)
	}
	if err := p.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set heartbeat TTL for %s: %w", hb.WorkerID, err)
	}
	if err := p.rdb.SAdd(ctx, WorkerIndexKey(p.instanceName), hb.WorkerID).Err(); err != nil {
		return fmt.Errorf("failed to index worker %s: %w", hb.WorkerID, err)
	}
	return nil
}

// GetWorker retrieves a worker's heartbeat. Returns (nil, nil) when the
// heartbeat has expired or was never written.
func (p *Presence) GetWorker(ctx context.Context, workerID string) (*WorkerHeartbeat, error) {
	hash, err := p.rdb.HGetAll(ctx, WorkerKey(p.instanceName, workerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read heartbeat for %s: %w", workerID, err)
	}
	if len(hash) == 0 {
		return nil, nil
	}
	return heartbeatFromHash(hash)
}

// ListWorkers returns the heartbeats of all currently live workers, pruning
// index entries whose heartbeat hash has expired.
func (p *Presence) ListWorkers(ctx context.Context) ([]*WorkerHeartbeat, error) {
	indexKey := WorkerIndexKey(p.instanceName)
	ids, err := p.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read worker index: %w", err)
	}

	var workers []*WorkerHeartbeat
	for _, id := range ids {
		hb, err := p.GetWorker(ctx, id)
		if err != nil {
			return nil, err
		}
		if hb == nil {
			// Heartbeat expired; drop the stale index entry.
			if err := p.rdb.SRem(ctx, indexKey, id).Err(); err != nil {
				return nil, fmt.Errorf("failed to prune worker index entry %s: %w", id, err)
			}
			continue
		}
		workers = append(workers, hb)
	}
	return workers, nil
}

// PublishTaskEvent publishes a task lifecycle event to the instance's task
// events channel. Fire-and-forget from the caller's perspective: dashboards
// that miss an event recover from the durable store.
func (p *Presence) PublishTaskEvent(ctx context.Context, ev *TaskEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal task event: %w", err)
	}
	if err := p.rdb.Publish(ctx, TaskEventsChannel(p.instanceName), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish task event: %w", err)
	}
	return nil
}

// EventSubscription represents an active Pub/Sub subscription to task
// lifecycle events.
type EventSubscription struct {
	events <-chan *TaskEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel on which task events are delivered.
func (s *EventSubscription) Events() <-chan *TaskEvent {
	return s.events
}

// Errors returns the channel on which malformed-payload errors are reported.
func (s *EventSubscription) Errors() <-chan error {
	return s.errors
}

// Close terminates the subscription and releases its resources.
func (s *EventSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeTaskEvents subscribes to the instance's task events channel.
// Events arrive on the subscription's Events() channel until the context is
// cancelled or Close() is called.
func (p *Presence) SubscribeTaskEvents(ctx context.Context) (*EventSubscription, error) {
	pubsub := p.rdb.Subscribe(ctx, TaskEventsChannel(p.instanceName))

	eventsChan := make(chan *TaskEvent, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev TaskEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal task event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}
				select {
				case eventsChan <- &ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &EventSubscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

func heartbeatFromHash(hash map[string]string) (*WorkerHeartbeat, error) {
	hb := &WorkerHeartbeat{
		WorkerID:   hash["worker_id"],
		WorkerType: hash["worker_type"],
	}
	if raw := hash["allowed_lanes"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &hb.AllowedLanes); err != nil {
			return nil, fmt.Errorf("corrupt allowed_lanes for %s: %w", hb.WorkerID, err)
		}
	}
	if raw := hash["task_ids"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &hb.TaskIDs); err != nil {
			return nil, fmt.Errorf("corrupt task_ids for %s: %w", hb.WorkerID, err)
		}
	}
	if raw := hash["last_seen_ms"]; raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt last_seen_ms for %s: %w", hb.WorkerID, err)
		}
		hb.LastSeenMs = ms
	}
	if err := hb.Validate(); err != nil {
		return nil, err
	}
	return hb, nil
}
