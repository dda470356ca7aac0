package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/pedilo-api/internal/events"
)

// TaskWebhookDelivery is the asynq task type carrying one event to deliver.
const TaskWebhookDelivery = "webhook:deliver"

// Enqueuer is the subset of *asynq.Client used to schedule deliveries.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Publisher schedules webhook deliveries on asynq. It implements
// events.DeliveryScheduler.
type Publisher struct {
	Client   Enqueuer
	Queue    string
	MaxRetry int
	Timeout  time.Duration
}

// Schedule enqueues ev once; the event id is the task id.
func (p Publisher) Schedule(ctx context.Context, ev events.Event) error {
	if p.Client == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode delivery task: %w", err)
	}
	opts := []asynq.Option{asynq.TaskID(ev.ID)}
	if p.Queue != "" {
		opts = append(opts, asynq.Queue(p.Queue))
	}
	if p.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(p.MaxRetry))
	}
	if p.Timeout > 0 {
		opts = append(opts, asynq.Timeout(p.Timeout))
	}
	_, err = p.Client.EnqueueContext(ctx, asynq.NewTask(TaskWebhookDelivery, payload), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

// Deliverer sends one event.
type Deliverer interface {
	Deliver(ctx context.Context, ev events.Event) error
}

// Worker consumes webhook delivery tasks.
type Worker struct {
	Sender Deliverer
	Logger zerolog.Logger
}

// Register mounts the worker on mux.
func (w Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskWebhookDelivery, w.ProcessTask)
}

// ProcessTask decodes the event and delivers it. Permanent failures skip the
// remaining retries.
func (w Worker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var ev events.Event
	if err := json.Unmarshal(t.Payload(), &ev); err != nil {
		w.Logger.Error().Err(err).Msg("malformed webhook task")
		return fmt.Errorf("decode delivery task: %v: %w", err, asynq.SkipRetry)
	}
	err := w.Sender.Deliver(ctx, ev)
	if errors.Is(err, ErrPermanent) {
		w.Logger.Warn().Err(err).Str("event_id", ev.ID).Msg("webhook delivery dropped")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

// RetryDelay backs off exponentially from base, capped at one hour.
func RetryDelay(base time.Duration) asynq.RetryDelayFunc {
	if base <= 0 {
		base = 5 * time.Second
	}
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		if n > 10 {
			n = 10
		}
		d := base << uint(n)
		if d > time.Hour {
			d = time.Hour
		}
		return d
	}
}
