package go_chat_rooms

import (
    "context"
    "encoding/json"
    "fmt"
    "github.com/redis/go-redis/v9"
    "time"
)

// Task asks the persistence worker to store a message permanently.
type Task struct {
    // Room where the message was sent.
    Room string `json:"room"`

    // User that sent the message.
    User string `json:"user"`

    // Text of the message.
    Text string `json:"text"`

    // Timestamp when the server accepted the message.
    Timestamp time.Time `json:"timestamp"`
}

// TaskQueue is a durable FIFO of persistence tasks, stored as a list in the
// shared store. The chat server pushes to it and the persistence worker pops
// from it, so neither ever waits for the other.
type TaskQueue struct {
    store redis.UniversalClient
    name string
}

// NewTaskQueue access the queue `name` on `store`.
func NewTaskQueue(store redis.UniversalClient, name string) *TaskQueue {
    return &TaskQueue {
        store: store,
        name: name,
    }
}

// Name retrieve the name of the list backing the queue.
func (q *TaskQueue) Name() string {
    return q.name
}

// processing is the list holding tasks popped, but not yet acknowledged, in
// acknowledge mode.
func (q *TaskQueue) processing() string {
    return q.name + ":processing"
}

// Enqueue push `task` to the end of the queue.
func (q *TaskQueue) Enqueue(ctx context.Context, task Task) error {
    data, err := json.Marshal(&task)
    if err != nil {
        return fmt.Errorf("enqueue: %w", err)
    }

    err = q.store.RPush(ctx, q.name, data).Err()
    if err != nil {
        return fmt.Errorf("enqueue: %w", err)
    }
    return nil
}

// decodeTask parse a raw queue entry. Entries that aren't valid tasks fail
// with MalformedTask.
func decodeTask(raw string) (Task, error) {
    var task Task

    err := json.Unmarshal([]byte(raw), &task)
    if err != nil {
        return task, fmt.Errorf("%w: %v", MalformedTask, err)
    }
    return task, nil
}

// Dequeue block, without any timeout, until a task is available and pop it.
//
// The returned raw entry is also returned when the task couldn't be
// decoded (the error is then MalformedTask), so it may be logged.
//
// If the process dies after Dequeue returns, the task is lost.
func (q *TaskQueue) Dequeue(ctx context.Context) (Task, string, error) {
    res, err := q.store.BLPop(ctx, 0, q.name).Result()
    if err != nil {
        return Task{}, "", err
    }

    // BLPop returns the list's name followed by the value.
    raw := res[1]
    task, err := decodeTask(raw)
    return task, raw, err
}

// DequeueAck block until a task is available and atomically move it into a
// processing list, where it stays until Ack is called.
//
// Malformed entries are returned with MalformedTask and must still be
// acknowledged to be dropped.
func (q *TaskQueue) DequeueAck(ctx context.Context) (Task, string, error) {
    raw, err := q.store.BLMove(ctx, q.name, q.processing(), "LEFT", "RIGHT", 0).Result()
    if err != nil {
        return Task{}, "", err
    }

    task, err := decodeTask(raw)
    return task, raw, err
}

// Ack remove a task, previously returned by DequeueAck, from the
// processing list.
func (q *TaskQueue) Ack(ctx context.Context, raw string) error {
    err := q.store.LRem(ctx, q.processing(), 1, raw).Err()
    if err != nil {
        return fmt.Errorf("ack: %w", err)
    }
    return nil
}

// Requeue move every unacknowledged task back to the front of the queue,
// oldest first. It returns how many tasks were moved.
//
// This must only be called while no consumer is running.
func (q *TaskQueue) Requeue(ctx context.Context) (int, error) {
    n := 0
    for {
        // Move from the tail of the processing list to the head of the
        // queue, so the original order is kept.
        err := q.store.LMove(ctx, q.processing(), q.name, "RIGHT", "LEFT").Err()
        if err == redis.Nil {
            return n, nil
        } else if err != nil {
            return n, fmt.Errorf("requeue: %w", err)
        }
        n++
    }
}

// Len retrieve how many tasks are waiting in the queue.
func (q *TaskQueue) Len(ctx context.Context) (int64, error) {
    return q.store.LLen(ctx, q.name).Result()
}
