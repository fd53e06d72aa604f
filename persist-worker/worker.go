// Package persist_worker copies every chat message, queued by the chat
// server, into permanent storage.
//
// The worker runs as its own process, so the chat server never waits on
// the permanent storage:
//
//     conf := persist_worker.GetDefaultWorkerConf()
//     conf.Dial = func(ctx context.Context) (redis.UniversalClient, error) {
//         return redis.NewClient(opts), nil
//     }
//     conf.Writer = store.Messages()
//     w, err := persist_worker.NewWorker(conf)
//     if err != nil {
//         // Handle the error
//     }
//     err = w.Run(ctx)
package persist_worker

import (
    "context"
    "errors"
    "fmt"
    gochat "github.com/SirGFM/go-chat-rooms"
    "github.com/redis/go-redis/v9"
    "log"
    "time"
)

// MessageWriter stores messages permanently.
type MessageWriter interface {
    WriteMessage(ctx context.Context, task gochat.Task) error
}

// Error type for this package.
type WorkerError uint

const (
    // WorkerConf doesn't have a dialer.
    MissingDial WorkerError = iota
    // WorkerConf doesn't have a writer.
    MissingWriter
)

func (e WorkerError) Error() string {
    switch e {
    case MissingDial:
        return "No store dialer was configured"
    case MissingWriter:
        return "No message writer was configured"
    default:
        return "Unknown error"
    }
}

// WorkerConf configures a Worker.
type WorkerConf struct {
    // Dial connects to the store holding the queue. It's called again
    // whenever the connection is lost. Required.
    Dial func(ctx context.Context) (redis.UniversalClient, error)

    // Writer receives every task. Required.
    Writer MessageWriter

    // TaskQueue is the list consumed by the worker.
    TaskQueue string

    // Acknowledge keeps each task in a processing list until it's written,
    // so tasks survive the worker dying. Unacknowledged tasks are requeued
    // whenever the worker (re)connects. Only a single worker may consume
    // the queue in this mode.
    Acknowledge bool

    // WriteRetryDelay is how long the worker waits after failing to write
    // a task.
    WriteRetryDelay time.Duration

    // ReconnectDelay is how long the worker waits before reconnecting to
    // the store.
    ReconnectDelay time.Duration

    // Logger used by the worker to report events. If this is nil, no
    // message shall be logged!
    Logger *log.Logger

    // Whether debug messages should be logged.
    DebugLog bool
}

// GetDefaultWorkerConf retrieve a usable configuration, lacking only the
// dialer and the writer.
func GetDefaultWorkerConf() WorkerConf {
    return WorkerConf {
        TaskQueue: gochat.DefaultTaskQueue,
        WriteRetryDelay: time.Second * 2,
        ReconnectDelay: time.Second * 5,
    }
}

// Worker consumes the task queue.
type Worker struct {
    conf WorkerConf
    log gochat.Logger
}

// NewWorker create a new worker from `conf`. Missing fields, other than
// the dialer and the writer, get their default values.
func NewWorker(conf WorkerConf) (*Worker, error) {
    if conf.Dial == nil {
        return nil, MissingDial
    } else if conf.Writer == nil {
        return nil, MissingWriter
    }

    def := GetDefaultWorkerConf()
    if len(conf.TaskQueue) == 0 {
        conf.TaskQueue = def.TaskQueue
    }
    if conf.WriteRetryDelay <= 0 {
        conf.WriteRetryDelay = def.WriteRetryDelay
    }
    if conf.ReconnectDelay <= 0 {
        conf.ReconnectDelay = def.ReconnectDelay
    }

    return &Worker {
        conf: conf,
        log: gochat.NewLogger(conf.Logger, "persist_worker", conf.DebugLog),
    }, nil
}

// sleep wait for `d`, returning false if `ctx` got done first.
func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()

    select {
    case <-t.C:
        return true
    case <-ctx.Done():
        return false
    }
}

// Run consume the queue until `ctx` is done, which is the only error ever
// returned.
//
// Malformed tasks are dropped. Tasks that can't be written are also dropped,
// after a delay, unless in acknowledge mode. Losing the connection to the
// store closes it and dials again after a delay.
func (w *Worker) Run(ctx context.Context) error {
    w.log.Info("worker", "Worker started.",
            "acknowledge", w.conf.Acknowledge)

    for {
        err := w.consume(ctx)
        if ctx.Err() != nil {
            w.log.Info("worker", "Worker stopped.")
            return ctx.Err()
        }

        w.log.Error("worker", "Lost the connection to the store. Reconnecting...",
                "delay", w.conf.ReconnectDelay, "error", err)
        if !sleep(ctx, w.conf.ReconnectDelay) {
            w.log.Info("worker", "Worker stopped.")
            return ctx.Err()
        }
    }
}

// consume dial the store and process tasks until the connection fails.
func (w *Worker) consume(ctx context.Context) error {
    store, err := w.conf.Dial(ctx)
    if err != nil {
        return fmt.Errorf("dial: %w", err)
    }
    defer store.Close()

    err = store.Ping(ctx).Err()
    if err != nil {
        return fmt.Errorf("ping: %w", err)
    }
    queue := gochat.NewTaskQueue(store, w.conf.TaskQueue)
    w.log.Info("worker", "Connected to the store.",
            "queue", queue.Name())

    // Blocking pops ignore the context, so closing the client is the only
    // way to interrupt them.
    done := make(chan struct{})
    defer close(done)
    go func() {
        select {
        case <-ctx.Done():
            store.Close()
        case <-done:
        }
    }()

    if w.conf.Acknowledge {
        n, err := queue.Requeue(ctx)
        if err != nil {
            return err
        } else if n > 0 {
            w.log.Info("worker", "Requeued unacknowledged tasks.",
                    "count", n)
        }
    }

    for {
        err = w.processOne(ctx, queue)
        if err != nil {
            return err
        }
    }
}

// processOne wait for a single task and write it. Only errors from the
// store are returned.
func (w *Worker) processOne(ctx context.Context, queue *gochat.TaskQueue) error {
    var task gochat.Task
    var raw string
    var err error

    if w.conf.Acknowledge {
        task, raw, err = queue.DequeueAck(ctx)
    } else {
        task, raw, err = queue.Dequeue(ctx)
    }
    if errors.Is(err, gochat.MalformedTask) {
        w.log.Error("worker", "Dropping malformed task.",
                "task", raw, "error", err)
        if w.conf.Acknowledge {
            return queue.Ack(ctx, raw)
        }
        return nil
    } else if err != nil {
        return err
    }

    w.log.Debug("worker", "Saving message.",
            "room", task.Room, "user", task.User)
    err = w.conf.Writer.WriteMessage(ctx, task)
    if err != nil {
        w.log.Error("worker", "Couldn't save the message.",
                "room", task.Room, "user", task.User, "error", err)
        sleep(ctx, w.conf.WriteRetryDelay)

        if w.conf.Acknowledge && ctx.Err() == nil {
            // Retry it next.
            _, err = queue.Requeue(ctx)
            return err
        }
        return nil
    }

    if w.conf.Acknowledge {
        return queue.Ack(ctx, raw)
    }
    return nil
}
