package main

import (
    "context"
    "errors"
    "fmt"
    gochat "github.com/SirGFM/go-chat-rooms"
    mongo_store "github.com/SirGFM/go-chat-rooms/mongo-store"
    persist_worker "github.com/SirGFM/go-chat-rooms/persist-worker"
    "github.com/redis/go-redis/v9"
    "github.com/spf13/cobra"
    "github.com/spf13/viper"
    "log"
    "os"
    "os/signal"
    "strings"
    "time"
)

type Args struct {
    // RedisURL of the store holding the queue. Defaults to redis://localhost:6379/0
    RedisURL string `mapstructure:"redis-url"`
    // MongoURI of the permanent storage. Defaults to mongodb://localhost:27017/
    MongoURI string `mapstructure:"mongo-uri"`
    // MongoDB is the name of the database. Defaults to chat_app
    MongoDB string `mapstructure:"mongo-db"`
    // TaskQueue consumed by the worker. Defaults to chat:task_queue
    TaskQueue string `mapstructure:"task-queue"`
    // Acknowledge each task only after it's written
    Acknowledge bool `mapstructure:"acknowledge"`
    // WriteRetryDelay after failing to write a message. Defaults to 2s
    WriteRetryDelay time.Duration `mapstructure:"write-retry-delay"`
    // ReconnectDelay after losing the connection to the store. Defaults to 5s
    ReconnectDelay time.Duration `mapstructure:"reconnect-delay"`
    // Debug enables debug messages
    Debug bool `mapstructure:"debug"`
}

// newRootCmd create the command that starts the worker with the parsed
// arguments.
func newRootCmd(run func(args Args) error) *cobra.Command {
    var confFile string
    v := viper.New()

    cmd := &cobra.Command {
        Use: "persist-worker",
        Short: "Copy every chat message into permanent storage",
        SilenceUsage: true,
        Args: cobra.NoArgs,
        RunE: func(cmd *cobra.Command, _ []string) error {
            var args Args

            if len(confFile) != 0 {
                v.SetConfigFile(confFile)
                v.SetConfigType("json")
                err := v.ReadInConfig()
                if err != nil {
                    return fmt.Errorf("couldn't read the configuration file '%s': %w", confFile, err)
                }
            }

            err := v.Unmarshal(&args)
            if err != nil {
                return fmt.Errorf("couldn't decode the configuration: %w", err)
            }
            return run(args)
        },
    }

    def := persist_worker.GetDefaultWorkerConf()
    flags := cmd.Flags()
    flags.String("redis-url", "redis://localhost:6379/0", "URL of the Redis store holding the queue")
    flags.String("mongo-uri", "mongodb://localhost:27017/", "URI of the MongoDB receiving the messages")
    flags.String("mongo-db", mongo_store.DefaultDatabase, "Name of the MongoDB database")
    flags.String("task-queue", gochat.DefaultTaskQueue, "Name of the queue")
    flags.Bool("acknowledge", false, "Keep each task queued until it's written")
    flags.Duration("write-retry-delay", def.WriteRetryDelay, "Delay after failing to write a message")
    flags.Duration("reconnect-delay", def.ReconnectDelay, "Delay after losing the connection to the queue")
    flags.Bool("debug", false, "Log debug messages")
    flags.StringVar(&confFile, "confFile", "", "JSON file with the configuration options. May be overriden by other CLI arguments")

    v.BindPFlags(flags)
    v.SetEnvPrefix("CHAT")
    v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
    v.AutomaticEnv()

    return cmd
}

// startWorker and run it until interrupted.
func startWorker(args Args) error {
    opts, err := redis.ParseURL(args.RedisURL)
    if err != nil {
        return fmt.Errorf("invalid redis URL: %w", err)
    }

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
    defer stop()

    initCtx, cancel := context.WithTimeout(ctx, time.Second * 10)
    defer cancel()
    db, err := mongo_store.Connect(initCtx, args.MongoURI, args.MongoDB)
    if err != nil {
        return err
    }
    defer db.Close(context.Background())
    log.Printf("Connected to MongoDB.")

    conf := persist_worker.GetDefaultWorkerConf()
    conf.Dial = func(ctx context.Context) (redis.UniversalClient, error) {
        return redis.NewClient(opts), nil
    }
    conf.Writer = db.Messages()
    conf.TaskQueue = args.TaskQueue
    conf.Acknowledge = args.Acknowledge
    conf.WriteRetryDelay = args.WriteRetryDelay
    conf.ReconnectDelay = args.ReconnectDelay
    conf.Logger = log.New(os.Stderr, "", log.LstdFlags)
    conf.DebugLog = args.Debug

    w, err := persist_worker.NewWorker(conf)
    if err != nil {
        return err
    }

    err = w.Run(ctx)
    if errors.Is(err, context.Canceled) {
        log.Printf("Exiting...")
        return nil
    }
    return err
}

func main() {
    log.SetFlags(log.Lshortfile | log.Ldate | log.Ltime)

    err := newRootCmd(startWorker).Execute()
    if err != nil {
        os.Exit(1)
    }
}
