package mongo_store

import (
    "context"
    "fmt"
    gochat "github.com/SirGFM/go-chat-rooms"
    "go.mongodb.org/mongo-driver/bson"
    "go.mongodb.org/mongo-driver/mongo"
    "go.mongodb.org/mongo-driver/mongo/options"
    "time"
)

// message is the document stored for each persisted message.
type message struct {
    Room string `bson:"room"`
    User string `bson:"user"`
    Text string `bson:"text"`
    Timestamp time.Time `bson:"timestamp"`
}

// Messages stores every message sent to the chat, forever.
type Messages struct {
    coll *mongo.Collection
}

// WriteMessage insert the message described by `task`.
func (m *Messages) WriteMessage(ctx context.Context, task gochat.Task) error {
    _, err := m.coll.InsertOne(ctx, &message {
        Room: task.Room,
        User: task.User,
        Text: task.Text,
        Timestamp: task.Timestamp,
    })
    if err != nil {
        return fmt.Errorf("insert message: %w", err)
    }
    return nil
}

// Recent retrieve up to `limit` of the latest messages sent to `room`,
// oldest first.
func (m *Messages) Recent(ctx context.Context, room string, limit int64) ([]gochat.Task, error) {
    opts := options.Find().
            SetSort(bson.D{{Key: "timestamp", Value: -1}}).
            SetLimit(limit)

    cur, err := m.coll.Find(ctx, bson.M{"room": room}, opts)
    if err != nil {
        return nil, fmt.Errorf("find messages of %s: %w", room, err)
    }

    var docs []message
    err = cur.All(ctx, &docs)
    if err != nil {
        return nil, fmt.Errorf("decode messages of %s: %w", room, err)
    }

    list := make([]gochat.Task, len(docs))
    for i, doc := range docs {
        list[len(docs) - 1 - i] = gochat.Task {
            Room: doc.Room,
            User: doc.User,
            Text: doc.Text,
            Timestamp: doc.Timestamp,
        }
    }
    return list, nil
}
