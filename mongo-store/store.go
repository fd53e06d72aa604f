// Package mongo_store keeps the long-term data of the chat in MongoDB: the
// registered users and every message ever sent.
package mongo_store

import (
    "context"
    "fmt"
    "go.mongodb.org/mongo-driver/mongo"
    "go.mongodb.org/mongo-driver/mongo/options"
    "go.mongodb.org/mongo-driver/mongo/readpref"
)

// Default name of the database.
const DefaultDatabase = "chat_app"

// Names of the collections.
const (
    usersCollection = "users"
    messagesCollection = "messages"
)

// Store is a connection to the chat's database.
type Store struct {
    client *mongo.Client
    db *mongo.Database
}

// Connect to the MongoDB server at `uri` and check that it's reachable.
// An empty `database` selects DefaultDatabase.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
    if len(database) == 0 {
        database = DefaultDatabase
    }

    client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
    if err != nil {
        return nil, fmt.Errorf("connect to mongo: %w", err)
    }

    err = client.Ping(ctx, readpref.Primary())
    if err != nil {
        client.Disconnect(context.Background())
        return nil, fmt.Errorf("ping mongo: %w", err)
    }

    return &Store {
        client: client,
        db: client.Database(database),
    }, nil
}

// Ping check that the server is still reachable.
func (s *Store) Ping(ctx context.Context) error {
    return s.client.Ping(ctx, readpref.Primary())
}

// Users access the registered users.
func (s *Store) Users() *Users {
    return &Users {
        coll: s.db.Collection(usersCollection),
    }
}

// Messages access the stored messages.
func (s *Store) Messages() *Messages {
    return &Messages {
        coll: s.db.Collection(messagesCollection),
    }
}

// Close the connection to the server.
func (s *Store) Close(ctx context.Context) error {
    return s.client.Disconnect(ctx)
}
