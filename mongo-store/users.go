package mongo_store

import (
    "context"
    "errors"
    "fmt"
    gochat "github.com/SirGFM/go-chat-rooms"
    "go.mongodb.org/mongo-driver/bson"
    "go.mongodb.org/mongo-driver/mongo"
    "go.mongodb.org/mongo-driver/mongo/options"
    "golang.org/x/crypto/bcrypt"
)

// user is the document stored for each account.
type user struct {
    Username string `bson:"username"`
    PasswordHash string `bson:"password_hash"`
    Online bool `bson:"online"`
}

// Users implements gochat.Identity over the "users" collection. Passwords
// are stored as bcrypt hashes.
type Users struct {
    coll *mongo.Collection

    // cost of new hashes. Zero uses bcrypt.DefaultCost.
    cost int
}

// EnsureIndexes create the unique index on the username, which keeps two
// concurrent registrations from taking the same name.
func (u *Users) EnsureIndexes(ctx context.Context) error {
    _, err := u.coll.Indexes().CreateOne(ctx, mongo.IndexModel {
        Keys: bson.D{{Key: "username", Value: 1}},
        Options: options.Index().SetUnique(true),
    })
    if err != nil {
        return fmt.Errorf("create users index: %w", err)
    }
    return nil
}

// Authenticate check `password` against the hash stored for `username`.
func (u *Users) Authenticate(ctx context.Context, username, password string) error {
    var doc user

    err := u.coll.FindOne(ctx, bson.M{"username": username}).Decode(&doc)
    if errors.Is(err, mongo.ErrNoDocuments) {
        return gochat.UserDoesNotExist
    } else if err != nil {
        return fmt.Errorf("find user %s: %w", username, err)
    }

    err = bcrypt.CompareHashAndPassword([]byte(doc.PasswordHash), []byte(password))
    if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
        return gochat.IncorrectPassword
    } else if err != nil {
        return fmt.Errorf("check password of %s: %w", username, err)
    }
    return nil
}

// CreateAccount register a new, offline, user.
func (u *Users) CreateAccount(ctx context.Context, username, password string) error {
    cost := u.cost
    if cost == 0 {
        cost = bcrypt.DefaultCost
    }

    hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
    if err != nil {
        return fmt.Errorf("hash password of %s: %w", username, err)
    }

    _, err = u.coll.InsertOne(ctx, &user {
        Username: username,
        PasswordHash: string(hash),
    })
    if mongo.IsDuplicateKeyError(err) {
        return gochat.UserAlreadyExists
    } else if err != nil {
        return fmt.Errorf("insert user %s: %w", username, err)
    }
    return nil
}

// SetOnline flag whether `username` has a live connection. Unknown users
// are ignored.
func (u *Users) SetOnline(ctx context.Context, username string, online bool) error {
    _, err := u.coll.UpdateOne(ctx, bson.M{"username": username},
            bson.M{"$set": bson.M{"online": online}})
    if err != nil {
        return fmt.Errorf("set online status of %s: %w", username, err)
    }
    return nil
}

// IsOnline retrieve the last status set for `username`.
func (u *Users) IsOnline(ctx context.Context, username string) (bool, error) {
    var doc user

    err := u.coll.FindOne(ctx, bson.M{"username": username}).Decode(&doc)
    if errors.Is(err, mongo.ErrNoDocuments) {
        return false, gochat.UserDoesNotExist
    } else if err != nil {
        return false, fmt.Errorf("find user %s: %w", username, err)
    }
    return doc.Online, nil
}
