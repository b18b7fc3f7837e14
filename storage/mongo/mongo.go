// Package mongodb implements the portal repository on MongoDB.
package mongodb

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/trezcool/eduanalytics/core"
)

// collections
const (
	tasksCollection       = "tasks"
	assignmentsCollection = "assignments"
	submissionsCollection = "submissions"
	usersCollection       = "users"
)

// Connect opens a client on conf.Mongo and pings the primary, retrying up to ConnectRetries times.
func Connect(ctx context.Context, conf *core.Config, logger core.Logger) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(conf.Mongo.URI).
		SetAppName(conf.AppName)
	if conf.Mongo.ConnectTimeout > 0 {
		opts.SetConnectTimeout(conf.Mongo.ConnectTimeout)
		opts.SetServerSelectionTimeout(conf.Mongo.ConnectTimeout)
	}
	if conf.Mongo.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(conf.Mongo.MaxPoolSize)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to mongo")
	}

	if err = ping(ctx, client, conf.Mongo.ConnectRetries, conf.Mongo.RetryDelay, logger); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

func ping(ctx context.Context, client *mongo.Client, maxAttempts int, delay time.Duration, logger core.Logger) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var err error
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		if err = client.Ping(ctx, readpref.Primary()); err == nil {
			return nil
		}
		if attempts == maxAttempts {
			break
		}
		logger.Warn("mongo is not reachable, retrying", err, map[string]interface{}{"attempt": attempts})
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "pinging mongo")
		case <-time.After(delay):
		}
	}
	return errors.Wrap(err, "mongo ping timeout")
}

// EnsureIndexes creates the indexes the portal relies on. It is idempotent.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(submissionsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "assignment_id", Value: 1}, {Key: "student_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("assignment_student_unique"),
	})
	if err != nil {
		return errors.Wrap(err, "creating submissions index")
	}
	_, err = db.Collection(tasksCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	return errors.Wrap(err, "creating tasks index")
}
