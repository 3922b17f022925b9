package sequence

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoCounter keeps one document per scope: {_id: scope, value: n}.
type MongoCounter struct {
	Coll *mongo.Collection
}

func NewMongoCounter(ctx context.Context, uri, database, collection string) (*MongoCounter, *mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &MongoCounter{Coll: client.Database(database).Collection(collection)}, client, nil
}

func (c MongoCounter) Next(ctx context.Context, scope string) (int64, error) {
	v, err := c.incr(ctx, scope)
	// Two first-use upserts on one scope can race on _id; the loser finds
	// the document on its second attempt.
	if mongo.IsDuplicateKeyError(err) {
		v, err = c.incr(ctx, scope)
	}
	return v, err
}

func (c MongoCounter) incr(ctx context.Context, scope string) (int64, error) {
	var doc struct {
		Value int64 `bson:"value"`
	}
	err := c.Coll.FindOneAndUpdate(ctx,
		bson.M{"_id": scope},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Value, nil
}
