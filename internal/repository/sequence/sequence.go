// Package sequence hands out monotonically increasing int64 ids from a
// counters collection, one counter document per collection name.
package sequence

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	Counter struct {
		collection *mongo.Collection
	}
)

func New(db *mongo.Database) *Counter {
	return &Counter{
		collection: db.Collection("counters"),
	}
}

func (c *Counter) Next(ctx context.Context, name string) (int64, error) {
	res := c.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)

	var doc struct {
		Value int64 `bson:"value"`
	}
	if err := res.Decode(&doc); err != nil {
		return 0, errors.Wrap(err, "sequence.Next")
	}
	return doc.Value, nil
}
