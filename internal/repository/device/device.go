package device

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"sigchat/internal/model"
)

type (
	DeviceRepo struct {
		collection *mongo.Collection
	}
)

func NewDeviceRepo(db *mongo.Database) *DeviceRepo {
	return &DeviceRepo{
		collection: db.Collection("devices"),
	}
}

func (r *DeviceRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "device_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return errors.Wrap(err, "deviceRepo.EnsureIndexes")
}

// Upsert enrolls a device or, on re-enrollment, replaces its public key
// in place. Devices are never implicitly deleted.
func (r *DeviceRepo) Upsert(ctx context.Context, ownerID int64, deviceID, publicKeyPEM string) error {
	now := time.Now().UTC()
	filter := bson.M{"owner_id": ownerID, "device_id": deviceID}
	update := bson.M{
		"$set": bson.M{
			"public_key_pem": publicKeyPEM,
			"last_seen_at":   now,
		},
		"$setOnInsert": bson.M{
			"created_at": now,
		},
	}

	_, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return errors.Wrap(err, "deviceRepo.Upsert")
}

func (r *DeviceRepo) Get(ctx context.Context, ownerID int64, deviceID string) (*model.Device, error) {
	filter := bson.M{"owner_id": ownerID, "device_id": deviceID}

	var device model.Device
	err := r.collection.FindOne(ctx, filter).Decode(&device)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, errors.Wrap(err, "deviceRepo.Get")
	}

	return &device, nil
}

func (r *DeviceRepo) ListByOwner(ctx context.Context, ownerID int64) ([]*model.Device, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"owner_id": ownerID})
	if err != nil {
		return nil, errors.Wrap(err, "deviceRepo.ListByOwner")
	}

	var devices []*model.Device
	if err := cursor.All(ctx, &devices); err != nil {
		return nil, errors.Wrap(err, "deviceRepo.ListByOwner decode")
	}
	return devices, nil
}

func (r *DeviceRepo) TouchLastSeen(ctx context.Context, ownerID int64, deviceID string) error {
	filter := bson.M{"owner_id": ownerID, "device_id": deviceID}
	_, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"last_seen_at": time.Now().UTC()}})
	return errors.Wrap(err, "deviceRepo.TouchLastSeen")
}

func (r *DeviceRepo) DeleteByOwner(ctx context.Context, ownerID int64) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"owner_id": ownerID})
	return errors.Wrap(err, "deviceRepo.DeleteByOwner")
}
