package message

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"sigchat/internal/model"
	"sigchat/internal/repository/sequence"
	apperrors "sigchat/pkg/errors"
)

type (
	MessageRepo struct {
		collection *mongo.Collection
		seq        *sequence.Counter
	}
)

func NewMessageRepo(db *mongo.Database, seq *sequence.Counter) *MessageRepo {
	return &MessageRepo{
		collection: db.Collection("messages"),
		seq:        seq,
	}
}

// EnsureIndexes installs the unique indexes on body_hash and nonce.
// These constraints, not the pre-check, are what keep two racing copies
// of the same message from both being admitted.
func (r *MessageRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "body_hash", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "nonce", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "_id", Value: -1}},
		},
	})
	return errors.Wrap(err, "messageRepo.EnsureIndexes")
}

// ExistsByHashOrNonce is the replay pre-check. A false result is only an
// optimization hint, never an admission guarantee.
func (r *MessageRepo) ExistsByHashOrNonce(ctx context.Context, hash, nonce []byte) (bool, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"body_hash": hash},
		bson.M{"nonce": nonce},
	}}

	err := r.collection.FindOne(ctx, filter, options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}

	if err != nil {
		return false, errors.Wrap(err, "messageRepo.ExistsByHashOrNonce")
	}
	return true, nil
}

// Insert persists the message, assigning id and createdAt. A uniqueness
// violation on body_hash or nonce is an authoritative replay rejection,
// not a generic server error.
func (r *MessageRepo) Insert(ctx context.Context, msg *model.Message) error {
	id, err := r.seq.Next(ctx, "messages")
	if err != nil {
		return err
	}

	msg.ID = id
	msg.CreatedAt = time.Now().UTC()

	if _, err := r.collection.InsertOne(ctx, msg); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperrors.Replay("replay detected")
		}
		return errors.Wrap(err, "messageRepo.Insert")
	}
	return nil
}

// ListRecent returns the newest limit messages of a conversation in
// ascending commit order.
func (r *MessageRepo) ListRecent(ctx context.Context, conversationID int64, limit int64) ([]*model.Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "messageRepo.ListRecent")
	}

	var msgs []*model.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, errors.Wrap(err, "messageRepo.ListRecent decode")
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *MessageRepo) DeleteByConversation(ctx context.Context, conversationID int64) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"conversation_id": conversationID})
	return errors.Wrap(err, "messageRepo.DeleteByConversation")
}

func (r *MessageRepo) DeleteBySender(ctx context.Context, senderID int64) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"sender_id": senderID})
	return errors.Wrap(err, "messageRepo.DeleteBySender")
}
