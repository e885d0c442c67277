package conversation

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
	ConversationRepo struct {
		collection *mongo.Collection
		seq        *sequence.Counter
	}
)

func NewConversationRepo(db *mongo.Database, seq *sequence.Counter) *ConversationRepo {
	return &ConversationRepo{
		collection: db.Collection("conversations"),
		seq:        seq,
	}
}

func (r *ConversationRepo) Create(ctx context.Context, title string, memberIDs []int64) (*model.Conversation, error) {
	id, err := r.seq.Next(ctx, "conversations")
	if err != nil {
		return nil, err
	}

	conv := &model.Conversation{
		ID:        id,
		Title:     title,
		MemberIDs: dedupe(memberIDs),
		CreatedAt: time.Now().UTC(),
	}
	if _, err := r.collection.InsertOne(ctx, conv); err != nil {
		return nil, errors.Wrap(err, "conversationRepo.Create")
	}
	return conv, nil
}

func (r *ConversationRepo) Get(ctx context.Context, id int64) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, errors.Wrap(err, "conversationRepo.Get")
	}

	return &conv, nil
}

func (r *ConversationRepo) ListByMember(ctx context.Context, userID int64) ([]*model.Conversation, error) {
	filter := bson.M{"member_ids": userID}
	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: -1}}))
	if err != nil {
		return nil, errors.Wrap(err, "conversationRepo.ListByMember")
	}

	var convs []*model.Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, errors.Wrap(err, "conversationRepo.ListByMember decode")
	}
	return convs, nil
}

// IsMember answers the membership question the session handler asks on
// joinRoom and on every sendMessage.
func (r *ConversationRepo) IsMember(ctx context.Context, conversationID, principalID int64) (bool, error) {
	filter := bson.M{"_id": conversationID, "member_ids": principalID}
	err := r.collection.FindOne(ctx, filter, options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}

	if err != nil {
		return false, errors.Wrap(err, "conversationRepo.IsMember")
	}
	return true, nil
}

func (r *ConversationRepo) AddMember(ctx context.Context, conversationID, userID int64) error {
	res, err := r.collection.UpdateByID(ctx, conversationID,
		bson.M{"$addToSet": bson.M{"member_ids": userID}})
	if err != nil {
		return errors.Wrap(err, "conversationRepo.AddMember")
	}
	if res.MatchedCount == 0 {
		return apperrors.NotFound("conversation not found")
	}
	return nil
}

// RemoveMemberFromAll pulls the user out of every conversation and
// returns the ids of the conversations that were touched, so the caller
// can clean up the ones left empty.
func (r *ConversationRepo) RemoveMemberFromAll(ctx context.Context, userID int64) ([]int64, error) {
	filter := bson.M{"member_ids": userID}
	cursor, err := r.collection.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, errors.Wrap(err, "conversationRepo.RemoveMemberFromAll find")
	}

	var docs []struct {
		ID int64 `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "conversationRepo.RemoveMemberFromAll decode")
	}

	if _, err := r.collection.UpdateMany(ctx, filter,
		bson.M{"$pull": bson.M{"member_ids": userID}}); err != nil {
		return nil, errors.Wrap(err, "conversationRepo.RemoveMemberFromAll pull")
	}

	ids := make([]int64, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (r *ConversationRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrap(err, "conversationRepo.Delete")
	}
	if res.DeletedCount == 0 {
		return apperrors.NotFound("conversation not found")
	}
	return nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
