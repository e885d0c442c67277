package user

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
	UserRepo struct {
		collection *mongo.Collection
		seq        *sequence.Counter
	}
)

func NewUserRepo(db *mongo.Database, seq *sequence.Counter) *UserRepo {
	return &UserRepo{
		collection: db.Collection("users"),
		seq:        seq,
	}
}

func (r *UserRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return errors.Wrap(err, "userRepo.EnsureIndexes")
}

// Create assigns the id and creation time. A duplicate username maps to
// the ALREADY_EXISTS taxonomy error.
func (r *UserRepo) Create(ctx context.Context, user *model.User) (int64, error) {
	id, err := r.seq.Next(ctx, "users")
	if err != nil {
		return 0, err
	}

	user.ID = id
	user.CreatedAt = time.Now().UTC()

	if _, err := r.collection.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return 0, apperrors.AlreadyExists("username already exists")
		}
		return 0, errors.Wrap(err, "userRepo.Create")
	}
	return id, nil
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	filter := bson.M{
		"username": username,
	}

	var user model.User
	err := r.collection.FindOne(ctx, filter).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, errors.Wrap(err, "userRepo.GetByUsername")
	}

	return &user, nil
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, errors.Wrap(err, "userRepo.GetByID")
	}

	return &user, nil
}

func (r *UserRepo) List(ctx context.Context) ([]*model.User, error) {
	cursor, err := r.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "userRepo.List")
	}

	var users []*model.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, errors.Wrap(err, "userRepo.List decode")
	}
	return users, nil
}

// SetAccountKey replaces the account-scoped verification key.
func (r *UserRepo) SetAccountKey(ctx context.Context, id int64, publicKeyPEM string) error {
	_, err := r.collection.UpdateByID(ctx, id, bson.M{"$set": bson.M{"public_key_pem": publicKeyPEM}})
	return errors.Wrap(err, "userRepo.SetAccountKey")
}

func (r *UserRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrap(err, "userRepo.Delete")
	}
	if res.DeletedCount == 0 {
		return apperrors.NotFound("user not found")
	}
	return nil
}
