package user

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/maximthomas/goradius/pkg/log"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"
)

const mongoTimeout = 1 * time.Second

type userMongoRepository struct {
	client     *mongo.Client
	db         string
	collection string
}

type mongoRepoUser struct {
	User     `bson:",inline"`
	Password string `bson:"password,omitempty"`
}

func (ur *userMongoRepository) find(ctx context.Context, id string) (mongoRepoUser, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()
	var repoUser mongoRepoUser
	err := ur.getCollection().FindOne(ctx, bson.M{"id": id}).Decode(&repoUser)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return repoUser, false, nil
	}
	if err != nil {
		return repoUser, false, errors.Wrap(err, "mongo find user")
	}
	return repoUser, true, nil
}

func (ur *userMongoRepository) GetUser(ctx context.Context, id string) (User, bool, error) {
	repoUser, ok, err := ur.find(ctx, id)
	return repoUser.User, ok, err
}

func (ur *userMongoRepository) ValidatePassword(ctx context.Context, id, password string) (bool, error) {
	repoUser, ok, err := ur.find(ctx, id)
	if !ok || err != nil || repoUser.Password == "" {
		return false, err
	}
	err = bcrypt.CompareHashAndPassword([]byte(repoUser.Password), []byte(password))
	return err == nil, nil
}

func (ur *userMongoRepository) CreateUser(ctx context.Context, user User) (User, error) {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	_, err := ur.getCollection().InsertOne(ctx, &mongoRepoUser{User: user})
	if err != nil {
		return user, errors.Wrap(err, "mongo insert user")
	}
	return user, nil
}

func (ur *userMongoRepository) SetPassword(ctx context.Context, id, password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	res, err := ur.getCollection().UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": bson.M{"password": string(hashedPassword)}})
	if err != nil {
		return errors.Wrap(err, "mongo set password")
	}
	if res.MatchedCount == 0 {
		return errors.Wrap(ErrUserNotFound, id)
	}
	return nil
}

func newUserMongoRepository(uri, db, c string) (*userMongoRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.WithField("module", "user").Infof("connecting to mongo, db: %s, collection: %s", db, c)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "mongo connect")
	}

	rep := &userMongoRepository{
		client:     client,
		db:         db,
		collection: c,
	}
	mod := mongo.IndexModel{
		Keys:    bson.M{"id": 1},
		Options: options.Index().SetUnique(true),
	}
	if _, err = rep.getCollection().Indexes().CreateOne(ctx, mod); err != nil {
		return nil, errors.Wrap(err, "mongo create index")
	}
	return rep, nil
}

func (ur *userMongoRepository) getCollection() *mongo.Collection {
	return ur.client.Database(ur.db).Collection(ur.collection)
}
