package session

import (
	"context"
	"time"

	"github.com/maximthomas/goradius/pkg/log"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoTimeout = 1 * time.Second

type mongoSessionRepository struct {
	client     *mongo.Client
	db         string
	collection string
	retention  time.Duration
}

// mongoRepoSession adds the TTL field; open sessions never expire.
type mongoRepoSession struct {
	Session   `bson:",inline"`
	ExpiresAt *time.Time `bson:"expiresAt,omitempty"`
}

func (sr *mongoSessionRepository) wrap(session Session) mongoRepoSession {
	rs := mongoRepoSession{Session: session}
	if !session.Open && !session.StoppedAt.IsZero() {
		exp := session.StoppedAt.Add(sr.retention)
		rs.ExpiresAt = &exp
	}
	return rs
}

func NewMongoSessionRepository(uri, db, c string, retention time.Duration) (Repository, error) {
	if retention <= 0 {
		retention = defaultRetention
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupIntervalSeconds*time.Second)
	defer cancel()
	log.WithField("module", "session").Infof("connecting to mongo, db: %s, collection: %s", db, c)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "mongo connect")
	}

	rep := &mongoSessionRepository{
		client:     client,
		db:         db,
		collection: c,
		retention:  retention,
	}
	_, err = rep.getCollection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.M{"expiresAt": 1}, Options: options.Index().SetExpireAfterSeconds(0)},
		{Keys: bson.M{"id": 1}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "userName", Value: 1}, {Key: "open", Value: 1}}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "mongo create indexes")
	}
	return rep, nil
}

func (sr *mongoSessionRepository) Create(ctx context.Context, session Session) (Session, error) {
	if session.ID == "" {
		return session, errors.New("session id is empty")
	}
	now := time.Now()
	if session.StartedAt.IsZero() {
		session.StartedAt = now
	}
	session.UpdatedAt = now

	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()
	repoSession := sr.wrap(session)
	if _, err := sr.getCollection().InsertOne(ctx, &repoSession); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return session, errors.Wrapf(ErrSessionExists, "session %s", session.ID)
		}
		return session, errors.Wrap(err, "mongo insert session")
	}
	return session, nil
}

func (sr *mongoSessionRepository) Update(ctx context.Context, session Session) error {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()
	res, err := sr.getCollection().ReplaceOne(ctx, bson.M{"id": session.ID}, sr.wrap(session))
	if err != nil {
		return errors.Wrap(err, "mongo update session")
	}
	if res.MatchedCount == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (sr *mongoSessionRepository) Get(ctx context.Context, id string) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()
	var repoSession mongoRepoSession
	err := sr.getCollection().FindOne(ctx, bson.M{"id": id}).Decode(&repoSession)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, errors.Wrap(err, "mongo get session")
	}
	return repoSession.Session, nil
}

func (sr *mongoSessionRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()
	err := sr.getCollection().FindOneAndDelete(ctx, bson.M{"id": id}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrSessionNotFound
	}
	return err
}

func (sr *mongoSessionRepository) ListByUser(ctx context.Context, userName string) ([]Session, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()
	cur, err := sr.getCollection().Find(ctx, bson.M{"userName": userName},
		options.Find().SetSort(bson.D{{Key: "startedAt", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "mongo list sessions")
	}
	var repoSessions []mongoRepoSession
	if err := cur.All(ctx, &repoSessions); err != nil {
		return nil, errors.Wrap(err, "mongo decode sessions")
	}
	res := make([]Session, 0, len(repoSessions))
	for _, rs := range repoSessions {
		res = append(res, rs.Session)
	}
	return res, nil
}

func (sr *mongoSessionRepository) CountOpen(ctx context.Context, userName string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()
	n, err := sr.getCollection().CountDocuments(ctx, bson.M{"userName": userName, "open": true})
	return int(n), errors.Wrap(err, "mongo count sessions")
}

func (sr *mongoSessionRepository) getCollection() *mongo.Collection {
	return sr.client.Database(sr.db).Collection(sr.collection)
}
