package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/hitoshi/echolearn/internal/model"
)

const (
	mongoUsersCollection      = "users"
	mongoIdentitiesCollection = "identities"
)

// OpenMongo はMongoDBに接続し、疎通確認の上で指定データベースを返す。
func OpenMongo(ctx context.Context, uri, dbName string) (*mongo.Client, *mongo.Database, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, client.Database(dbName), nil
}

// EnsureMongoIndexes はユーザーディレクトリに必要なインデックスを作成する。
// 既に存在する場合は何もしない。
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	collections := map[string][]mongo.IndexModel{
		mongoIdentitiesCollection: {
			{
				Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "provider_user_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("unique_provider_user"),
			},
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
		},
		mongoUsersCollection: {
			{Keys: bson.D{{Key: "conversations.conversation_id", Value: 1}}},
		},
	}
	for name, indexes := range collections {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("failed to create indexes for %s: %w", name, err)
		}
	}
	return nil
}

// 会話の所有記録はユーザードキュメントの配列として保持する。
type mongoUserDoc struct {
	ID            string              `bson:"_id"`
	Email         string              `bson:"email"`
	Name          string              `bson:"name"`
	Conversations []mongoOwnershipDoc `bson:"conversations"`
	CreatedAt     time.Time           `bson:"created_at"`
	UpdatedAt     time.Time           `bson:"updated_at"`
}

type mongoOwnershipDoc struct {
	ConversationID string    `bson:"conversation_id"`
	ClaimedAt      time.Time `bson:"claimed_at"`
}

type mongoIdentityDoc struct {
	ID             string    `bson:"_id"`
	UserID         string    `bson:"user_id"`
	Provider       string    `bson:"provider"`
	ProviderUserID string    `bson:"provider_user_id"`
	CreatedAt      time.Time `bson:"created_at"`
}

// MongoUserRepo はMongoDBを使用したユーザーリポジトリ。
type MongoUserRepo struct {
	db *mongo.Database
}

// NewMongoUserRepo はMongoUserRepoを生成する。
func NewMongoUserRepo(db *mongo.Database) *MongoUserRepo {
	return &MongoUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MongoUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var doc mongoUserDoc
	err := r.db.Collection(mongoUsersCollection).FindOne(ctx, bson.M{"_id": id},
		options.FindOne().SetProjection(bson.M{"conversations": 0}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return &model.User{
		ID:        doc.ID,
		Email:     doc.Email,
		Name:      doc.Name,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

// CreateWithIdentity はユーザーとidentityを作成する。
// スタンドアロン構成ではトランザクションが使えないため、
// identityの一意制約違反時は作成済みのユーザーを削除してErrDuplicateを返す。
func (r *MongoUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	users := r.db.Collection(mongoUsersCollection)
	_, err := users.InsertOne(ctx, mongoUserDoc{
		ID:            user.ID,
		Email:         user.Email,
		Name:          user.Name,
		Conversations: []mongoOwnershipDoc{},
		CreatedAt:     user.CreatedAt,
		UpdatedAt:     user.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	_, err = r.db.Collection(mongoIdentitiesCollection).InsertOne(ctx, mongoIdentityDoc{
		ID:             identity.ID,
		UserID:         identity.UserID,
		Provider:       identity.Provider,
		ProviderUserID: identity.ProviderUserID,
		CreatedAt:      identity.CreatedAt,
	})
	if err != nil {
		if _, delErr := users.DeleteOne(ctx, bson.M{"_id": user.ID}); delErr != nil {
			return fmt.Errorf("failed to roll back user after identity insert error: %w", errors.Join(err, delErr))
		}
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert identity: %w", err)
	}
	return nil
}

// MongoIdentityRepo はMongoDBを使用したidentityリポジトリ。
type MongoIdentityRepo struct {
	db *mongo.Database
}

// NewMongoIdentityRepo はMongoIdentityRepoを生成する。
func NewMongoIdentityRepo(db *mongo.Database) *MongoIdentityRepo {
	return &MongoIdentityRepo{db: db}
}

// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
// 見つからない場合はnilを返す。
func (r *MongoIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	var doc mongoIdentityDoc
	err := r.db.Collection(mongoIdentitiesCollection).FindOne(ctx, bson.M{
		"provider":         provider,
		"provider_user_id": providerUserID,
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	return &model.Identity{
		ID:             doc.ID,
		UserID:         doc.UserID,
		Provider:       doc.Provider,
		ProviderUserID: doc.ProviderUserID,
		CreatedAt:      doc.CreatedAt,
	}, nil
}

// MongoOwnershipRepo はユーザードキュメント内の配列で所有記録を管理するリポジトリ。
type MongoOwnershipRepo struct {
	db *mongo.Database
}

// NewMongoOwnershipRepo はMongoOwnershipRepoを生成する。
func NewMongoOwnershipRepo(db *mongo.Database) *MongoOwnershipRepo {
	return &MongoOwnershipRepo{db: db}
}

// Add は会話IDが配列に含まれていない場合のみ$pushする条件付き更新で所有記録を追加する。
// 単一ドキュメントの更新は不可分なので、同時に呼ばれても記録は1件だけになる。
func (r *MongoOwnershipRepo) Add(ctx context.Context, userID, conversationID string, claimedAt time.Time) (*model.ConversationOwnership, bool, error) {
	users := r.db.Collection(mongoUsersCollection)
	res, err := users.UpdateOne(ctx,
		bson.M{
			"_id":                           userID,
			"conversations.conversation_id": bson.M{"$ne": conversationID},
		},
		bson.M{
			"$push": bson.M{"conversations": mongoOwnershipDoc{ConversationID: conversationID, ClaimedAt: claimedAt}},
			"$set":  bson.M{"updated_at": claimedAt},
		},
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to add conversation ownership: %w", err)
	}
	if res.ModifiedCount == 1 {
		return &model.ConversationOwnership{
			UserID:         userID,
			ConversationID: conversationID,
			ClaimedAt:      claimedAt.Truncate(time.Millisecond),
		}, true, nil
	}

	// 既に登録済み、またはユーザーが存在しない
	var doc mongoUserDoc
	err = users.FindOne(ctx,
		bson.M{"_id": userID},
		options.FindOne().SetProjection(bson.M{
			"conversations": bson.M{"$elemMatch": bson.M{"conversation_id": conversationID}},
		}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, fmt.Errorf("failed to add conversation ownership: user %s not found", userID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing conversation ownership: %w", err)
	}
	if len(doc.Conversations) == 0 {
		return nil, false, fmt.Errorf("failed to add conversation ownership: record for %s vanished", conversationID)
	}
	return &model.ConversationOwnership{
		UserID:         userID,
		ConversationID: conversationID,
		ClaimedAt:      doc.Conversations[0].ClaimedAt,
	}, false, nil
}

// Exists はアカウントが会話IDを所有しているかを返す。
func (r *MongoOwnershipRepo) Exists(ctx context.Context, userID, conversationID string) (bool, error) {
	n, err := r.db.Collection(mongoUsersCollection).CountDocuments(ctx, bson.M{
		"_id":                           userID,
		"conversations.conversation_id": conversationID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check conversation ownership: %w", err)
	}
	return n > 0, nil
}

// ListByUserID はアカウントの所有記録を登録順で返す。
func (r *MongoOwnershipRepo) ListByUserID(ctx context.Context, userID string) ([]model.ConversationOwnership, error) {
	var doc mongoUserDoc
	err := r.db.Collection(mongoUsersCollection).FindOne(ctx,
		bson.M{"_id": userID},
		options.FindOne().SetProjection(bson.M{"conversations": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return []model.ConversationOwnership{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation ownerships: %w", err)
	}

	records := make([]model.ConversationOwnership, 0, len(doc.Conversations))
	for _, c := range doc.Conversations {
		records = append(records, model.ConversationOwnership{
			UserID:         userID,
			ConversationID: c.ConversationID,
			ClaimedAt:      c.ClaimedAt,
		})
	}
	return records, nil
}

// compile-time interface check
var (
	_ UserRepository      = (*MongoUserRepo)(nil)
	_ IdentityRepository  = (*MongoIdentityRepo)(nil)
	_ OwnershipRepository = (*MongoOwnershipRepo)(nil)
)
