package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mygudou/gitlab-copilot-sub001/internal/mongostore"
)

// MongoStore implements Store against the "users" and "gitlab_configs"
// collections, the way internal/database.SupabaseClient wraps one table
// per struct behind typed Get/Create/List methods.
type MongoStore struct {
	users   *mongo.Collection
	configs *mongo.Collection
}

func NewMongoStore(c *mongostore.Client) *MongoStore {
	return &MongoStore{
		users:   c.Collection("users"),
		configs: c.Collection("gitlab_configs"),
	}
}

type userDoc struct {
	ID          string    `bson:"_id"`
	OpaqueToken string    `bson:"opaque_token"`
	Email       string    `bson:"email"`
	Username    string    `bson:"username"`
	CreatedAt   time.Time `bson:"created_at"`
}

type configDoc struct {
	ID                  string    `bson:"_id"`
	Token               string    `bson:"token"`
	UserID              string    `bson:"user_id"`
	IsDefault           bool      `bson:"is_default"`
	DisplayName         string    `bson:"display_name"`
	PlatformBaseURL     string    `bson:"platform_base_url"`
	PlatformAccessToken string    `bson:"platform_access_token"`
	WebhookSecret       string    `bson:"webhook_secret"`
	AIExecutor          string    `bson:"ai_executor"`
	ProjectPath         string    `bson:"project_path"`
	CreatedAt           time.Time `bson:"created_at"`
}

func (d configDoc) toConfig() *Config {
	return &Config{
		ID:                  d.ID,
		Token:               d.Token,
		UserID:              d.UserID,
		IsDefault:           d.IsDefault,
		DisplayName:         d.DisplayName,
		PlatformBaseURL:     d.PlatformBaseURL,
		PlatformAccessToken: d.PlatformAccessToken,
		WebhookSecret:       d.WebhookSecret,
		AIExecutor:          d.AIExecutor,
		ProjectPath:         d.ProjectPath,
		CreatedAt:           d.CreatedAt,
	}
}

func (s *MongoStore) FindConfigByToken(ctx context.Context, token string) (*Config, error) {
	var doc configDoc
	err := s.configs.FindOne(ctx, bson.M{"token": token}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tenant: finding config by token: %w", err)
	}
	return doc.toConfig(), nil
}

func (s *MongoStore) FindUserByToken(ctx context.Context, token string) (*User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, bson.M{"opaque_token": token}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tenant: finding user by token: %w", err)
	}
	return &User{ID: doc.ID, Email: doc.Email, Username: doc.Username, CreatedAt: doc.CreatedAt}, nil
}

func (s *MongoStore) FindDefaultConfig(ctx context.Context, userID string) (*Config, error) {
	var doc configDoc
	err := s.configs.FindOne(ctx, bson.M{"user_id": userID, "is_default": true}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tenant: finding default config: %w", err)
	}
	return doc.toConfig(), nil
}

func (s *MongoStore) FindConfigsForUser(ctx context.Context, userID string) ([]Config, error) {
	cur, err := s.configs.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("tenant: listing configs: %w", err)
	}
	defer cur.Close(ctx)

	var docs []configDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("tenant: decoding configs: %w", err)
	}
	configs := make([]Config, 0, len(docs))
	for _, d := range docs {
		configs = append(configs, *d.toConfig())
	}
	return configs, nil
}
