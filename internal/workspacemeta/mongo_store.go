package workspacemeta

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mygudou/gitlab-copilot-sub001/internal/mongostore"
)

// MongoStore implements Store against the "workspaces" collection.
type MongoStore struct {
	workspaces *mongo.Collection
}

func NewMongoStore(c *mongostore.Client) *MongoStore {
	return &MongoStore{workspaces: c.Collection("workspaces")}
}

func (s *MongoStore) Upsert(ctx context.Context, rec *Record) error {
	now := time.Now().UTC()
	rec.UpdatedAt = now
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	filter := bson.M{"workspaceid": rec.WorkspaceID}
	update := bson.M{
		"$set": bson.M{
			"workspaceid":    rec.WorkspaceID,
			"projectid":      rec.ProjectID,
			"projectname":    rec.ProjectName,
			"basebranch":     rec.BaseBranch,
			"checkoutbranch": rec.CheckoutBranch,
			"path":           rec.Path,
			"lastused":       rec.LastUsed,
			"updatedat":      rec.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"createdat": rec.CreatedAt,
		},
	}
	_, err := s.workspaces.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("workspacemeta: upserting %s: %w", rec.WorkspaceID, err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, workspaceID string) (*Record, error) {
	var rec Record
	err := s.workspaces.FindOne(ctx, bson.M{"workspaceid": workspaceID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workspacemeta: getting %s: %w", workspaceID, err)
	}
	return &rec, nil
}

func (s *MongoStore) Remove(ctx context.Context, workspaceID string) error {
	_, err := s.workspaces.DeleteOne(ctx, bson.M{"workspaceid": workspaceID})
	if err != nil {
		return fmt.Errorf("workspacemeta: removing %s: %w", workspaceID, err)
	}
	return nil
}

func (s *MongoStore) FindUnusedSince(ctx context.Context, cutoff time.Time) ([]Record, error) {
	cur, err := s.workspaces.Find(ctx, bson.M{"lastused": bson.M{"$lt": cutoff}})
	if err != nil {
		return nil, fmt.Errorf("workspacemeta: listing unused: %w", err)
	}
	defer cur.Close(ctx)

	var recs []Record
	if err := cur.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("workspacemeta: decoding unused: %w", err)
	}
	return recs, nil
}
