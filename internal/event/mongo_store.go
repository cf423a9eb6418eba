package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mygudou/gitlab-copilot-sub001/internal/mongostore"
)

// MongoStore implements Store against the "events" collection.
type MongoStore struct {
	events *mongo.Collection
}

func NewMongoStore(c *mongostore.Client) *MongoStore {
	return &MongoStore{events: c.Collection("events")}
}

func (s *MongoStore) Insert(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = StatusReceived
	}
	_, err := s.events.InsertOne(ctx, rec)
	if err != nil {
		return fmt.Errorf("event: inserting record: %w", err)
	}
	return nil
}

func (s *MongoStore) MarkProcessed(ctx context.Context, id string, status Status, errorMessage string) error {
	now := time.Now().UTC()

	var rec Record
	if err := s.events.FindOne(ctx, bson.M{"id": id}).Decode(&rec); err != nil {
		return fmt.Errorf("event: loading record %s: %w", id, err)
	}

	elapsed := now.Sub(rec.ReceivedAt).Milliseconds()
	update := bson.M{
		"$set": bson.M{
			"status":            status,
			"processedat":       now,
			"executiontimems":   elapsed,
			"errormessage":      errorMessage,
		},
	}
	_, err := s.events.UpdateOne(ctx, bson.M{"id": id}, update)
	if err != nil {
		return fmt.Errorf("event: marking processed %s: %w", id, err)
	}
	return nil
}

func (s *MongoStore) UpdateDetails(ctx context.Context, id string, patch DetailsPatch) error {
	set := bson.M{}
	if patch.SourceBranch != nil {
		set["sourcebranch"] = *patch.SourceBranch
	}
	if patch.TargetBranch != nil {
		set["targetbranch"] = *patch.TargetBranch
	}
	if patch.ResponseType != nil {
		set["responsetype"] = *patch.ResponseType
	}
	if patch.InstructionText != nil {
		set["instructiontext"] = *patch.InstructionText
	}
	if patch.AIProvider != nil {
		set["aiprovider"] = *patch.AIProvider
	}
	if len(set) == 0 {
		return nil
	}
	_, err := s.events.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": set}, options.Update())
	if err != nil {
		return fmt.Errorf("event: updating details %s: %w", id, err)
	}
	return nil
}

// FindByRequestID returns the record matching requestID, or (nil, nil) if
// none was inserted yet.
func (s *MongoStore) FindByRequestID(ctx context.Context, requestID string) (*Record, error) {
	if requestID == "" {
		return nil, nil
	}
	var rec Record
	err := s.events.FindOne(ctx, bson.M{"requestid": requestID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("event: finding record by request id %s: %w", requestID, err)
	}
	return &rec, nil
}
