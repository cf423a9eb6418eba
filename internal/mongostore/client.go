// Package mongostore holds the shared MongoDB client construction used by
// every Mongo-backed persistence package (tenant, event, workspacemeta), the
// way internal/database.NewSupabaseClient centralized connection setup for
// every Supabase-backed table in the teacher.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Client wraps a connected mongo.Client plus the resolved database handle,
// so callers don't re-derive the database name from config everywhere.
type Client struct {
	Mongo *mongo.Client
	DB    *mongo.Database
}

// Connect dials MongoDB at uri and selects dbName, verifying connectivity
// with a Ping the way NewSupabaseClient validates its credentials eagerly
// at construction time rather than deferring to the first query.
func Connect(ctx context.Context, uri, dbName string) (*Client, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongostore: MONGODB_URI must be set")
	}
	if dbName == "" {
		return nil, fmt.Errorf("mongostore: MONGODB_DB must be set")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connecting: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ping failed: %w", err)
	}

	return &Client{Mongo: client, DB: client.Database(dbName)}, nil
}

// Collection is a thin accessor so callers write c.Collection("events")
// instead of repeating c.DB.Collection(...) everywhere.
func (c *Client) Collection(name string) *mongo.Collection {
	return c.DB.Collection(name)
}

// Close disconnects the underlying client. Safe to call during graceful
// shutdown.
func (c *Client) Close(ctx context.Context) error {
	return c.Mongo.Disconnect(ctx)
}

// EnsureIndexes creates the unique and TTL indexes spec.md §6 names for
// each collection. Index creation is idempotent; calling this on every
// startup is cheap and keeps schema drift from silently accumulating.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	type indexSpec struct {
		collection string
		model      mongo.IndexModel
	}

	specs := []indexSpec{
		{
			collection: "users",
			model: mongo.IndexModel{
				Keys:    map[string]int{"opaque_token": 1},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: "gitlab_configs",
			model: mongo.IndexModel{
				Keys:    map[string]int{"user_id": 1, "project_path": 1},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: "events",
			model: mongo.IndexModel{
				Keys:    map[string]int{"tenant_id": 1, "created_at": -1},
				Options: options.Index(),
			},
		},
		{
			collection: "workspaces",
			model: mongo.IndexModel{
				Keys:    map[string]int{"workspaceid": 1},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: "web_sessions",
			model: mongo.IndexModel{
				Keys: map[string]int{"expires_at": 1},
				Options: options.Index().
					SetExpireAfterSeconds(0).
					SetSparse(true),
			},
		},
	}

	for _, s := range specs {
		if _, err := c.Collection(s.collection).Indexes().CreateOne(ctx, s.model); err != nil {
			return fmt.Errorf("mongostore: creating index on %s: %w", s.collection, err)
		}
	}
	return nil
}
