package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"

	"github.com/mygudou/gitlab-copilot-sub001/internal/processor"
	"github.com/mygudou/gitlab-copilot-sub001/internal/tenantctx"
)

// taskPayload is what CloudTaskDispatcher ships to the internal
// processing endpoint; it carries the parsed event plus enough of the
// tenant to reconstruct tenantctx.Tenant on the receiving side, since
// Cloud Tasks delivery is a fresh HTTP request with no in-process ctx.
type taskPayload struct {
	Event      processor.WebhookEvent `json:"event"`
	TenantID   string                 `json:"tenant_id"`
	ConfigID   string                 `json:"config_id,omitempty"`
	BaseURL    string                 `json:"platform_base_url"`
	AccessTok  string                 `json:"platform_access_token"`
	WebhookSec string                 `json:"webhook_secret,omitempty"`
}

// CloudTaskDispatcher hands webhook events to Google Cloud Tasks for
// durable at-least-once delivery to this service's own internal
// processing endpoint, falling back to an in-memory TaskDispatcher when
// Cloud Tasks is unreachable. Grounded on webhooks.CloudDispatcher,
// reshaped from "fan out to external subscriber URLs" to "hand one task
// to our own worker endpoint."
type CloudTaskDispatcher struct {
	client       *cloudtasks.Client
	queuePath    string
	targetURL    string
	serviceToken string
	logger       *slog.Logger
	fallback     *TaskDispatcher
}

// NewCloudTaskDispatcher creates a Cloud Tasks-backed dispatcher. fallback
// may be nil if no in-memory backstop is configured.
func NewCloudTaskDispatcher(ctx context.Context, projectID, locationID, queueID, targetURL, serviceToken string, fallback *TaskDispatcher, logger *slog.Logger) (*CloudTaskDispatcher, error) {
	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloudtasks.NewClient: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudTaskDispatcher{
		client:       client,
		queuePath:    fmt.Sprintf("projects/%s/locations/%s/queues/%s", projectID, locationID, queueID),
		targetURL:    targetURL,
		serviceToken: serviceToken,
		logger:       logger,
		fallback:     fallback,
	}, nil
}

// Enqueue creates a Cloud Task carrying we and the resolving tenant's
// credentials, read off ctx the way the rest of the background pipeline
// does (tenantctx.MustFromContext). On enqueue failure it falls back to
// in-memory dispatch when a fallback was configured; that path queues ctx
// with the event and a worker later runs Process under it, so ctx has to
// stay live until processing ends.
func (cd *CloudTaskDispatcher) Enqueue(ctx context.Context, we processor.WebhookEvent) bool {
	t := tenantctx.MustFromContext(ctx)
	payload, err := json.Marshal(taskPayload{
		Event:      we,
		TenantID:   t.TenantID,
		ConfigID:   t.ConfigID,
		BaseURL:    t.PlatformBaseURL,
		AccessTok:  t.PlatformAccessToken,
		WebhookSec: t.WebhookSecret,
	})
	if err != nil {
		cd.logger.Error("marshal task payload failed", "request_id", we.RequestID, "error", err)
		return false
	}

	headers := map[string]string{
		"Content-Type":    "application/json",
		"X-Request-ID":    we.RequestID,
		"X-Service-Token": cd.serviceToken,
	}

	req := &taskspb.CreateTaskRequest{
		Parent: cd.queuePath,
		Task: &taskspb.Task{
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					HttpMethod: taskspb.HttpMethod_POST,
					Url:        cd.targetURL,
					Headers:    headers,
					Body:       payload,
				},
			},
		},
	}

	enqueueCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := cd.client.CreateTask(enqueueCtx, req); err != nil {
		cd.logger.Warn("cloud task enqueue failed, falling back", "request_id", we.RequestID, "error", err)
		if cd.fallback != nil {
			return cd.fallback.Enqueue(ctx, we)
		}
		return false
	}
	return true
}

// Shutdown releases the Cloud Tasks client and drains the fallback
// dispatcher, if any.
func (cd *CloudTaskDispatcher) Shutdown() {
	if cd.fallback != nil {
		cd.fallback.Shutdown()
	}
	if err := cd.client.Close(); err != nil {
		cd.logger.Warn("cloud tasks client close error", "error", err)
	}
}
