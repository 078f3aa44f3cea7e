package remote

import (
	"context"

	"github.com/italolelis/puttr/internal/inventory"
	"github.com/italolelis/puttr/internal/telemetry"
)

// InstrumentedClient wraps a Service with telemetry.
type InstrumentedClient struct {
	client    Service
	telemetry *telemetry.Telemetry
}

var _ Service = (*InstrumentedClient)(nil)

func NewInstrumentedClient(client Service, tel *telemetry.Telemetry) *InstrumentedClient {
	return &InstrumentedClient{
		client:    client,
		telemetry: tel,
	}
}

// Ping probes the service with telemetry.
func (c *InstrumentedClient) Ping(ctx context.Context) error {
	return c.telemetry.InstrumentRemoteOperation(ctx, "ping", func(ctx context.Context) error {
		return c.client.Ping(ctx)
	})
}

// FetchInventories fetches both views with telemetry.
func (c *InstrumentedClient) FetchInventories(ctx context.Context) (*Inventories, error) {
	var result *Inventories

	err := c.telemetry.InstrumentRemoteOperation(ctx, "fetch_inventories", func(ctx context.Context) error {
		var err error

		result, err = c.client.FetchInventories(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Publish publishes the local inventory with telemetry.
func (c *InstrumentedClient) Publish(ctx context.Context, inv inventory.Inventory) error {
	return c.telemetry.InstrumentRemoteOperation(ctx, "publish", func(ctx context.Context) error {
		return c.client.Publish(ctx, inv)
	})
}

// DownloadURL resolves a transfer URL with telemetry.
func (c *InstrumentedClient) DownloadURL(ctx context.Context, remoteID string) (string, error) {
	var result string

	err := c.telemetry.InstrumentRemoteOperation(ctx, "download_url", func(ctx context.Context) error {
		var err error

		result, err = c.client.DownloadURL(ctx, remoteID)

		return err
	})
	if err != nil {
		return "", err
	}

	return result, nil
}

// ConfirmDownload confirms a verified download with telemetry.
func (c *InstrumentedClient) ConfirmDownload(ctx context.Context, remoteID string) error {
	return c.telemetry.InstrumentRemoteOperation(ctx, "confirm_download", func(ctx context.Context) error {
		return c.client.ConfirmDownload(ctx, remoteID)
	})
}
