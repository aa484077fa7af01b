package view

import (
	"context"

	"P2PDesk/internal/backend"
	"P2PDesk/internal/models"
)

// gatewayDialer adapts the concrete push client to the PushDialer interface.
type gatewayDialer struct {
	client *backend.PushClient
}

func NewGatewayDialer(client *backend.PushClient) PushDialer {
	return gatewayDialer{client: client}
}

func (d gatewayDialer) Dial(ctx context.Context, orderID string, kind models.OrderKind, token string) (PushConn, error) {
	conn, err := d.client.Dial(ctx, orderID, kind, token)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
