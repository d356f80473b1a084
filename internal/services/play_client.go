package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	androidpublisher "google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"
)

// PurchaseVerifier is the outbound interface to the external verification
// authority.
type PurchaseVerifier interface {
	VerifySubscription(ctx context.Context, packageName, productID, token string) (*androidpublisher.SubscriptionPurchase, error)
	VerifyProduct(ctx context.Context, packageName, productID, token string) (*androidpublisher.ProductPurchase, error)
}

// PurchaseAcknowledger is the outbound interface to the platform
// acknowledgment endpoint.
type PurchaseAcknowledger interface {
	AcknowledgeSubscription(ctx context.Context, packageName, productID, token string) error
	AcknowledgeProduct(ctx context.Context, packageName, productID, token string) error
}

// PlayClient talks to the Google Play Developer API. It implements both
// outbound interfaces; it is constructed once in main and handed to the
// components that need it.
type PlayClient struct {
	svc *androidpublisher.Service
}

// NewPlayClient creates a Play Developer API client from service account
// credentials.
func NewPlayClient(ctx context.Context, serviceAccountJSON string) (*PlayClient, error) {
	if strings.TrimSpace(serviceAccountJSON) == "" {
		return nil, errors.New("GOOGLE_SERVICE_ACCOUNT_JSON is empty")
	}

	svc, err := androidpublisher.NewService(ctx,
		option.WithCredentialsJSON([]byte(serviceAccountJSON)),
		option.WithScopes(androidpublisher.AndroidpublisherScope),
	)
	if err != nil {
		return nil, fmt.Errorf("androidpublisher.NewService: %w", err)
	}

	return &PlayClient{svc: svc}, nil
}

// VerifySubscription fetches the current state of a subscription purchase.
func (c *PlayClient) VerifySubscription(ctx context.Context, packageName, productID, token string) (*androidpublisher.SubscriptionPurchase, error) {
	resp, err := c.svc.Purchases.Subscriptions.Get(packageName, productID, token).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("google subscriptions.get: %w", err)
	}
	return resp, nil
}

// VerifyProduct fetches the current state of a one-time product purchase.
func (c *PlayClient) VerifyProduct(ctx context.Context, packageName, productID, token string) (*androidpublisher.ProductPurchase, error) {
	resp, err := c.svc.Purchases.Products.Get(packageName, productID, token).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("google products.get: %w", err)
	}
	return resp, nil
}

// AcknowledgeSubscription acknowledges a subscription purchase with the
// platform.
func (c *PlayClient) AcknowledgeSubscription(ctx context.Context, packageName, productID, token string) error {
	req := &androidpublisher.SubscriptionPurchasesAcknowledgeRequest{}
	if err := c.svc.Purchases.Subscriptions.Acknowledge(packageName, productID, token, req).
		Context(ctx).
		Do(); err != nil {
		return fmt.Errorf("google subscriptions.acknowledge: %w", err)
	}
	return nil
}

// AcknowledgeProduct acknowledges a one-time product purchase with the
// platform.
func (c *PlayClient) AcknowledgeProduct(ctx context.Context, packageName, productID, token string) error {
	req := &androidpublisher.ProductPurchasesAcknowledgeRequest{}
	if err := c.svc.Purchases.Products.Acknowledge(packageName, productID, token, req).
		Context(ctx).
		Do(); err != nil {
		return fmt.Errorf("google products.acknowledge: %w", err)
	}
	return nil
}
