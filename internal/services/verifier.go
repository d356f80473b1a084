package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"entitlement-api/internal/models"

	"github.com/google/uuid"
	androidpublisher "google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"
)

// VerificationErrorCode classifies verification failures.
type VerificationErrorCode string

const (
	// ErrCodeMismatchedContext means the request's package context does not
	// match the configured application identity. Fails fast, never forwarded.
	ErrCodeMismatchedContext VerificationErrorCode = "mismatched_context"
	// ErrCodeTokenNotFound means the token never existed or belongs to a
	// different app. Permanent.
	ErrCodeTokenNotFound VerificationErrorCode = "token_not_found"
	// ErrCodeAuthorityUnreachable is a transient outbound failure.
	ErrCodeAuthorityUnreachable VerificationErrorCode = "authority_unreachable"
	// ErrCodeRateLimited means the authority asked us to back off.
	ErrCodeRateLimited VerificationErrorCode = "rate_limited"
)

// VerificationError is a classified failure of the verification call.
type VerificationError struct {
	Code VerificationErrorCode
	Err  error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verification failed (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("verification failed (%s)", e.Code)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// Transient reports whether the caller may retry with backoff.
func (e *VerificationError) Transient() bool {
	return e.Code == ErrCodeAuthorityUnreachable || e.Code == ErrCodeRateLimited
}

// TokenVerifier calls the external verification authority for a single
// purchase token and normalizes the heterogeneous response shapes into one
// Signal. It never touches the entitlement store.
type TokenVerifier struct {
	client  PurchaseVerifier
	timeout time.Duration
}

// NewTokenVerifier creates a token verifier.
func NewTokenVerifier(client PurchaseVerifier) *TokenVerifier {
	return &TokenVerifier{
		client:  client,
		timeout: 30 * time.Second,
	}
}

// Verify validates a purchase token against the authority and returns the
// normalized signal. The package context must match the application's
// configured identity or the call fails before anything leaves the process.
func (v *TokenVerifier) Verify(ctx context.Context, app *models.Application, packageName, productID, token, userID string, kind models.PurchaseKind) (*models.Signal, error) {
	if token == "" {
		return nil, &VerificationError{Code: ErrCodeTokenNotFound, Err: errors.New("empty purchase token")}
	}
	if packageName != app.PackageName {
		return nil, &VerificationError{
			Code: ErrCodeMismatchedContext,
			Err:  fmt.Errorf("package %q does not match application %q", packageName, app.AppID),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	if kind == models.PurchaseOneTime {
		resp, err := v.client.VerifyProduct(ctx, app.PackageName, productID, token)
		if err != nil {
			return nil, classifyAuthorityError(err)
		}
		return v.normalizeProduct(app, productID, token, userID, resp), nil
	}

	resp, err := v.client.VerifySubscription(ctx, app.PackageName, productID, token)
	if err != nil {
		return nil, classifyAuthorityError(err)
	}
	return v.normalizeSubscription(app, productID, token, userID, resp), nil
}

// normalizeSubscription maps a subscription purchase response onto a signal.
// The event time is the observation time: the response is ground truth at
// the moment it was fetched.
func (v *TokenVerifier) normalizeSubscription(app *models.Application, productID, token, userID string, resp *androidpublisher.SubscriptionPurchase) *models.Signal {
	now := time.Now()
	autoRenew := resp.AutoRenewing

	sig := &models.Signal{
		Source:       models.SourceVerification,
		SignalID:     uuid.NewString(),
		PackageName:  app.PackageName,
		ProductID:    productID,
		Token:        token,
		LinkedToken:  resp.LinkedPurchaseToken,
		EventTime:    now,
		AutoRenewing: &autoRenew,
		PurchaseKind: models.PurchaseSubscription,
		OrderID:      resp.OrderId,
		UserID:       userID,
	}

	if resp.PaymentState != nil {
		ps := models.PaymentState(*resp.PaymentState)
		sig.PaymentState = &ps
	}
	if resp.ExpiryTimeMillis > 0 {
		expiry := time.UnixMilli(resp.ExpiryTimeMillis)
		sig.ExpiryTime = &expiry
	}

	switch {
	case sig.ExpiryTime != nil && !sig.ExpiryTime.After(now):
		sig.Kind = models.KindExpired
	case sig.PaymentSettled() && !resp.AutoRenewing:
		// Paid through the current period but auto-renew is off: the user
		// canceled. Access is retained until expiry.
		sig.Kind = models.KindCanceled
	default:
		sig.Kind = models.KindPurchased
	}

	return sig
}

// normalizeProduct maps a one-time product purchase response onto a signal.
// One-time purchases have no expiry; a canceled or refunded purchase maps to
// revocation.
func (v *TokenVerifier) normalizeProduct(app *models.Application, productID, token, userID string, resp *androidpublisher.ProductPurchase) *models.Signal {
	sig := &models.Signal{
		Source:       models.SourceVerification,
		SignalID:     uuid.NewString(),
		PackageName:  app.PackageName,
		ProductID:    productID,
		Token:        token,
		EventTime:    time.Now(),
		PurchaseKind: models.PurchaseOneTime,
		OrderID:      resp.OrderId,
		UserID:       userID,
	}

	// 0 = purchased, 1 = canceled, 2 = pending
	switch resp.PurchaseState {
	case 0:
		ps := models.PaymentReceived
		sig.PaymentState = &ps
		sig.Kind = models.KindPurchased
	case 1:
		sig.Kind = models.KindRevoked
	default:
		ps := models.PaymentPending
		sig.PaymentState = &ps
		sig.Kind = models.KindPurchased
	}

	return sig
}

// classifyAuthorityError maps an outbound call failure onto the
// transient/permanent taxonomy.
func classifyAuthorityError(err error) *VerificationError {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusBadRequest, http.StatusNotFound, http.StatusGone:
			return &VerificationError{Code: ErrCodeTokenNotFound, Err: err}
		case http.StatusTooManyRequests:
			return &VerificationError{Code: ErrCodeRateLimited, Err: err}
		}
	}
	return &VerificationError{Code: ErrCodeAuthorityUnreachable, Err: err}
}
