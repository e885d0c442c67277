// Package resolver answers the two identity questions the session
// handler asks: is this principal in that conversation, and which public
// key material verifies their messages. Key resolution is a strategy
// selected by configuration, not branching inside the handler.
package resolver

import (
	"context"

	"go.uber.org/zap"

	"sigchat/config"
	"sigchat/internal/model"
	apperrors "sigchat/pkg/errors"
	"sigchat/pkg/log"
)

type (
	Membership interface {
		IsMember(ctx context.Context, conversationID, principalID int64) (bool, error)
	}

	// KeyResolver resolves the PEM key material used to verify a
	// sender. deviceID is empty in the account-scoped variant.
	KeyResolver interface {
		Resolve(ctx context.Context, principalID int64, deviceID string) (string, error)
	}

	AccountKeySource interface {
		GetByID(ctx context.Context, id int64) (*model.User, error)
	}

	DeviceKeySource interface {
		Get(ctx context.Context, ownerID int64, deviceID string) (*model.Device, error)
		TouchLastSeen(ctx context.Context, ownerID int64, deviceID string) error
	}
)

// ForScope picks the resolver variant for the configured key scope.
func ForScope(scope config.KeyScope, users AccountKeySource, devices DeviceKeySource) KeyResolver {
	if scope == config.ScopeDevice {
		return &DeviceKeyResolver{devices: devices}
	}
	return &AccountKeyResolver{users: users}
}

// AccountKeyResolver serves the one-key-per-principal variant.
type AccountKeyResolver struct {
	users AccountKeySource
}

func NewAccountKeyResolver(users AccountKeySource) *AccountKeyResolver {
	return &AccountKeyResolver{users: users}
}

func (r *AccountKeyResolver) Resolve(ctx context.Context, principalID int64, _ string) (string, error) {
	user, err := r.users.GetByID(ctx, principalID)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "server error", err)
	}
	if user == nil || user.PublicKeyPEM == "" {
		return "", apperrors.NotFound("sender not found")
	}
	return user.PublicKeyPEM, nil
}

// DeviceKeyResolver serves the per-(principal, device) variant. A device
// that was never enrolled fails closed.
type DeviceKeyResolver struct {
	devices DeviceKeySource
}

func NewDeviceKeyResolver(devices DeviceKeySource) *DeviceKeyResolver {
	return &DeviceKeyResolver{devices: devices}
}

func (r *DeviceKeyResolver) Resolve(ctx context.Context, principalID int64, deviceID string) (string, error) {
	if deviceID == "" {
		return "", apperrors.NotFound("device not enrolled")
	}

	device, err := r.devices.Get(ctx, principalID, deviceID)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "server error", err)
	}
	if device == nil {
		return "", apperrors.NotFound("device not enrolled")
	}

	if err := r.devices.TouchLastSeen(ctx, principalID, deviceID); err != nil {
		log.Warn("touch device last seen failed", zap.Int64("owner", principalID), zap.Error(err))
	}
	return device.PublicKeyPEM, nil
}
