package session

import (
	"context"
	"strings"

	"kasirsync/backend/internal/domain"
)

type User struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

type Permission struct {
	CompanyID string `json:"company_id"`
	StoreID   string `json:"store_id"`
}

// Provider is the identity collaborator. The core only asks who is acting
// and which company/store they act for.
type Provider interface {
	CurrentUser(ctx context.Context) (User, bool)
	CurrentPermission(ctx context.Context) (Permission, bool)
}

// Resolve turns the provider's view of the caller into an explicit
// OperationContext. deviceID is used when the provider carries none.
func Resolve(ctx context.Context, p Provider, deviceID string) (domain.OperationContext, error) {
	if p == nil {
		return domain.OperationContext{}, domain.ErrNotAuthenticated
	}
	user, ok := p.CurrentUser(ctx)
	if !ok || strings.TrimSpace(user.ID) == "" {
		return domain.OperationContext{}, domain.ErrNotAuthenticated
	}
	perm, ok := p.CurrentPermission(ctx)
	if !ok || strings.TrimSpace(perm.CompanyID) == "" || strings.TrimSpace(perm.StoreID) == "" {
		return domain.OperationContext{}, domain.ErrNoCompanyPermission
	}
	if device := DeviceFromContext(ctx); device != "" {
		deviceID = device
	}
	return domain.OperationContext{
		ActorID:   user.ID,
		CompanyID: perm.CompanyID,
		StoreID:   perm.StoreID,
		DeviceID:  deviceID,
	}, nil
}

// StaticProvider always answers with the same identity. Used for a single
// terminal running without an identity service.
type StaticProvider struct {
	User       User
	Permission Permission
}

func (p StaticProvider) CurrentUser(_ context.Context) (User, bool) {
	return p.User, p.User.ID != ""
}

func (p StaticProvider) CurrentPermission(_ context.Context) (Permission, bool) {
	return p.Permission, p.Permission.CompanyID != ""
}

type claimsKey struct{}

func WithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(Claims)
	return claims, ok
}

func DeviceFromContext(ctx context.Context) string {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return ""
	}
	return claims.DeviceID
}

// ContextProvider reads identity from verified token claims stored on the
// request context by the HTTP layer.
type ContextProvider struct{}

func (ContextProvider) CurrentUser(ctx context.Context) (User, bool) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok || claims.Subject == "" {
		return User{}, false
	}
	return User{ID: claims.Subject, Role: claims.Role}, true
}

func (ContextProvider) CurrentPermission(ctx context.Context) (Permission, bool) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok || claims.CompanyID == "" {
		return Permission{}, false
	}
	return Permission{CompanyID: claims.CompanyID, StoreID: claims.StoreID}, true
}
