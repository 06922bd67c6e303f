package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/idcstack/idc-control-plane/internal/apperr"
	"github.com/idcstack/idc-control-plane/internal/model"
)

type contextKey string

const identityKey contextKey = "identity"

type Claims struct {
	UserID   string     `json:"uid"`
	Username string     `json:"usr,omitempty"`
	Role     model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller as seen by handlers.
type Identity struct {
	UserID   string     `json:"id"`
	Username string     `json:"username"`
	Role     model.Role `json:"role"`
}

func (i Identity) IsAdmin() bool { return i.Role == model.RoleAdmin }

type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue signs an HS256 token for id that expires after the issuer's TTL.
func (i *Issuer) Issue(id Identity) (string, time.Time, error) {
	if id.UserID == "" {
		return "", time.Time{}, apperr.New(apperr.CodeInvalidInput, "user id is required")
	}
	if id.Role == "" {
		id.Role = model.RoleUser
	}
	now := i.now().UTC()
	exp := now.Add(i.ttl)
	claims := Claims{
		UserID:   id.UserID,
		Username: id.Username,
		Role:     id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier checks the issuer claim only when issuer is non-empty.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

func (v *Verifier) Verify(raw string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Identity{}, apperr.Wrap(err, apperr.CodeUnauthorized, "invalid token")
	}
	if claims.UserID == "" {
		return Identity{}, apperr.New(apperr.CodeUnauthorized, "invalid token")
	}
	role := claims.Role
	if role != model.RoleAdmin {
		role = model.RoleUser
	}
	return Identity{UserID: claims.UserID, Username: claims.Username, Role: role}, nil
}

func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
				deny(w, http.StatusUnauthorized, apperr.CodeUnauthorized, "missing bearer token")
				return
			}

			id, err := v.Verify(strings.TrimSpace(strings.TrimPrefix(authz, "Bearer ")))
			if err != nil {
				deny(w, http.StatusUnauthorized, apperr.CodeUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireAdmin must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			deny(w, http.StatusUnauthorized, apperr.CodeUnauthorized, "missing identity")
			return
		}
		if !id.IsAdmin() {
			deny(w, http.StatusForbidden, apperr.CodeForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func deny(w http.ResponseWriter, status int, code apperr.Code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"success":false,"code":"` + string(code) + `","message":"` + msg + `"}`))
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok && id.UserID != ""
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := IdentityFromContext(ctx)
	return id.UserID, ok
}
