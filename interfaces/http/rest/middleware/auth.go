package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Cix-16/opencti/pkg/auth"
	"github.com/Cix-16/opencti/pkg/common"
	"github.com/Cix-16/opencti/pkg/errors"
)

// TokenValidator validates bearer tokens
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// AuthOptions are the collaborators shared by the auth middlewares.
type AuthOptions struct {
	Limiter           auth.RateLimiter
	RequestsPerMinute int
	Errors            *errors.ErrorHandler
	Logger            *zap.Logger
}

func (o AuthOptions) withDefaults() AuthOptions {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Errors == nil {
		o.Errors = errors.NewErrorHandler(o.Logger, false)
	}
	return o
}

// Authenticate validates the bearer token of every request, applies the
// per-user rate limit and stores the user in the request context.
func Authenticate(validator TokenValidator, opts AuthOptions) func(next http.Handler) http.Handler {
	opts = opts.withDefaults()
	errHandler, logger := opts.Errors, opts.Logger
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				errHandler.HandleError(w, r, errors.NewUnauthorizedError("missing authentication token"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.Info("invalid token",
					zap.Error(err),
					zap.String("path", r.URL.Path),
				)
				message := "invalid token"
				switch err {
				case auth.ErrExpiredToken:
					message = "token has expired"
				case auth.ErrInvalidSignature:
					message = "invalid token signature"
				}
				errHandler.HandleError(w, r, errors.NewUnauthorizedError(message))
				return
			}

			serveUser(w, r, next, auth.UserFromClaims(claims), opts)
		})
	}
}

// AuthenticateForLambda trusts the user headers set by the Lambda entrypoint
// after API Gateway's JWT authorizer accepted the request.
func AuthenticateForLambda(opts AuthOptions) func(next http.Handler) http.Handler {
	opts = opts.withDefaults()
	errHandler := opts.Errors
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Gateway-Authorized") != "true" {
				errHandler.HandleError(w, r, errors.NewUnauthorizedError("request not authorized by API Gateway"))
				return
			}
			userID := r.Header.Get("X-User-ID")
			if userID == "" {
				errHandler.HandleError(w, r, errors.NewUnauthorizedError("missing user context from API Gateway"))
				return
			}

			user := &auth.UserContext{
				UserID: userID,
				Email:  r.Header.Get("X-User-Email"),
				Name:   r.Header.Get("X-User-Name"),
			}
			if roles := r.Header.Get("X-User-Roles"); roles != "" {
				user.Roles = strings.Split(roles, ",")
			}
			serveUser(w, r, next, user, opts)
		})
	}
}

func serveUser(w http.ResponseWriter, r *http.Request, next http.Handler, user *auth.UserContext, opts AuthOptions) {
	if opts.Limiter != nil {
		allowed, err := opts.Limiter.Allow(r.Context(), user.UserID)
		if err != nil {
			opts.Logger.Warn("rate limiter error", zap.Error(err))
		}
		if !allowed {
			opts.Errors.HandleError(w, r, errors.NewRateLimitError(opts.RequestsPerMinute, "minute"))
			return
		}
	}

	recordUser(r.Context(), user.UserID)
	ctx := auth.SetUserInContext(r.Context(), user)
	ctx = common.WithUserID(ctx, user.UserID)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// extractToken reads the bearer token from the Authorization header. Browsers
// cannot set headers on websocket upgrades, so the "token" query parameter is
// accepted too.
func extractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
