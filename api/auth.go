/*
auth.go - Bearer token authentication

PURPOSE:
  Turns the Authorization header into a leave.Actor on the request context.
  Handlers never see tokens; they read the actor with ActorFrom.

TOKEN FORMAT:
  HS256 JWT signed with the configured secret.
    sub   user id
    role  faculty | hod | principal | admin
    dept  department id (optional for principal/admin)
    exp   expiry (required)

  The role claim is trusted as issued. The department is only a fallback:
  the service prefers the directory's department when the user is known.

SEE ALSO:
  - server.go: Where the middleware is mounted
  - leave/router.go: What each role may do
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/leave-engine/leave"
)

type ctxKey string

const ctxKeyActor ctxKey = "actor"

// Claims is the JWT payload carried by every API call.
type Claims struct {
	Role string `json:"role"`
	Dept string `json:"dept,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs a token for actor. Used by the token command and tests.
func IssueToken(secret string, actor leave.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(actor.Role),
		Dept: actor.DepartmentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken verifies a token and returns the actor it names.
func ParseToken(secret, tokenString string) (leave.Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return leave.Actor{}, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return leave.Actor{}, errors.New("invalid token")
	}

	actor := leave.Actor{
		ID:           strings.TrimSpace(claims.Subject),
		Role:         leave.Role(claims.Role),
		DepartmentID: claims.Dept,
	}
	if actor.ID == "" {
		return leave.Actor{}, errors.New("token has no subject")
	}
	if !actor.Role.Valid() {
		return leave.Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	return actor, nil
}

// Authenticate rejects calls without a valid bearer token.
func Authenticate(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header", nil)
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeError(w, http.StatusUnauthorized, "invalid authorization header", nil)
				return
			}

			actor, err := ParseToken(secret, strings.TrimSpace(parts[1]))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token", err)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyActor, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFrom returns the authenticated actor of a request.
func ActorFrom(ctx context.Context) (leave.Actor, bool) {
	actor, ok := ctx.Value(ctxKeyActor).(leave.Actor)
	return actor, ok
}
