package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const (
	ctxUserKey = "user"
	RoleAdmin  = "admin"
)

type Identity struct {
	UserID uint
	Email  string
	Role   string
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// SignToken issues an HS256 bearer token carrying user_id, email and role.
func SignToken(secret string, identity Identity, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id": identity.UserID,
		"email":   identity.Email,
		"role":    identity.Role,
		"exp":     time.Now().Add(ttl).Unix(),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}

func parseToken(secret, token string) (Identity, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("invalid claims")
	}

	userID, ok := claims["user_id"].(float64)
	if !ok || userID <= 0 {
		return Identity{}, fmt.Errorf("missing user_id claim")
	}
	email, _ := claims["email"].(string)
	role, _ := claims["role"].(string)

	return Identity{UserID: uint(userID), Email: email, Role: role}, nil
}

// AuthMiddleware requires a valid bearer token and stores the caller's Identity.
func AuthMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Please log in to continue.")
			}

			identity, err := parseToken(secret, token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Please log in to continue.")
			}

			c.Set(ctxUserKey, identity)
			return next(c)
		}
	}
}

func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity, ok := CurrentIdentity(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "User not found in context")
			}
			if !identity.IsAdmin() {
				return echo.NewHTTPError(http.StatusForbidden, "Admin access required")
			}
			return next(c)
		}
	}
}

func CurrentIdentity(c echo.Context) (Identity, bool) {
	identity, ok := c.Get(ctxUserKey).(Identity)
	return identity, ok
}
