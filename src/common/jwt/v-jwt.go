package vxjwt

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt"
	vox_err "github.com/voxcord/voxcord/src/common/verrors"
	vxl "github.com/voxcord/voxcord/src/common/voxlog"
)

var pk = os.Getenv("vox_pk")

type CustomClaims struct {
	*jwt.StandardClaims
	UserID   string `json:"UserId"`
	DeviceID string `json:"DeviceId"`
}

// CreateToken mints a bearer token for a user+device pair. Used by the login
// surface and by tests; the realtime core itself only ever verifies.
func CreateToken(userId string, deviceId string) (string, error) {

	claims := &CustomClaims{
		StandardClaims: &jwt.StandardClaims{
			ExpiresAt: time.Now().Add(30 * time.Minute).Unix(),
			IssuedAt:  time.Now().Unix(),
			Issuer:    "voxcord.dev",
			Subject:   "vox-jwt-claims",
		},
		UserID:   userId,
		DeviceID: deviceId,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(pk))
	if err != nil {
		vxl.Stdout.Error(vxl.Id("vid/5f8d03e6ba17"), "error signing token:", err)
		return "", err
	}

	return tokenString, nil
}

// VerifyToken resolves a bearer credential to its claims. Verification is
// side-effect-free and idempotent; any failure maps to Unauthorized so the
// caller can treat the connection as unauthenticated instead of dropping it.
func VerifyToken(tokenString string) (*CustomClaims, error) {

	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(pk), nil
	})

	if err != nil {
		return nil, vox_err.Unauthorized("9a4e5bd801f3", "could not verify token: %v", err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, vox_err.Unauthorized("c61d70a2e84b", "invalid token or wrong claim types")
	}

	if claims.UserID == "" {
		return nil, vox_err.Unauthorized("208b6f3dc1e9", "token has no user id claim")
	}

	return claims, nil
}
