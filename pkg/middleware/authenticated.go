package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"
)

const subjectKey = "subject"

// NewAuthenticatedMiddleware accepts requests bearing an HS256 token signed
// with secret. An empty secret disables the check.
func NewAuthenticatedMiddleware(secret string) gin.HandlerFunc {
	return authenticatedMiddleware{secret: []byte(secret)}.build()
}

type authenticatedMiddleware struct {
	secret []byte
}

func (a authenticatedMiddleware) build() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(a.secret) == 0 {
			c.Next()
			return
		}
		tokenString := getTokenFromRequest(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}
		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return a.secret, nil
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}
		if !claims.VerifyExpiresAt(time.Now().Unix(), false) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
			return
		}
		if sub, ok := claims["sub"].(string); ok {
			c.Set(subjectKey, sub)
		}
		c.Next()
	}
}

// Subject returns the token subject of an authenticated request.
func Subject(c *gin.Context) string {
	return c.GetString(subjectKey)
}

func getTokenFromRequest(c *gin.Context) string {
	reqToken := c.Request.Header.Get("Authorization")
	splitToken := strings.Split(reqToken, "Bearer ")
	if len(splitToken) == 2 {
		return splitToken[1]
	}
	return ""
}
