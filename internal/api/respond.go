package api

import (
	"errors"
	"net/http"

	"whatsapp-automations/internal/apperr"

	"github.com/gin-gonic/gin"
)

// UserHeader carries the acting user until a session layer sits in front.
const UserHeader = "X-User-ID"

// RequireUser rejects requests without a user header.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(UserHeader) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + UserHeader + " header"})
			return
		}
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetHeader(UserHeader)
}

// respondError writes err with the status its type maps to. Validation
// errors carry their offending paths.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	body := gin.H{"error": err.Error()}
	var validationErr *apperr.ValidationError
	if errors.As(err, &validationErr) {
		body["fields"] = validationErr.Fields
	}
	c.JSON(status, body)
}
