package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// BearerToken extracts the token from the request's Authorization header.
// Returns empty string if the header is absent or not a Bearer scheme.
func BearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// PaymentProofTx extracts an out-of-band payment proof from the X-Payment-Tx
// header: the hash of an already-verified transaction, usable in place of a
// bearer token.
func PaymentProofTx(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader("X-Payment-Tx"))
}
