package jwtauth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the correlation ID between the host page and the mini-app.
const RequestIDHeader = "X-Request-ID"

// JWTAuth returns a Gin middleware that authenticates a bearer launch token
// with v and stores the verified claims in the request context.
func JWTAuth(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID, ok := GetRequestID(c.Request.Context())
		if !ok {
			requestID = c.GetHeader(RequestIDHeader)
		}
		if requestID == "" {
			requestID = uuid.New().String()
		}
		ctx := WithRequestID(c.Request.Context(), requestID)

		token, err := extractToken(c.Request, v.Config())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, buildErrorResponse(err))
			return
		}

		claims, err := v.Verify(ctx, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, buildErrorResponse(err))
			return
		}

		c.Request = c.Request.WithContext(WithClaims(ctx, claims))
		c.Next()
	}
}

// buildErrorResponse renders a failure; the message is only exposed for
// configuration-type problems that help the caller fix its token issuer.
func buildErrorResponse(err error) gin.H {
	response := gin.H{
		"error":  "unauthorized",
		"reason": ErrorCodeOf(err),
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		if valErr.Code == ErrUnsupportedAlgorithm || valErr.Code == ErrMalformedAlgorithmHeader {
			if valErr.Message != "" {
				response["message"] = valErr.Message
			}
		}
	}

	return response
}
