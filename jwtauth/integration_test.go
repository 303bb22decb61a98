package jwtauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func init() {
	// Set Gin to test mode to suppress logs
	gin.SetMode(gin.TestMode)
}

func newProtectedRouter(v *Verifier) *gin.Engine {
	router := gin.New()
	router.Use(JWTAuth(v))
	router.GET("/protected", func(c *gin.Context) {
		claims, _ := GetClaims(c.Request.Context())
		requestID, _ := GetRequestID(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"user_id": claims.Subject, "request_id": requestID})
	})
	return router
}

func TestGinMiddleware(t *testing.T) {
	key := mustGenerateRSAKey(t)
	v := mustVerifier(t, WithRS256(&key.PublicKey), WithCookie("launch_token"))
	router := newProtectedRouter(v)

	valid := mustSign(t, jwt.SigningMethodRS256, key, jwt.MapClaims{
		"sub": "user@example.com",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	expired := mustSign(t, jwt.SigningMethodRS256, key, jwt.MapClaims{
		"sub": "user@example.com",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	tests := []struct {
		name       string
		prepare    func(r *http.Request)
		wantStatus int
		wantReason string
	}{
		{
			name:       "bearer header",
			prepare:    func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+valid) },
			wantStatus: http.StatusOK,
		},
		{
			name:       "cookie fallback",
			prepare:    func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "launch_token", Value: valid}) },
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing token",
			prepare:    func(r *http.Request) {},
			wantStatus: http.StatusUnauthorized,
			wantReason: "MISSING_TOKEN",
		},
		{
			name:       "wrong scheme",
			prepare:    func(r *http.Request) { r.Header.Set("Authorization", "Basic "+valid) },
			wantStatus: http.StatusUnauthorized,
			wantReason: "MALFORMED",
		},
		{
			name:       "expired",
			prepare:    func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+expired) },
			wantStatus: http.StatusUnauthorized,
			wantReason: "EXPIRED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			tt.prepare(req)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
			var body map[string]interface{}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON body: %v", err)
			}
			if tt.wantReason != "" {
				if body["reason"] != tt.wantReason {
					t.Errorf("reason = %v, want %s", body["reason"], tt.wantReason)
				}
				if _, ok := body["message"]; ok {
					t.Errorf("message must not be exposed for %s", tt.wantReason)
				}
				return
			}
			if body["user_id"] != "user@example.com" {
				t.Errorf("user_id = %v", body["user_id"])
			}
			if body["request_id"] == "" {
				t.Error("request ID should be generated")
			}
		})
	}
}

func TestGinMiddlewarePropagatesRequestID(t *testing.T) {
	key := mustGenerateRSAKey(t)
	router := newProtectedRouter(mustVerifier(t, WithRS256(&key.PublicKey)))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+mustSign(t, jwt.SigningMethodRS256, key, jwt.MapClaims{"sub": "u"}))
	req.Header.Set(RequestIDHeader, "host-req-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["request_id"] != "host-req-1" {
		t.Errorf("request_id = %v, want host-req-1", body["request_id"])
	}
}

func TestBuildErrorResponseMessageField(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantMessage bool
	}{
		{name: "unsupported algorithm", err: NewValidationError(ErrUnsupportedAlgorithm, "algorithm ES256 not supported (available: RS256)", nil), wantMessage: true},
		{name: "malformed alg header", err: NewValidationError(ErrMalformedAlgorithmHeader, "algorithm header must be a string", nil), wantMessage: true},
		{name: "invalid signature", err: NewValidationError(ErrInvalidSignature, "signature verification failed", nil)},
		{name: "foreign error", err: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := buildErrorResponse(tt.err)
			if resp["error"] != "unauthorized" {
				t.Errorf("error = %v", resp["error"])
			}
			_, has := resp["message"]
			if has != tt.wantMessage {
				t.Errorf("message present = %v, want %v", has, tt.wantMessage)
			}
		})
	}
}

func TestUnaryServerInterceptor(t *testing.T) {
	key := mustGenerateRSAKey(t)
	interceptor := UnaryServerInterceptor(mustVerifier(t, WithRS256(&key.PublicKey)))
	valid := mustSign(t, jwt.SigningMethodRS256, key, jwt.MapClaims{"sub": "user@example.com"})

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		claims, ok := GetClaims(ctx)
		if !ok {
			t.Fatal("claims missing from handler context")
		}
		return claims.Subject, nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: "/feed.Feed/CreatePost"}

	tests := []struct {
		name     string
		ctx      context.Context
		wantCode codes.Code
		wantMsg  string
	}{
		{
			name:     "valid token",
			ctx:      metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+valid)),
			wantCode: codes.OK,
		},
		{
			name:     "no metadata",
			ctx:      context.Background(),
			wantCode: codes.Unauthenticated,
			wantMsg:  "MISSING_TOKEN",
		},
		{
			name:     "garbage token",
			ctx:      metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer abc")),
			wantCode: codes.Unauthenticated,
			wantMsg:  "MALFORMED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := interceptor(tt.ctx, nil, info, handler)
			if status.Code(err) != tt.wantCode {
				t.Fatalf("code = %v, want %v (%v)", status.Code(err), tt.wantCode, err)
			}
			if tt.wantCode == codes.OK {
				if resp != "user@example.com" {
					t.Errorf("resp = %v", resp)
				}
				return
			}
			if st, _ := status.FromError(err); st.Message() != tt.wantMsg {
				t.Errorf("message = %q, want %q", st.Message(), tt.wantMsg)
			}
		})
	}
}
