package grpcx

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc/metadata"

	"github.com/glamdesk/salonbook/libs/httpx"
)

// RequestIDMetadataKey carries the request id in gRPC metadata. It is the
// lowercase form of httpx.RequestIDHeader, so a gateway can forward the HTTP
// header unchanged.
var RequestIDMetadataKey = strings.ToLower(httpx.RequestIDHeader)

// RequestIDFromContext returns the id stored by the request id interceptor.
// gRPC and HTTP handlers share one context key.
func RequestIDFromContext(ctx context.Context) string {
	return httpx.RequestIDFromContext(ctx)
}

// incomingRequestID returns the caller's id, or a new one when the caller
// sent none.
func incomingRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		for _, v := range md.Get(RequestIDMetadataKey) {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return uuid.NewString()
}
