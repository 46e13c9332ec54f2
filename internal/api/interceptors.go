package api

import (
	"context"

	"google.golang.org/grpc"
)

// ChainUnaryInterceptors runs interceptors in the given order, the first one
// outermost. Nil entries are skipped.
func ChainUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	active := make([]grpc.UnaryServerInterceptor, 0, len(interceptors))
	for _, ic := range interceptors {
		if ic != nil {
			active = append(active, ic)
		}
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		next := handler
		for i := len(active) - 1; i >= 0; i-- {
			ic, inner := active[i], next
			next = func(c context.Context, r any) (any, error) {
				return ic(c, r, info, inner)
			}
		}
		return next(ctx, req)
	}
}
