// Package logging wires go.uber.org/zap behind the go-logr/logr interface,
// the same pairing the teacher project uses (zap as the sink, logr as the
// call-site API, threaded through context.Context). This package stands in
// for the teacher's dependency on sigs.k8s.io/controller-runtime/pkg/log,
// which pulls in a full Kubernetes manager stack this standalone core has no
// use for (see DESIGN.md).
package logging

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

type ctxKey struct{}

// New builds a logr.Logger backed by a production zap.Logger, named root.
func New(root string, development bool) (logr.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	zl, err := cfg.Build()
	if err != nil {
		return logr.Logger{}, err
	}
	return zapr.NewLogger(zl).WithName(root), nil
}

// IntoContext attaches a logger to ctx, mirroring log.IntoContext's role in
// the teacher's command-invocation call chain.
func IntoContext(ctx context.Context, l logr.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger previously attached with IntoContext, or a
// discard logger if none was attached.
func FromContext(ctx context.Context) logr.Logger {
	if l, ok := ctx.Value(ctxKey{}).(logr.Logger); ok {
		return l
	}
	return logr.Discard()
}
