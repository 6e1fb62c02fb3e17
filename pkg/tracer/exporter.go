package tracer

import (
	"context"

	"github.com/pkg/errors"
	"github.com/stleox/seetrace/pkg/config"
	attr "go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktr "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
)

const (
	ExporterStdout = "stdout"
	ExporterGRPC   = "grpc"
	ExporterTree   = "tree"
	ExporterNone   = "none"
)

var ErrUnknownExporter = errors.New("unknown exporter")

// InitExporter sets up the tracer provider for the configured exporter kind.
func (rm *ReplayManager) InitExporter(ctx context.Context, kind string) (func(context.Context) error, error) {
	switch kind {
	case "", ExporterStdout:
		return rm.InitStdoutExporter()
	case ExporterGRPC:
		endpoint := config.DefaultOTLPEndpoint
		if rm.vp != nil && rm.vp.GetString("otlp-endpoint") != "" {
			endpoint = rm.vp.GetString("otlp-endpoint")
		}
		return rm.InitGRPCExporter(ctx, endpoint)
	case ExporterTree:
		rm.mu.Lock()
		rm.recorder = NewRecorder()
		rm.mu.Unlock()
		return rm.InitDummyExporter()
	case ExporterNone:
		return rm.InitDummyExporter()
	default:
		return nil, errors.Wrapf(ErrUnknownExporter, "%q", kind)
	}
}

func (rm *ReplayManager) InitGRPCExporter(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(config.TracerName+"/"+config.TracerVersion)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating gRPC exporter")
	}

	tp := sdktr.NewTracerProvider(
		sdktr.WithBatcher(exporter),
		sdktr.WithResource(rm.resource()))

	return rm.setProvider(tp), nil
}

func (rm *ReplayManager) InitStdoutExporter() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, errors.Wrap(err, "creating stdout exporter")
	}

	tp := sdktr.NewTracerProvider(
		sdktr.WithBatcher(exporter),
		sdktr.WithResource(rm.resource()))

	return rm.setProvider(tp), nil
}

// InitDummyExporter keeps spans in the process only, for testing and for the tree printer.
func (rm *ReplayManager) InitDummyExporter() (func(context.Context) error, error) {
	return rm.setProvider(rm.newDummyProvider()), nil
}

func (rm *ReplayManager) newDummyProvider() *sdktr.TracerProvider {
	return sdktr.NewTracerProvider(
		sdktr.WithResource(resource.NewSchemaless(
			attr.String("service.name", rm.serviceName()),
			attr.Bool("debug", true))),
	)
}

func (rm *ReplayManager) setProvider(tp *sdktr.TracerProvider) func(context.Context) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.tracerProvider = tp
	return tp.Shutdown
}

func (rm *ReplayManager) resource() *resource.Resource {
	return resource.NewSchemaless(attr.String("service.name", rm.serviceName()))
}

func (rm *ReplayManager) serviceName() string {
	if rm.vp != nil && rm.vp.GetString("service-name") != "" {
		return rm.vp.GetString("service-name")
	}
	return config.NameService
}
