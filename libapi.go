package cmdflow

import (
	runtimepkg "github.com/drblury/cmdflow/internal/runtime"
	configpkg "github.com/drblury/cmdflow/internal/runtime/config"
	"github.com/drblury/cmdflow/internal/runtime/diagnostics"
	"github.com/drblury/cmdflow/internal/runtime/engine"
	errspkg "github.com/drblury/cmdflow/internal/runtime/errors"
	jsoncodec "github.com/drblury/cmdflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/cmdflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/cmdflow/internal/runtime/metadata"
	"github.com/drblury/cmdflow/internal/runtime/state"
	transportpkg "github.com/drblury/cmdflow/internal/runtime/transport"
	newtransport "github.com/drblury/cmdflow/transport"
)

type (
	Config             = configpkg.Config
	Client             = runtimepkg.Client
	ClientDependencies = runtimepkg.ClientDependencies
	Transport          = transportpkg.Transport
	TransportFactory   = transportpkg.Factory

	SendOptions        = runtimepkg.SendOptions
	SubscribeOptions   = runtimepkg.SubscribeOptions
	UnsubscribeOptions = runtimepkg.UnsubscribeOptions
	ReceiveOptions     = runtimepkg.ReceiveOptions

	// Lower-level dispatcher access for custom protocol engines.
	Dispatcher             = runtimepkg.Dispatcher
	DispatcherDependencies = runtimepkg.DispatcherDependencies
	Request                = runtimepkg.Request
	Result                 = runtimepkg.Result
	Operation              = runtimepkg.Operation
	SendOperation          = runtimepkg.SendOperation
	SubscribeOperation     = runtimepkg.SubscribeOperation
	UnsubscribeOperation   = runtimepkg.UnsubscribeOperation
	ReceiveOperation       = runtimepkg.ReceiveOperation
	Engine                 = engine.Engine
	Link                   = engine.Link

	Message       = engine.Message
	Delivery      = engine.Delivery
	Destination   = engine.Destination
	QoS           = engine.QoS
	TrackerStatus = engine.TrackerStatus
	Metadata      = metadatapkg.Metadata

	ConnectionState = state.State
	StateCell       = state.Cell

	RequestContext = runtimepkg.RequestContext
	RequestHooks   = runtimepkg.RequestHooks

	Metrics         = runtimepkg.Metrics
	MetricsSnapshot = runtimepkg.MetricsSnapshot

	DiagnosticsRecord   = diagnostics.Record
	DiagnosticsReporter = diagnostics.Reporter

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	NetworkError          = errspkg.NetworkError
	ProtocolStateError    = errspkg.ProtocolStateError
	ValidationError       = errspkg.ValidationError
	InternalError         = errspkg.InternalError
	TimeoutError          = errspkg.TimeoutError
	StoppedError          = errspkg.StoppedError
	SecurityError         = errspkg.SecurityError
	SubscribedError       = errspkg.SubscribedError
	UnsubscribedError     = errspkg.UnsubscribedError
	UnsupportedError      = errspkg.UnsupportedError
	ConfigValidationError = errspkg.ConfigValidationError

	// Transport registry
	Capabilities     = newtransport.Capabilities
	TransportBuilder = newtransport.Builder
	TransportConfig  = newtransport.Config
)

const (
	AtMostOnce  = engine.AtMostOnce
	AtLeastOnce = engine.AtLeastOnce

	StateStarting = state.Starting
	StateStarted  = state.Started
	StateRetrying = state.Retrying
	StateStopped  = state.Stopped
)

var (
	NewClientFromConfig = runtimepkg.NewClientFromConfig
	NewClient           = runtimepkg.NewClient
	NewDispatcher       = runtimepkg.NewDispatcher
	NewRequest          = runtimepkg.NewRequest
	NewStateCell        = state.NewCell
	ValidateConfig      = configpkg.ValidateConfig
	LoadConfig          = configpkg.Load

	NewMessage      = engine.NewMessage
	NewJSONMessage  = engine.NewJSONMessage
	NewProtoMessage = engine.NewProtoMessage
	NewMetadata     = metadatapkg.New

	LoggingHooks  = runtimepkg.LoggingHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks
	NewMetrics    = runtimepkg.NewMetrics

	GetCapabilities   = newtransport.GetCapabilities
	RegisterTransport = newtransport.Register
	TransportNames    = transportpkg.Names

	ErrStopped           = errspkg.ErrStopped
	ErrTimeout           = errspkg.ErrTimeout
	ErrForcedTermination = errspkg.ErrForcedTermination
	ErrTopicRequired     = errspkg.ErrTopicRequired
	ErrMessageRequired   = errspkg.ErrMessageRequired
	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrLoggerRequired    = errspkg.ErrLoggerRequired
	IsRetryable          = errspkg.IsRetryable

	NewSlogServiceLogger    = loggingpkg.NewSlogServiceLogger
	NewZerologServiceLogger = loggingpkg.NewZerologServiceLogger
	NopLogger               = loggingpkg.NopLogger

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
)
