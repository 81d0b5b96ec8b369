package relay

import (
	runtimepkg "github.com/drblury/relay/internal/runtime"
	configpkg "github.com/drblury/relay/internal/runtime/config"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	idspkg "github.com/drblury/relay/internal/runtime/ids"
	jsoncodec "github.com/drblury/relay/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
	metadatapkg "github.com/drblury/relay/internal/runtime/metadata"
	"github.com/drblury/relay/internal/runtime/registry"
)

type (
	Config             = configpkg.Config
	Broker             = runtimepkg.Broker
	BrokerDependencies = runtimepkg.BrokerDependencies
	Subscriber         = runtimepkg.Subscriber
	Envelope           = runtimepkg.Envelope
	Handler            = runtimepkg.Handler
	HandlerFunc        = runtimepkg.HandlerFunc
	Mode               = runtimepkg.Mode
	DestinationID      = runtimepkg.DestinationID
	Registry           = registry.Registry

	SubscriberInfo        = runtimepkg.SubscriberInfo
	StatsSnapshot         = runtimepkg.StatsSnapshot
	BrokerInfo            = runtimepkg.BrokerInfo
	BrokerMetricsSnapshot = runtimepkg.BrokerMetricsSnapshot
	ResourceUsage         = runtimepkg.ResourceUsage
	ErrorCategory         = runtimepkg.ErrorCategory

	// Delivery hooks
	DeliveryContext = runtimepkg.DeliveryContext
	DeliveryHooks   = runtimepkg.DeliveryHooks

	HandlerPanicError     = runtimepkg.HandlerPanicError
	ConfigValidationError = errspkg.ConfigValidationError

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger
)

// Delivery modes.
const (
	DirectUnsynced  = runtimepkg.DirectUnsynced
	DirectSynced    = runtimepkg.DirectSynced
	QueuedUnbounded = runtimepkg.QueuedUnbounded
	QueuedBounded   = runtimepkg.QueuedBounded
)

// Reserved destinations. Drop reaches nobody; Broadcast reaches every
// registered subscriber.
const (
	Drop          = runtimepkg.Drop
	Broadcast     = runtimepkg.Broadcast
	DropName      = registry.DropName
	BroadcastName = registry.BroadcastName
)

const (
	ErrorCategoryNone      = runtimepkg.ErrorCategoryNone
	ErrorCategoryHandler   = runtimepkg.ErrorCategoryHandler
	ErrorCategoryPanic     = runtimepkg.ErrorCategoryPanic
	ErrorCategoryCancelled = runtimepkg.ErrorCategoryCancelled
)

// Metadata keys written on bridged messages.
const (
	MetadataKeyDestination   = metadatapkg.KeyDestination
	MetadataKeyDestinationID = metadatapkg.KeyDestinationID
	MetadataKeySender        = metadatapkg.KeySender
	MetadataKeyPayloadType   = metadatapkg.KeyPayloadType
	MetadataKeyContentType   = metadatapkg.KeyContentType
	MetadataKeyForwardedAt   = metadatapkg.KeyForwardedAt
)

var (
	NewBroker       = runtimepkg.NewBroker
	TryNewBroker    = runtimepkg.TryNewBroker
	NewSubscriber   = runtimepkg.NewSubscriber
	NewEnvelope     = runtimepkg.NewEnvelope
	NewEnvelopeFrom = runtimepkg.NewEnvelopeFrom
	ParseMode       = runtimepkg.ParseMode

	DefaultConfig = configpkg.Default
	ConfigFromEnv = configpkg.FromEnv

	LoggingHooks  = runtimepkg.LoggingHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode

	ErrBrokerRequired          = errspkg.ErrBrokerRequired
	ErrBrokerShutdown          = errspkg.ErrBrokerShutdown
	ErrHandlerRequired         = errspkg.ErrHandlerRequired
	ErrSubscriberRequired      = errspkg.ErrSubscriberRequired
	ErrForeignSubscriber       = errspkg.ErrForeignSubscriber
	ErrSubscriberNameTaken     = errspkg.ErrSubscriberNameTaken
	ErrReservedName            = errspkg.ErrReservedName
	ErrReservedDestination     = errspkg.ErrReservedDestination
	ErrDestinationNameRequired = errspkg.ErrDestinationNameRequired
	ErrRegistryExhausted       = errspkg.ErrRegistryExhausted
	ErrInvalidMode             = errspkg.ErrInvalidMode
	ErrConfigRequired          = errspkg.ErrConfigRequired
	ErrLoggerRequired          = errspkg.ErrLoggerRequired
	ErrPublisherRequired       = errspkg.ErrPublisherRequired
	ErrTopicRequired           = errspkg.ErrTopicRequired
	ErrSourceRequired          = errspkg.ErrSourceRequired
	ErrShutdownTimeout         = errspkg.ErrShutdownTimeout

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NopServiceLogger          = loggingpkg.NopServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// PayloadAs returns the envelope payload as a T.
func PayloadAs[T any](env Envelope) (T, bool) {
	return runtimepkg.PayloadAs[T](env)
}
