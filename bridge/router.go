package bridge

import (
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	errspkg "github.com/drblury/relay/internal/runtime/errors"
)

// AddToRouter registers the ingester as a consumer handler on router, so the
// router owns the subscription lifecycle instead of Run. Panics in decoders
// are recovered by the router and the message is nacked.
//
// Once the broker has shut down the message that found it closed is nacked
// and the handler stops itself, leaving the message with the transport. The
// rest of the router keeps running.
func (i *Ingester) AddToRouter(router *message.Router, name string) *message.Handler {
	var (
		handler *message.Handler
		stop    sync.Once
	)
	handler = router.AddNoPublisherHandler(name, i.topic, i.subscriber, func(msg *message.Message) error {
		err := i.deliver(msg.Context(), msg)
		if errors.Is(err, errspkg.ErrBrokerShutdown) {
			stop.Do(func() {
				i.logger.Info("Broker shut down, stopping router handler", nil)
				handler.Stop()
			})
		}
		return err
	})
	handler.AddMiddleware(middleware.Recoverer)
	return handler
}
