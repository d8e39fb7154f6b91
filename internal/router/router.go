// Package router classifies inbound streaming frames and dispatches them to
// the merge pipelines. Malformed frames are logged and dropped; nothing in
// here may take down the connection.
package router

import (
	"errors"

	"go.uber.org/zap"
)

// Sink receives decoded events. The session layer implements it; tests
// substitute recorders.
type Sink interface {
	StatusArrived(collection string, ev UpdateEvent)
	StatusEdited(ev EditEvent)
	StatusDeleted(ev DeleteEvent)
	NotificationArrived(ev NotificationEvent)
	ConversationUpdated(ev ConversationEvent)
	FiltersChanged()
	RelationshipUpdated(ev RelationshipEvent)
	MarkersUpdated(ev MarkerEvent)
}

// Router routes raw frames from one stream to a sink.
type Router struct {
	sink   Sink
	logger *zap.Logger
}

func New(sink Sink, logger *zap.Logger) *Router {
	return &Router{sink: sink, logger: logger}
}

// Route parses and dispatches one raw frame for the collection the stream is
// bound to. Every recognized tag maps to exactly one sink method; unknown
// tags and parse failures are dropped after a debug log.
func (r *Router) Route(collection string, raw []byte) {
	frame, err := ParseFrame(raw)
	if err != nil {
		r.logger.Debug("dropping malformed frame",
			zap.String("collection", collection),
			zap.Error(err),
		)
		return
	}

	ev, err := Decode(frame)
	if err != nil {
		if errors.Is(err, ErrUnknownEvent) {
			r.logger.Debug("ignoring unrecognized event tag",
				zap.String("collection", collection),
				zap.String("event", frame.Event),
			)
		} else {
			r.logger.Debug("dropping undecodable payload",
				zap.String("collection", collection),
				zap.String("event", frame.Event),
				zap.Error(err),
			)
		}
		return
	}

	switch ev := ev.(type) {
	case UpdateEvent:
		r.sink.StatusArrived(collection, ev)
	case EditEvent:
		r.sink.StatusEdited(ev)
	case DeleteEvent:
		r.sink.StatusDeleted(ev)
	case NotificationEvent:
		r.sink.NotificationArrived(ev)
	case ConversationEvent:
		r.sink.ConversationUpdated(ev)
	case FiltersChangedEvent:
		r.sink.FiltersChanged()
	case RelationshipEvent:
		r.sink.RelationshipUpdated(ev)
	case MarkerEvent:
		r.sink.MarkersUpdated(ev)
	}
}
