/*
Package event provides a type-safe pub/sub event system for the ZURK server.

The event system enables decoupled communication between the orchestrator,
the approval coordinator, and the transport layer: publishers emit events
and subscribers react to them without direct dependencies.

# Architecture

The package is built on top of watermill's gochannel for infrastructure
while keeping direct-call semantics to preserve type information. It
provides both synchronous and asynchronous publishing. The bus is a
regular value constructed with NewBus and passed to components; there is
no package-level singleton.

# Event Types

Session Events:
  - session.created: New session created
  - session.updated: Session modified
  - session.deleted: Session removed
  - session.status: Session status changed

Message Events:
  - message.created: New transcript message added

Approval Events:
  - approval.required: A tool call is waiting for a human decision
  - approval.processed: A pending approval was approved or denied

Preview Events:
  - preview.status: Dev server preview started, stopped, or failed

# Basic Usage

Publishing events:

	// Asynchronous publishing (non-blocking)
	bus.Publish(event.Event{
		Type:      event.SessionStatus,
		SessionID: session.ID,
		Data: event.SessionStatusData{
			SessionID: session.ID,
			Status:    session.Status,
		},
	})

	// Synchronous publishing (blocking until all subscribers complete)
	bus.PublishSync(event.Event{
		Type: event.MessageCreated,
		Data: event.MessageCreatedData{Info: message},
	})

Subscribing to one session's events (used by the streaming endpoints):

	unsubscribe := bus.SubscribeSession(sessionID, func(e event.Event) {
		select {
		case eventChan <- e:
		default:
			// Channel full, drop to avoid blocking the publisher.
		}
	})
	defer unsubscribe()

# Subscriber Safety Guidelines

When using PublishSync, subscribers run in the publisher's goroutine.
To avoid blocking or deadlocks, subscribers MUST:

  - Complete quickly (avoid long-running operations)
  - Use non-blocking channel sends (select with default case)
  - Never call Publish/PublishSync from within a subscriber
  - Never acquire locks that the publisher might hold

# Thread Safety

The event bus is thread-safe and can be used concurrently from multiple
goroutines.

# Integration with Watermill

The package uses watermill's gochannel internally; PubSub exposes the
underlying infrastructure so a distributed broker could replace it
without changing the API.
*/
package event
