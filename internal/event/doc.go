// Package event provides a pub-sub event bus that decouples the session
// orchestrator from its presentation layers (terminal dashboard, MCP server,
// plain log output).
//
// # Main Types
//
//   - [Event]: interface providing EventType() and Timestamp()
//   - [Bus]: synchronous, thread-safe dispatcher
//   - [Handler]: func(Event)
//
// # Events
//
//   - [SessionChangedEvent]: a new session snapshot after any transition
//   - [AddressOpenedEvent]: the exactly-once "desktop is reachable" signal
//   - [ReadinessCheckedEvent]: outcome of one readiness check
//   - [ConfigReloadedEvent]: the configuration file was re-read
//
// # Usage
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeSessionChanged, func(e event.Event) {
//	    snap := e.(event.SessionChangedEvent).Snapshot
//	    fmt.Println(snap.State, snap.Status)
//	})
//
// Handlers run synchronously on the publisher's goroutine. The orchestrator
// publishes from its event loop, so handlers must hand work off rather than
// call back into the orchestrator.
package event
