// Package relay wires client WebSocket channels to upstream inference
// sessions: the session registry, the enrichment throttle, and the event
// orchestration between them.
package relay
