// Package traccar implements the network boundary: a REST client for pull
// fetches, a websocket push channel with reconnect, and the typed message
// representation constructed from wire payloads. Components further in never
// inspect loosely-typed maps.
package traccar
