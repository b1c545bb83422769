// Package websocket carries relay sessions over gorilla/websocket connections.
//
// Each connection gets a Conn, which implements domain.Peer for the registry
// and relay.MessageReader for the session loop. Writes go through a bounded
// queue drained by one writer goroutine per connection.
package websocket
