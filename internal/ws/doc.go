// Package ws streams fired alerts to WebSocket clients.
//
// Each client receives an EventRecent message with the latest alerts on
// connect, then one EventAlert message per alert as it fires. Clients whose
// buffer fills are disconnected rather than slowing the dispatcher.
package ws
