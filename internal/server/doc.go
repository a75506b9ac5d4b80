// Package server implements the core HTTP and WebSocket server functionality for RoomChat.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, event routing, and HTTP handlers to keep the
// codebase maintainable and testable as the project grows.
package server
