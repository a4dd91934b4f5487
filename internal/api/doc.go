// Package api exposes the chat service over HTTP.
//
// POST /api/chat accepts a multipart form (message, optional
// conversationId, exchangeId, and file) and replies with the completed
// exchange once generation finishes. Clients that want live output
// subscribe on GET /ws?exchangeId=... before submitting; every generation
// chunk for that exchange is forwarded over the WebSocket, ending with a
// single terminal event.
//
// The remaining endpoints manage stored state: conversation listing,
// message history, rename, delete, clearing history, and the global
// system instruction.
package api
