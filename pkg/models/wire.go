// Package models defines the JSON envelopes exchanged with the browser
// client over the websocket and the wallet record shape shared across the
// gateway, resolver and relay.
package models

import "encoding/json"

// ProtocolVersion tags every envelope with the JSON-RPC-like convention
// in use.
const ProtocolVersion = "walletgate/1"

// Reserved server-push ids. Correlated responses reuse the client's id.
const (
	IDWelcome       = "welcome"
	IDWalletFound   = "wallet_found"
	IDWalletCreated = "wallet_created"
	IDError         = "error"
)

// Request is a client-to-server envelope.
type Request struct {
	V      string   `json:"v"`
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

// ServerMessage covers both unsolicited pushes and correlated responses.
type ServerMessage struct {
	V       string          `json:"v"`
	ID      string          `json:"id"`
	Message string          `json:"message,omitempty"`
	User    string          `json:"user,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// WalletInfo is the payload of wallet_found / wallet_created pushes.
type WalletInfo struct {
	WalletID string `json:"walletId"`
	Address  string `json:"address"`
	IsNew    bool   `json:"isNew"`
}

func Welcome(user string) ServerMessage {
	return ServerMessage{
		V:       ProtocolVersion,
		ID:      IDWelcome,
		Message: "authenticated",
		User:    user,
	}
}

func WalletNotice(info WalletInfo) ServerMessage {
	id := IDWalletFound
	if info.IsNew {
		id = IDWalletCreated
	}
	raw, _ := json.Marshal(info)
	return ServerMessage{V: ProtocolVersion, ID: id, Result: raw}
}

// ErrorNotice is an unsolicited error push (resolution failures, terminal
// identity errors).
func ErrorNotice(msg string) ServerMessage {
	return ServerMessage{V: ProtocolVersion, ID: IDError, Error: msg}
}

// Result builds a correlated success response.
func Result(id string, result interface{}) ServerMessage {
	raw, _ := json.Marshal(result)
	return ServerMessage{V: ProtocolVersion, ID: id, Result: raw}
}

// RequestError builds a correlated error response.
func RequestError(id, msg string) ServerMessage {
	return ServerMessage{V: ProtocolVersion, ID: id, Error: msg}
}
