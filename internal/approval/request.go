package approval

import (
	"fmt"
)

// Kind names the request variants on the wire.
type Kind string

const (
	KindConnect         Kind = "connect"
	KindSignTransaction Kind = "signTransaction"
	KindSignAndSend     Kind = "signAndSendTransaction"
	KindSignMessage     Kind = "signMessage"
)

// Request is one of Connect, SignTransaction, SignAndSend or SignMessage.
// The set is closed: only this package can add variants.
type Request interface {
	Kind() Kind
	isRequest()
}

type Connect struct {
	URL string `json:"url"`
}

// SignTransaction is the preview of a pending batch.
type SignTransaction struct {
	URL    string `json:"url"`
	Header string `json:"header"`
	// Message is the human readable summary, e.g. "send X to Y".
	Message string `json:"message"`
	// SerializedTxs are the unsigned transactions, for simulation.
	SerializedTxs [][]byte `json:"serializedTxs"`
	// SuppressWarnings hides balance-change warnings for internally
	// generated batches.
	SuppressWarnings bool `json:"suppressWarnings"`
}

type SignAndSend struct {
	SignTransaction
}

type SignMessage struct {
	URL     string `json:"url"`
	Header  string `json:"header"`
	Message []byte `json:"message"`
}

func (Connect) Kind() Kind         { return KindConnect }
func (SignTransaction) Kind() Kind { return KindSignTransaction }
func (SignAndSend) Kind() Kind     { return KindSignAndSend }
func (SignMessage) Kind() Kind     { return KindSignMessage }

func (Connect) isRequest()         {}
func (SignTransaction) isRequest() {}
func (SignAndSend) isRequest()     {}
func (SignMessage) isRequest()     {}

// Summary renders a one line description of the request for operators.
func Summary(r Request) string {
	switch req := r.(type) {
	case Connect:
		return fmt.Sprintf("connect %s", req.URL)
	case SignTransaction:
		return txSummary("sign", req)
	case SignAndSend:
		return txSummary("sign and send", req.SignTransaction)
	case SignMessage:
		return fmt.Sprintf("%s: sign message (%d bytes)", req.Header, len(req.Message))
	default:
		panic(fmt.Sprintf("approval: unknown request %T", r))
	}
}

func txSummary(verb string, req SignTransaction) string {
	noun := "transactions"
	if len(req.SerializedTxs) == 1 {
		noun = "transaction"
	}

	s := fmt.Sprintf("%s: %s %d %s", req.Header, verb, len(req.SerializedTxs), noun)
	if req.Message != "" {
		s += " - " + req.Message
	}

	return s
}
