package api

// Response is the envelope of every API answer: Data when Ok, the error
// fields otherwise.
type Response struct {
	Ok               bool        `json:"ok"`
	Data             interface{} `json:"data,omitempty"`
	ErrorCode        string      `json:"errorCode,omitempty"`
	ErrorDescription string      `json:"errorDescription,omitempty"`
}
