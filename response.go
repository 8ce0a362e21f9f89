package htcore

// Response is an immutable head paired with a mutable body handle, per
// spec.md §3. Consuming Body drives the owning Conn's state machine.
type Response struct {
	Status       int
	ReasonPhrase string
	Headers      Headers
	Body         *ResponseBody
	Extensions   map[string]any
}

// ConnectionClose reports whether the response carries Connection: close.
func (r Response) ConnectionClose() bool { return r.Headers.HasConnectionClose() }
