package hostfunc

// HTTPResponse is the outcome of an outbound request.
type HTTPResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers,omitempty"`

	// Truncated is set when the body was cut at the configured limit.
	Truncated bool `json:"truncated,omitempty"`
}

// OK reports whether the status is below 400.
func (r HTTPResponse) OK() bool {
	return r.Status < 400
}

// Map converts the response to the value handed to lesson code.
func (r HTTPResponse) Map() map[string]any {
	headers := make(map[string]any, len(r.Headers))
	for k, v := range r.Headers {
		headers[k] = v
	}
	return map[string]any{
		"status":    r.Status,
		"body":      r.Body,
		"headers":   headers,
		"truncated": r.Truncated,
	}
}

// FSEntry is one directory listing entry.
type FSEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}
