package models

import (
	"encoding/json"
	"strings"
)

// Request is an HTTP intent carried by a queue entry.
type Request struct {
	Host       string            `json:"host"`
	Path       string            `json:"path"`
	Type       string            `json:"type"`
	Headers    map[string]string `json:"headers"`
	Serializer string            `json:"serializer"`
	Body       json.RawMessage   `json:"body,omitempty"`
}

// Method returns the HTTP method, defaulting to POST.
func (r Request) Method() string {
	m := strings.ToUpper(strings.TrimSpace(r.Type))
	if m == "" {
		return DefaultMethod
	}
	return m
}

// URL joins host and path. An empty host yields the bare path so callers can prefix a base URL.
func (r Request) URL() string {
	if r.Host == "" {
		return r.Path
	}
	if r.Path == "" {
		return r.Host
	}
	return strings.TrimRight(r.Host, "/") + "/" + strings.TrimLeft(r.Path, "/")
}

// SetHeader sets a header, allocating the map if needed.
func (r *Request) SetHeader(name, value string) {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[name] = value
}

// Clone returns a deep copy.
func (r Request) Clone() Request {
	out := r
	if r.Headers != nil {
		out.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			out.Headers[k] = v
		}
	}
	if r.Body != nil {
		out.Body = append(json.RawMessage(nil), r.Body...)
	}
	return out
}

// HTTPResponse is what the transport returns for a Request.
type HTTPResponse struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
	Error  string `json:"error,omitempty"`
}

// IsSuccess reports a 2xx status.
func (r HTTPResponse) IsSuccess() bool {
	return r.Status >= 200 && r.Status < 300
}

// IsNetworkError reports the transport failure sentinel.
func (r HTTPResponse) IsNetworkError() bool {
	return r.Status == StatusNetworkError
}
