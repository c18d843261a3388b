// Package responsewriter provides an http.ResponseWriter that remembers the
// status code sent by the wrapped handler.
package responsewriter

import "net/http"

// Recorder wraps the response writer of the original *http.Request.
type Recorder struct {
	http.ResponseWriter

	status      int
	wroteHeader bool
}

// NewRecorder reports http.StatusOK until the handler writes a header.
func NewRecorder(w http.ResponseWriter) *Recorder {
	return &Recorder{
		ResponseWriter: w,
		status:         http.StatusOK,
	}
}

func (r *Recorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}

	r.ResponseWriter.WriteHeader(status)
}

func (r *Recorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

// Status is the status code sent to the client.
func (r *Recorder) Status() int {
	return r.status
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *Recorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
