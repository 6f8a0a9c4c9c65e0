package workflow

import "fmt"

// ConfigError reports an invalid client configuration. It is fatal at
// construction and never retried.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("workflow client config: %s", e.Reason)
}

// ConnectionError reports a transport-level failure reaching the engine.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("workflow engine connection failed (%s): %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError reports that a request to the engine timed out.
type TimeoutError struct {
	URL string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("workflow engine request timed out (%s)", e.URL)
}

// HTTPError reports a non-2xx response from the engine.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("workflow engine HTTP %d: %s", e.Status, e.Body)
}

// InvalidResponseError reports a response the client could not use.
type InvalidResponseError struct {
	Reason string
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("workflow engine invalid response: %s", e.Reason)
}
