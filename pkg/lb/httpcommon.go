package lb

import (
	"errors"
	"fmt"
)

var (
	httpBadRequest         = []byte("HTTP/1.0 400 Bad Request\r\n\r\nBad Request\r\n")
	httpBadGateway         = []byte("HTTP/1.0 502 Bad Gateway\r\n\r\nBad Gateway\r\n")
	httpServiceUnavailable = []byte("HTTP/1.0 503 Service Unavailable\r\n\r\nService Unavailable\r\n")
)

var (
	errHTTPInvalidRequest                 = newHTTPError("protocol", "invalid request")
	errHTTPMissingHost                    = newHTTPError("protocol", "missing host")
	errHTTPUnableToFindBackendServer      = wrapHTTPError("backend find", errFindBackendServer)
	errHTTPCouldNotConnectToBackendServer = wrapHTTPError("backend connect", errConnectBackendServer)
)

type httpError struct {
	Group string
	Err   error
}

func wrapHTTPError(group string, err error) error {
	return &httpError{
		Group: group,
		Err:   err,
	}
}

func newHTTPError(group string, str string) error {
	return &httpError{
		Group: group,
		Err:   errors.New(str),
	}
}

func (e *httpError) Error() string {
	if e.Group == "" {
		return fmt.Sprintf("%v", e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Group, e.Err)
}

func (e *httpError) Unwrap() error {
	return e.Err
}

// responseFor maps a connection failure to the canned response sent before
// closing. Failures after proxying started get no response.
func responseFor(err error) []byte {
	var he *httpError
	if !errors.As(err, &he) {
		return nil
	}
	switch he.Group {
	case "protocol":
		return httpBadRequest
	case "backend find":
		return httpServiceUnavailable
	case "backend connect":
		return httpBadGateway
	}
	return nil
}
