// Package errors provides the error classification used by every OSCRouter
// worker.
//
// # Classification
//
// Errors are classified into three buckets:
//
//   - Transient: connect-in-progress, connect-failed, send-failed, recv-timeout.
//     The worker's own reconnect loop paces retries; nothing escalates.
//   - Invalid: bad route/endpoint configuration or malformed packet data. The
//     packet or route is dropped, optionally with a WARNING log line.
//   - Fatal: setup failures that prevent a component from running at all,
//     e.g. Supervisor.Start failing to enumerate local interfaces.
//
// # Usage
//
//	if err := conn.dial(); err != nil {
//	    return errors.WrapTransient(err, "TCPClient", "dial", "connect")
//	}
//
//	if errors.IsTransient(err) {
//	    // reconnect loop handles it; just log and continue
//	}
//
// ClassifiedError participates in errors.Is/As chains like any wrapped error.
package errors
