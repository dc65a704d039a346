// Package connector implements the stateful endpoint abstraction that binds a
// device session to the platform.
//
// A connector is assembled from a transport Driver and one or more
// protocol adapters (see package types). Base provides the generic part:
//
//   - Connect establishes the session through the driver, initializes the
//     adapters' model access and registers the instance in a Registry.
//   - Disconnect unregisters, closes the session and stops all background
//     goroutines before returning. Connect may be called again afterwards.
//   - Dispose is terminal; every later call fails with errors.ErrDisposed.
//   - Write pushes platform input through the selected adapter to the device.
//   - Received data, whether polled, requested or pushed by the driver via
//     Trigger, flows through the adapter to the reception callback.
//
// Polling runs at the parameter's notification interval once notifications
// are disabled (EnableNotifications(false)) or polling is enabled explicitly.
//
// With WithIdleCleanup the connector additionally reclaims internal
// resources once per idle period: if neither a delivered read nor a Write or
// Request happened for that long, the model access is disposed (and the
// driver's ReleaseIdle is called). The next activity recreates the model
// access lazily. Cleanup and activity synchronize on one mutex, so a
// disposal never follows a timer reset of a concurrent caller.
//
// Connectors never retry. Errors are reported to the error hook (log,
// metrics, optional ErrorHandler) and returned to the caller.
package connector
