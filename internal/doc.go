// Package internal contains the implementation packages of spadev.
//
// # Package Organization
//
//   - config: viper based configuration and package.json settings
//   - document: root document assembly from the HTML template
//   - manifest: the ordered list of build outputs to inject
//   - security: Content-Security-Policy loading and formatting
//   - upstream: the bundler dev server, as a process or a static directory
//   - watcher: debounced file system notifications for the static upstream
//   - assets: copying public files next to the build output
//   - proxy: the SPA fallback reverse proxy
//   - lifecycle: startup and shutdown ordering
//   - metrics: Prometheus instruments for the proxy
//   - logging, errors, version: shared plumbing
//
// # Request Flow
//
// The lifecycle assembles the root document once, starts the upstream and
// hands both to the proxy. Every request goes to the upstream; a 404 from
// it, or any request for the root path, is answered with the document.
// Rebuild notifications from the upstream are logged and counted but never
// change the document.
//
// # Shared State
//
// The document and the upstream target are immutable once the proxy is
// created, so request handling takes no locks.
package internal
