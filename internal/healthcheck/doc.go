// Package healthcheck implements periodic health checking for service
// instances. It probes each instance's health endpoint over HTTP and reports
// status flips to a StatusSetter such as the static discovery backend.
package healthcheck
