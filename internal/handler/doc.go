// Package handler implements the gateway's HTTP front door and its admin
// endpoints. The front door maps a path prefix to a service name, forwards
// the request through the proxy and translates failures into HTTP statuses.
package handler
