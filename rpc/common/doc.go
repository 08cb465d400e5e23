// Package common provides the configuration and logging shared by the
// proxy packages.
//
// Key Components:
//
//   - ProxyConfig: all parameters of one proxy cluster, including the client
//     listener, socket options, the backend list with weights, hashing, timeouts,
//     health checks and rate limiting. Validate checks a config before use and
//     String renders it for the startup log.
//
//   - ParseBackends: parses "addr" and "addr=weight" backend entries.
//
//   - Logger: custom logging implementation that plugs into Dragonboat's
//     logger package, so every package can declare its own named logger with
//     logger.GetLogger and still share one format and level.
package common
