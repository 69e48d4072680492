// Package common contains shared constants and sentinel errors used across
// tgfleet components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on control API requests.
const AccessTokenHeaderName = "access_token"
