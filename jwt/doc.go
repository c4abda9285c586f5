// Package jwt signs and verifies the token that carries an opaque session
// reference between requests.
package jwt
