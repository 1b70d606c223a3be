// Package testutil contains helpers used across tests to reduce boilerplate
// when scripting model streams and asserting loop behavior. They are not
// intended for production usage.
package testutil
