// Package ratelimit throttles login attempts per source address.
//
// The Limiter keeps an in-process map of recent failures and hard lockouts.
// That map is a fast path only: it is not shared between instances and is
// lost on restart. The authoritative signal is the persisted count of
// login_failed audit events, consulted through a FailureCounter on every
// Check that the local map does not already block. When that count cannot
// be read, Check reports the error in Decision.Err and callers refuse the
// attempt rather than fall back to the local map.
package ratelimit
