// Package redis announces live relay channels in Redis.
//
// Redis is optional and advisory: it never carries media, and every call goes
// through a failsafe-go circuit breaker so an unhealthy Redis cannot slow the relay.
package redis
