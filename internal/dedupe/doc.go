// Package dedupe remembers recently seen keys so repeated deliveries can be
// dropped. The cache is generic over its key type, bounded by both a TTL and
// a maximum size, and safe for concurrent use.
package dedupe
