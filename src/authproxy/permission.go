// Package authproxy implements the authenticating router that fronts the
// storage and execution services: per-listen-address authentication,
// instance-scoped backend routing, and the retry/timeout policies described
// in §4.4. It reuses grpcutil's status translation and the teacher's
// dial-options idiom (src/remote/dialparams.go, since deleted) for backend
// channels, but owns its own auth and routing tables since the teacher has
// no equivalent of a multi-tenant front door.
package authproxy

// Permission is one of the three audience tiers a credential can carry.
// The zero value is CacheRO, the lowest tier; use the named constants.
type Permission int

const (
	// CacheRO satisfies only Read.
	CacheRO Permission = iota
	// CacheRW satisfies Read and ReadWrite.
	CacheRW
	// Exec satisfies Read, ReadWrite, and Execute.
	Exec
)

// ParsePermission maps a JWT audience string (or auth-token mapping field)
// to a Permission. An unrecognised audience is reported as the zero value
// and ok=false so callers can ignore it rather than silently granting the
// lowest tier.
func ParsePermission(aud string) (Permission, bool) {
	switch aud {
	case "cache_ro":
		return CacheRO, true
	case "cache_rw":
		return CacheRW, true
	case "exec":
		return Exec, true
	default:
		return 0, false
	}
}

// Required is the permission tier a given RPC demands, per §4.4's table:
// CAS/AC reads need Read, CAS/ByteStream/AC writes need ReadWrite, and
// Execution/Bots/Operations need Execute.
type Required int

const (
	// Read is required by CAS/ByteStream reads and ActionCache.GetActionResult.
	Read Required = iota
	// ReadWrite is required by CAS/ByteStream writes and ActionCache.UpdateActionResult.
	ReadWrite
	// Execute is required by Execution, Bots, and Operations RPCs.
	Execute
)

// Satisfies reports whether a credential holding Permission p may perform
// an RPC requiring r, per the subsumption order: cache_ro ⊂ cache_rw ⊂ exec.
func (p Permission) Satisfies(r Required) bool {
	switch r {
	case Read:
		return true // all three tiers satisfy Read
	case ReadWrite:
		return p == CacheRW || p == Exec
	case Execute:
		return p == Exec
	default:
		return false
	}
}

// SatisfiesAny reports whether any of perms satisfies r, for JWTs carrying
// a multi-valued audience claim.
func SatisfiesAny(perms []Permission, r Required) bool {
	for _, p := range perms {
		if p.Satisfies(r) {
			return true
		}
	}
	return false
}
