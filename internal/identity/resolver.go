package identity

import (
	"github.com/google/uuid"
)

// DemoHandle is the placeholder identity used by unauthenticated demo
// listings. It maps to a fixed reserved owner key.
const DemoHandle = "demo-user"

// DemoOwnerKey is the canonical owner key reserved for the demo handle.
const DemoOwnerKey = "00000000-0000-0000-0000-000000000001"

// ownerNamespace scopes hash-derived owner keys to this service so they
// cannot collide with UUIDs minted from other inputs.
var ownerNamespace = uuid.MustParse("b1e4f9d2-7c35-4a8e-9f10-58c2d6a4e7b3")

// Resolve maps an arbitrary caller-supplied user identifier to a canonical
// owner key. The mapping is pure and total: the demo handle maps to the
// reserved key, a well-formed UUID maps to itself (normalized to lowercase),
// and anything else maps to a deterministic UUIDv5 of the input. Callers must
// use the same raw identifier at write and read time for lookups to match.
func Resolve(raw string) string {
	if raw == DemoHandle {
		return DemoOwnerKey
	}
	if id, err := uuid.Parse(raw); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(ownerNamespace, []byte(raw)).String()
}
