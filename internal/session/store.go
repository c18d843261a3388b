package session

import (
	"context"
	"slices"
	"time"

	"github.com/yogamat/auth-session/internal/pkce"
)

// DefaultTTL is the lifetime of a session counted from its last write.
const DefaultTTL = 2 * time.Hour

// Handle is the opaque identifier of a session.
type Handle string

// Field names a value held by a session.
type Field string

const (
	FieldStateValue   Field = "state_value"
	FieldCodeVerifier Field = "code_verifier"
	FieldIdentity     Field = "identity"
)

// Fields lists every field a session can hold.
var Fields = []Field{FieldStateValue, FieldCodeVerifier, FieldIdentity}

// Values maps fields to their values. An absent key is an unset field.
type Values map[Field]string

// Record is the full content of a session.
type Record struct {
	Handle    Handle
	Values    Values
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store keeps sessions keyed by their handle. Every write moves the expiry of
// the session to now plus the store TTL. Operations on an unknown or expired
// session fail with serviceerr.ErrSessionNotFound, and failures of the backing
// medium are reported with serviceerr.ErrStoreUnavailable.
type Store interface {
	// Create starts a new empty session.
	Create(ctx context.Context) (Handle, error)
	// Get reads a single field.
	Get(ctx context.Context, h Handle, field Field) (string, bool, error)
	// Set writes all given fields as one unit.
	Set(ctx context.Context, h Handle, values Values) error
	// Clear removes all given fields as one unit.
	Clear(ctx context.Context, h Handle, fields ...Field) error
	// Take reads and removes the given fields in one atomic step. Fields that
	// are not set are absent from the result.
	Take(ctx context.Context, h Handle, fields ...Field) (Values, error)
	// Load reads the whole session.
	Load(ctx context.Context, h Handle) (Record, error)
	// Destroy removes the session. Destroying an unknown session succeeds.
	Destroy(ctx context.Context, h Handle) error
}

// NewHandle generates a fresh session handle.
func NewHandle() (Handle, error) {
	id, err := pkce.Source{}.SessionID()
	if err != nil {
		return "", err
	}

	return Handle(id), nil
}

// IsKnownField reports whether f is one of Fields.
func IsKnownField(f Field) bool {
	return slices.Contains(Fields, f)
}
