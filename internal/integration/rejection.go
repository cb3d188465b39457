package integration

import (
	"crypto/subtle"
	"time"

	"github.com/org/integrationbroker/internal/token"
	"github.com/org/integrationbroker/pkg/models"
	"github.com/rs/zerolog"
)

// rejection records which authorize checks failed. It is logged and audited
// but never returned to the caller.
type rejection struct {
	Missing       bool
	HashMismatch  bool
	StateMismatch bool
	Expired       bool
}

// check evaluates every condition independently so all failures are reported.
func check(rec *models.AuthorizationRecord, secret []byte, state string, now time.Time) rejection {
	if rec == nil {
		return rejection{Missing: true}
	}
	return rejection{
		HashMismatch:  !token.VerifySecret(secret, rec.SecretHash),
		StateMismatch: subtle.ConstantTimeCompare([]byte(state), []byte(rec.State)) != 1,
		Expired:       rec.IsExpired(now),
	}
}

func (r rejection) rejected() bool {
	return r.Missing || r.HashMismatch || r.StateMismatch || r.Expired
}

func (r rejection) log(e *zerolog.Event) *zerolog.Event {
	return e.Bool("missing", r.Missing).
		Bool("hash_mismatch", r.HashMismatch).
		Bool("state_mismatch", r.StateMismatch).
		Bool("expired", r.Expired)
}

func (r rejection) detail() map[string]any {
	return map[string]any{
		"missing":        r.Missing,
		"hash_mismatch":  r.HashMismatch,
		"state_mismatch": r.StateMismatch,
		"expired":        r.Expired,
	}
}
