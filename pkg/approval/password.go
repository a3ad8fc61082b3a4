package approval

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodian-labs/custodian/pkg/contracts"
)

var sha256HexRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// VerifyPassword checks the supplied password against the SHA-256 hash held
// in the workflow's configured environment variable and, on success, mints a
// short-lived execution grant. The grant token is returned to the caller and
// never persisted; only its ID and expiry land in the state.
func (w *Workflow) VerifyPassword(st *contracts.ApprovalState, password string) (string, error) {
	if !st.Password.Required {
		return "", fmt.Errorf("%w: workflow does not require a password", contracts.ErrApprovalBlocked)
	}
	expected, err := w.expectedHash(st.Password.HashEnv)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(password))
	got := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
		return "", fmt.Errorf("%w: password authorization failed", contracts.ErrApprovalBlocked)
	}

	now := w.clock()
	ttl := st.Password.TTLSeconds
	if ttl <= 0 {
		ttl = 300
	}
	expires := now.Add(time.Duration(ttl) * time.Second)
	grantID := "grant-" + w.newID()

	claims := jwt.RegisteredClaims{
		ID:        grantID,
		Subject:   st.WorkflowID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(expected))
	if err != nil {
		return "", fmt.Errorf("%w: sign grant: %v", contracts.ErrConfig, err)
	}

	st.Password.VerifiedAt = contracts.Timestamp(now)
	st.Grant = &contracts.GrantRecord{
		GrantID:   grantID,
		IssuedAt:  contracts.Timestamp(now),
		ExpiresAt: contracts.Timestamp(expires),
	}
	st.UpdatedAt = contracts.Timestamp(now)
	return token, nil
}

// checkGrant validates an execution grant token against the recorded grant.
func (w *Workflow) checkGrant(st *contracts.ApprovalState, token string) error {
	if st.Grant == nil {
		return fmt.Errorf("password has not been verified")
	}
	if token == "" {
		return fmt.Errorf("execution grant token is required")
	}
	expected, err := w.expectedHash(st.Password.HashEnv)
	if err != nil {
		return err
	}

	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(expected), nil
	}, jwt.WithTimeFunc(w.clock))
	if err != nil {
		return fmt.Errorf("grant token invalid: %v", err)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return fmt.Errorf("grant token carries unexpected claims")
	}
	if claims.ID != st.Grant.GrantID {
		return fmt.Errorf("grant token does not match the recorded grant")
	}
	if claims.Subject != st.WorkflowID {
		return fmt.Errorf("grant token was issued for another workflow")
	}
	return nil
}

// expectedHash resolves the expected password hash, preferring a direct
// override and falling back to the configured environment variable. Either
// way it insists on a lowercase 64-character SHA-256 hex digest.
func (w *Workflow) expectedHash(envName string) (string, error) {
	if w.hashOver != "" {
		if !sha256HexRe.MatchString(w.hashOver) {
			return "", fmt.Errorf("%w: password hash override must be a lowercase sha256 hex digest", contracts.ErrConfig)
		}
		return w.hashOver, nil
	}
	if envName == "" {
		return "", fmt.Errorf("%w: password hash environment variable is not configured", contracts.ErrConfig)
	}
	v := os.Getenv(envName)
	if v == "" {
		return "", fmt.Errorf("%w: environment variable %s is not set", contracts.ErrConfig, envName)
	}
	if !sha256HexRe.MatchString(v) {
		return "", fmt.Errorf("%w: %s must hold a lowercase sha256 hex digest", contracts.ErrConfig, envName)
	}
	return v, nil
}
