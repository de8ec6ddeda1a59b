package registry

import (
	"crypto/rand"

	"codeshare/pkg/types"
)

// generateCodeLocked samples the join-code alphabet and rejects
// collisions against active sessions. Callers must hold r.mu so the
// check-then-insert sequence stays atomic. With 36^6 possible codes
// the retry bound is a formality.
func (r *Registry) generateCodeLocked() (string, error) {
	for attempt := 0; attempt < r.codeAttempts; attempt++ {
		code, err := randomCode()
		if err != nil {
			return "", err
		}
		if _, taken := r.sessions[code]; !taken {
			return code, nil
		}
	}
	return "", types.ResourceExhaustedf("could not generate a unique session code after %d attempts", r.codeAttempts)
}

func randomCode() (string, error) {
	buf := make([]byte, types.CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = types.CodeAlphabet[int(b)%len(types.CodeAlphabet)]
	}
	return string(buf), nil
}
