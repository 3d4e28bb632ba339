package remote

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/avbaker/shelfsync/internal/syncerrors"
)

// TokenProvider supplies a valid bearer token on demand. Refresh is the
// provider's job; the client only asks. An empty token is reported as
// ErrNoToken, which is terminal for the current sync attempt.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider returning a fixed token.
type StaticToken string

// Token implements TokenProvider.
func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", syncerrors.ErrNoToken
	}

	return string(t), nil
}

// fileTokenTTL is how long a token read from disk is reused before the
// file is consulted again. An external refresher rotates the file.
const fileTokenTTL = time.Minute

// FileToken reads the bearer token from a file, caching it briefly so
// hot sync loops do not hit the filesystem per request.
type FileToken struct {
	path string

	mu     sync.Mutex
	cached string
	readAt time.Time
}

// NewFileToken creates a FileToken for the given path.
func NewFileToken(path string) *FileToken {
	return &FileToken{path: path}
}

// Token implements TokenProvider.
func (f *FileToken) Token(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cached != "" && time.Since(f.readAt) < fileTokenTTL {
		return f.cached, nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", syncerrors.ErrNoToken)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", syncerrors.ErrNoToken
	}

	f.cached = token
	f.readAt = time.Now()

	return token, nil
}
