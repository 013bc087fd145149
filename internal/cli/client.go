package cli

import (
	"path/filepath"

	"github.com/google/uuid"

	"github.com/roach88/anvil/internal/compile"
)

// localClient is one CLI invocation acting as a build client. Every
// invocation gets a fresh UUIDv7 identity and its own classes area under
// the configured clients directory.
type localClient struct {
	id   string
	base string
}

func newLocalClient(clientsDir string) *localClient {
	return &localClient{
		id:   uuid.Must(uuid.NewV7()).String(),
		base: clientsDir,
	}
}

func (c *localClient) ID() string { return c.id }

func (c *localClient) UniqueClassesDirFor(p compile.Project) string {
	return filepath.Join(c.base, c.id, p.ID())
}
