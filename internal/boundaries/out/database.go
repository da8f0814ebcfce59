package out

import (
	"context"
	"io"

	"github.com/bnema/stackops/internal/domain"
)

// ScratchRestore is the outcome of loading a dump into a throwaway
// database.
type ScratchRestore struct {
	Tables int
}

// Database defines the contract for database dump/restore operations
// against a target's database service. Adapters reach the process through
// the container runtime; the orchestrator never talks to it directly.
type Database interface {
	// DumpBinary streams a binary-format dump of the live database.
	DumpBinary(ctx context.Context, target domain.Instance) (io.ReadCloser, error)
	// DumpSQL streams a plain-text dump of the live database.
	DumpSQL(ctx context.Context, target domain.Instance) (io.ReadCloser, error)
	// RestoreBinary drops and recreates the target database, then loads
	// the binary dump.
	RestoreBinary(ctx context.Context, target domain.Instance, dump io.Reader) error
	// RestoreScratch loads the dump into a throwaway database, counts the
	// restored tables and discards it. Never touches live data.
	RestoreScratch(ctx context.Context, target domain.Instance, dump io.Reader) (ScratchRestore, error)
	// Query runs an ad-hoc statement and returns its output.
	Query(ctx context.Context, target domain.Instance, sql string) (string, error)
}
