package blob

import (
	"context"
	"errors"
	"io"

	"github.com/mbeoliero/annotator/domain/entity"
)

type RetrievalTier string

const (
	// TierExpedited is fast but capacity limited; initiation may be
	// refused outright, which is the restorer's fallback trigger.
	TierExpedited RetrievalTier = "Expedited"
	TierStandard  RetrievalTier = "Standard"
)

var (
	// ErrExpeditedUnavailable reports that an expedited retrieval could not
	// even be initiated. A successfully initiated but slow retrieval never
	// returns this.
	ErrExpeditedUnavailable = errors.New("blob: expedited retrieval capacity exhausted")

	ErrNotFound = errors.New("blob: object not found")
)

// Store is the two-tier object storage collaborator. Hot operations are
// synchronous. Cold retrieval is asynchronous: InitiateRetrieval only
// starts a retrieval job, and completion arrives later as a thaw
// notification carrying the correlator.
type Store interface {
	PutHot(ctx context.Context, loc entity.Location, r io.Reader) error
	GetHot(ctx context.Context, loc entity.Location) (io.ReadCloser, error)
	DeleteHot(ctx context.Context, loc entity.Location) error

	// PutCold archives the payload and returns its cold storage handle.
	PutCold(ctx context.Context, r io.Reader) (archiveId string, err error)

	// DeleteCold removes an archive. Deleting an absent archive is a no-op.
	DeleteCold(ctx context.Context, archiveId string) error

	// InitiateRetrieval starts an asynchronous retrieval of an archive and
	// returns the retrieval job id. The correlator is echoed back in the
	// completion notification's description field.
	InitiateRetrieval(ctx context.Context, archiveId string, tier RetrievalTier, correlator string) (retrievalJobId string, err error)

	// GetRetrievalOutput streams the payload of a finished retrieval job.
	GetRetrievalOutput(ctx context.Context, retrievalJobId string) (io.ReadCloser, error)

	// DeleteRetrieval discards a finished retrieval job once its output has
	// been consumed. Deleting an unknown retrieval is a no-op.
	DeleteRetrieval(ctx context.Context, retrievalJobId string) error
}
