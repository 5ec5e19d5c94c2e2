package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbeoliero/annotator/domain/entity"
	"github.com/mbeoliero/annotator/infra/config"
	"github.com/mbeoliero/annotator/internal/notify"
	"github.com/mbeoliero/annotator/pkg/id_gen"
	"github.com/mbeoliero/annotator/pkg/log"
)

const retrievalDirName = ".retrievals"

// FSStore is a filesystem-backed Store. Hot buckets are directories under
// HotDir; cold archives are flat files under ColdDir keyed by generated
// handles. Retrieval jobs complete after a tier-dependent delay and leave a
// marker file mapping the retrieval id to its archive, then publish a thaw
// notification.
type FSStore struct {
	cfg       config.StorageConfig
	pub       notify.Publisher
	thawTopic string

	expedited chan struct{} // expedited retrieval capacity slots
	wg        sync.WaitGroup
}

func NewFSStore(cfg config.StorageConfig, pub notify.Publisher, thawTopic string) (*FSStore, error) {
	for _, dir := range []string{cfg.HotDir, cfg.ColdDir, filepath.Join(cfg.ColdDir, retrievalDirName)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return &FSStore{
		cfg:       cfg,
		pub:       pub,
		thawTopic: thawTopic,
		expedited: make(chan struct{}, cfg.ExpeditedSlots),
	}, nil
}

func (s *FSStore) hotPath(loc entity.Location) string {
	return filepath.Join(s.cfg.HotDir, loc.Bucket, filepath.FromSlash(loc.Key))
}

func (s *FSStore) coldPath(archiveId string) string {
	return filepath.Join(s.cfg.ColdDir, archiveId)
}

func (s *FSStore) retrievalPath(retrievalJobId string) string {
	return filepath.Join(s.cfg.ColdDir, retrievalDirName, retrievalJobId)
}

func (s *FSStore) PutHot(ctx context.Context, loc entity.Location, r io.Reader) error {
	path := s.hotPath(loc)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err = io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *FSStore) GetHot(ctx context.Context, loc entity.Location) (io.ReadCloser, error) {
	f, err := os.Open(s.hotPath(loc))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: hot %s/%s", ErrNotFound, loc.Bucket, loc.Key)
	}
	return f, err
}

func (s *FSStore) DeleteHot(ctx context.Context, loc entity.Location) error {
	err := os.Remove(s.hotPath(loc))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FSStore) PutCold(ctx context.Context, r io.Reader) (string, error) {
	archiveId := uuid.New().String()
	f, err := os.Create(s.coldPath(archiveId))
	if err != nil {
		return "", err
	}
	if _, err = io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(s.coldPath(archiveId))
		return "", err
	}
	if err = f.Close(); err != nil {
		return "", err
	}
	return archiveId, nil
}

func (s *FSStore) DeleteCold(ctx context.Context, archiveId string) error {
	err := os.Remove(s.coldPath(archiveId))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FSStore) InitiateRetrieval(ctx context.Context, archiveId string, tier RetrievalTier, correlator string) (string, error) {
	if _, err := os.Stat(s.coldPath(archiveId)); os.IsNotExist(err) {
		return "", fmt.Errorf("%w: archive %s", ErrNotFound, archiveId)
	}

	delay := s.cfg.StandardDelay
	release := func() {}
	if tier == TierExpedited {
		select {
		case s.expedited <- struct{}{}:
			release = func() { <-s.expedited }
		default:
			return "", ErrExpeditedUnavailable
		}
		delay = s.cfg.ExpeditedDelay
	}

	id, err := id_gen.NextId(ctx)
	if err != nil {
		release()
		return "", err
	}
	retrievalJobId := strconv.FormatInt(id, 10)

	s.wg.Add(1)
	go s.completeRetrieval(retrievalJobId, archiveId, correlator, delay, release)

	return retrievalJobId, nil
}

// completeRetrieval simulates the tier latency, marks the retrieval ready,
// and notifies the thaw topic. The marker write precedes the publish so a
// consumer never sees a notification for an unreadable retrieval.
func (s *FSStore) completeRetrieval(retrievalJobId, archiveId, correlator string, delay time.Duration, release func()) {
	defer s.wg.Done()
	defer release()
	defer func() {
		if r := recover(); r != nil {
			log.Error("retrieval completion panic, retrieval: %s, err: %v", retrievalJobId, r)
		}
	}()

	time.Sleep(delay)

	ctx := context.TODO()
	if err := os.WriteFile(s.retrievalPath(retrievalJobId), []byte(archiveId), 0644); err != nil {
		log.CtxError(ctx, "failed to mark retrieval ready, retrieval: %s, err: %v", retrievalJobId, err)
		return
	}

	n := &entity.ThawNotification{
		RetrievalJobId: retrievalJobId,
		ArchiveId:      archiveId,
		JobDescription: correlator,
	}
	if err := s.pub.Publish(ctx, s.thawTopic, n); err != nil {
		log.CtxError(ctx, "failed to publish thaw notification, retrieval: %s, err: %v", retrievalJobId, err)
	}
}

func (s *FSStore) GetRetrievalOutput(ctx context.Context, retrievalJobId string) (io.ReadCloser, error) {
	data, err := os.ReadFile(s.retrievalPath(retrievalJobId))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: retrieval %s", ErrNotFound, retrievalJobId)
	}
	if err != nil {
		return nil, err
	}

	f, err := os.Open(s.coldPath(string(data)))
	if os.IsNotExist(err) {
		// The archive was deleted after retrieval, normally by a thaw that
		// already ran for a duplicate notification.
		return nil, fmt.Errorf("%w: archive %s", ErrNotFound, string(data))
	}
	return f, err
}

func (s *FSStore) DeleteRetrieval(ctx context.Context, retrievalJobId string) error {
	err := os.Remove(s.retrievalPath(retrievalJobId))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Wait blocks until every in-flight retrieval completion has finished.
func (s *FSStore) Wait() {
	s.wg.Wait()
}
