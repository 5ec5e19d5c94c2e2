package mysql

import (
	"context"
	"errors"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	"github.com/mbeoliero/annotator/domain/entity"
	"github.com/mbeoliero/annotator/domain/repo"
	"github.com/mbeoliero/annotator/pkg/generic"
)

const scanBatchSize = 500

type jobStore struct {
	db *gorm.DB
}

var getJobStore = generic.Once(func() repo.JobStore {
	return &jobStore{db: GetDB()}
})

func (s *jobStore) Put(ctx context.Context, job *entity.Job) error {
	return gorm.G[entity.Job](s.db).Create(ctx, job)
}

func (s *jobStore) Get(ctx context.Context, jobId string) (*entity.Job, error) {
	job, err := gorm.G[*entity.Job](s.db).Where("job_id = ?", jobId).First(ctx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *jobStore) QueryByUser(ctx context.Context, userId string) ([]*entity.Job, error) {
	return gorm.G[*entity.Job](s.db).Where("user_id = ?", userId).Find(ctx)
}

// Scan pages by primary key so the sweep never holds a full-table cursor.
func (s *jobStore) Scan(ctx context.Context) ([]*entity.Job, error) {
	var all []*entity.Job
	lastId := ""
	for {
		batch, err := gorm.G[*entity.Job](s.db).
			Where("job_id > ?", lastId).
			Order("job_id").
			Limit(scanBatchSize).
			Find(ctx)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return all, nil
		}
		all = append(all, batch...)
		lastId = batch[len(batch)-1].JobId
	}
}

// Update relies on the database evaluating the WHERE clause atomically with
// the write: a conditional update matching zero rows is a lost race, not a
// fault. Map updates need the classic API.
func (s *jobStore) Update(ctx context.Context, jobId string, fields map[string]any, cond *repo.Condition) error {
	if err := repo.CheckTransition(fields, cond); err != nil {
		return err
	}

	// Map updates bypass the schema serializer, so location values are
	// marshaled here to match what Create writes through serializer:json.
	normalized := make(map[string]any, len(fields))
	for k, v := range fields {
		if loc, ok := v.(*entity.Location); ok {
			data, err := sonic.Marshal(loc)
			if err != nil {
				return err
			}
			normalized[k] = string(data)
			continue
		}
		normalized[k] = v
	}

	tx := s.db.WithContext(ctx).Model(&entity.Job{}).Where("job_id = ?", jobId)
	if cond != nil {
		tx = tx.Where(cond.Field+" = ?", cond.Equals)
	}
	res := tx.Updates(normalized)
	if res.Error != nil {
		return res.Error
	}
	if cond != nil && res.RowsAffected == 0 {
		return repo.ErrConditionFailed
	}
	return nil
}

func (s *jobStore) UpdateRoleByUser(ctx context.Context, userId string, role entity.UserRole) error {
	_, err := gorm.G[*entity.Job](s.db).
		Where("user_id = ?", userId).
		Update(ctx, entity.FieldUserRole, role)
	return err
}
