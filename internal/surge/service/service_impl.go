package service

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/surge/internal/clock"
	householddomain "github.com/smallbiznis/surge/internal/household/domain"
	"github.com/smallbiznis/surge/internal/orgcontext"
	reportdomain "github.com/smallbiznis/surge/internal/report/domain"
	"github.com/smallbiznis/surge/internal/storage"
	surgedomain "github.com/smallbiznis/surge/internal/surge/domain"
	"github.com/smallbiznis/surge/internal/warning"
	"github.com/smallbiznis/surge/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxNameLength = 255

var pdfMagic = []byte("%PDF-")

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Storage    storage.Storage
	Repo       surgedomain.Repository
	Households householddomain.Repository
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	storage storage.Storage

	repo          surgedomain.Repository
	householdRepo householddomain.Repository
}

func NewService(p ServiceParam) surgedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("surge.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		storage: p.Storage,

		repo:          p.Repo,
		householdRepo: p.Households,
	}
}

func (s *Service) Create(ctx context.Context, req surgedomain.CreateSurgeRequest) (*surgedomain.Surge, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > maxNameLength {
		return nil, surgedomain.ErrInvalidName
	}
	if req.StartDate.IsZero() || req.EndDate.IsZero() || req.EndDate.Before(req.StartDate) {
		return nil, surgedomain.ErrInvalidDateRange
	}
	types, err := normalizeReportTypes(req.ReportTypes)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	surge := &surgedomain.Surge{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		Name:        name,
		StartDate:   req.StartDate.UTC(),
		EndDate:     req.EndDate.UTC(),
		ReportTypes: datatypes.NewJSONSlice(types),
		Uploads:     datatypes.NewJSONSlice([]surgedomain.Upload{}),
		CreatedBy:   strings.TrimSpace(req.CreatedBy),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	surge.Order = datatypes.NewJSONSlice(surge.DefaultOrder())

	if err := s.repo.Insert(ctx, s.db, surge); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, surgedomain.ErrDuplicateName
		}
		return nil, err
	}

	s.log.Info("surge.created",
		zap.String("surge_id", surge.ID.String()),
		zap.String("org_id", orgID.String()),
		zap.Int("report_types", len(types)),
	)
	return surge, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*surgedomain.Surge, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	surge, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if surge == nil || surge.OrgID != orgID {
		return nil, surgedomain.ErrSurgeNotFound
	}
	return surge, nil
}

// SelectReportTypes replaces the enabled report types. Order tokens for
// removed types are dropped and newly enabled types are appended.
func (s *Service) SelectReportTypes(ctx context.Context, id snowflake.ID, types []reportdomain.ReportType) (*surgedomain.Surge, error) {
	surge, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	normalized, err := normalizeReportTypes(types)
	if err != nil {
		return nil, err
	}

	prior := surge.EffectiveOrder()
	surge.ReportTypes = datatypes.NewJSONSlice(normalized)
	surge.Order = datatypes.NewJSONSlice(completeOrder(surge, prior))
	if err := s.save(ctx, surge); err != nil {
		return nil, err
	}
	return surge, nil
}

// AddUpload stores the document first and only then attaches it, so a
// listed upload always has an object behind it.
func (s *Service) AddUpload(ctx context.Context, req surgedomain.AddUploadRequest) (*surgedomain.Surge, error) {
	surge, err := s.Get(ctx, req.SurgeID)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > maxNameLength || !bytes.HasPrefix(req.Content, pdfMagic) {
		return nil, surgedomain.ErrInvalidUpload
	}
	if req.PageCount != nil && *req.PageCount <= 0 {
		return nil, surgedomain.ErrInvalidUpload
	}

	upload := surgedomain.Upload{
		ID:        surgedomain.NewUploadID(),
		Name:      name,
		PageCount: req.PageCount,
		CreatedAt: s.clock.Now(),
	}
	upload.StorageKey = surgedomain.UploadKey(surge.ID, upload.ID)
	if err := s.storage.Put(ctx, upload.StorageKey, req.Content); err != nil {
		return nil, err
	}

	prior := surge.EffectiveOrder()
	surge.Uploads = append(surge.Uploads, upload)
	surge.Order = datatypes.NewJSONSlice(append(prior, upload.ID))
	if err := s.save(ctx, surge); err != nil {
		if delErr := s.storage.Delete(context.WithoutCancel(ctx), upload.StorageKey); delErr != nil {
			s.log.Warn("surge.upload.cleanup_failed", zap.String("key", upload.StorageKey), zap.Error(delErr))
		}
		return nil, err
	}

	s.log.Info("surge.upload.added",
		zap.String("surge_id", surge.ID.String()),
		zap.String("upload_id", upload.ID),
		zap.Int("size_bytes", len(req.Content)),
	)
	return surge, nil
}

func (s *Service) RemoveUpload(ctx context.Context, id snowflake.ID, uploadID string) (*surgedomain.Surge, error) {
	surge, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	upload, ok := surge.FindUpload(uploadID)
	if !ok {
		return nil, surgedomain.ErrUploadNotFound
	}

	if err := s.storage.Delete(ctx, upload.StorageKey); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return nil, err
	}

	uploads := make([]surgedomain.Upload, 0, len(surge.Uploads))
	for _, existing := range surge.Uploads {
		if existing.ID != uploadID {
			uploads = append(uploads, existing)
		}
	}
	prior := surge.EffectiveOrder()
	surge.Uploads = datatypes.NewJSONSlice(uploads)
	surge.Order = datatypes.NewJSONSlice(surge.NormalizeOrder(prior))
	if err := s.save(ctx, surge); err != nil {
		return nil, err
	}
	return surge, nil
}

// Reorder stores a new source order. Unknown and repeated tokens are dropped;
// enabled sources the caller left out keep their default relative position at
// the end.
func (s *Service) Reorder(ctx context.Context, id snowflake.ID, order []string) (*surgedomain.Surge, error) {
	surge, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	surge.Order = datatypes.NewJSONSlice(completeOrder(surge, order))
	if err := s.save(ctx, surge); err != nil {
		return nil, err
	}
	return surge, nil
}

// Delete removes the surge, its snapshots, and their stored objects.
func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	surge, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	snapshots, err := s.repo.ListSnapshots(ctx, s.db, surge.ID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.DeleteSnapshots(ctx, tx, surge.ID, nil); err != nil {
			return err
		}
		return s.repo.Delete(ctx, tx, surge.ID)
	})
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(snapshots)+len(surge.Uploads))
	for _, snapshot := range snapshots {
		keys = append(keys, snapshot.StorageKey)
	}
	for _, upload := range surge.Uploads {
		keys = append(keys, upload.StorageKey)
	}
	s.deleteObjects(ctx, keys)

	s.log.Info("surge.deleted",
		zap.String("surge_id", surge.ID.String()),
		zap.Int("snapshots", len(snapshots)),
		zap.Int("uploads", len(surge.Uploads)),
	)
	return nil
}

func (s *Service) ListSnapshots(ctx context.Context, id snowflake.ID) ([]*surgedomain.Snapshot, error) {
	surge, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSnapshots(ctx, s.db, surge.ID)
}

// ClearSnapshots drops the given households' packets, or every packet of the
// surge when householdIDs is empty.
func (s *Service) ClearSnapshots(ctx context.Context, id snowflake.ID, householdIDs []snowflake.ID) error {
	surge, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	snapshots, err := s.repo.ListSnapshots(ctx, s.db, surge.ID)
	if err != nil {
		return err
	}

	wanted := make(map[snowflake.ID]struct{}, len(householdIDs))
	for _, householdID := range householdIDs {
		wanted[householdID] = struct{}{}
	}
	keys := make([]string, 0, len(snapshots))
	for _, snapshot := range snapshots {
		if _, ok := wanted[snapshot.HouseholdID]; ok || len(wanted) == 0 {
			keys = append(keys, snapshot.StorageKey)
		}
	}

	if err := s.repo.DeleteSnapshots(ctx, s.db, surge.ID, householdIDs); err != nil {
		return err
	}
	s.deleteObjects(ctx, keys)
	return nil
}

// HouseholdWarnings evaluates warnings without building anything. Households
// that do not exist in the surge's organization are left out.
func (s *Service) HouseholdWarnings(ctx context.Context, id snowflake.ID, householdIDs []snowflake.ID) ([]surgedomain.HouseholdWarnings, error) {
	surge, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	out := make([]surgedomain.HouseholdWarnings, 0, len(householdIDs))
	for _, householdID := range householdIDs {
		household, err := s.householdRepo.FindByID(ctx, s.db, householdID)
		if err != nil {
			return nil, err
		}
		if household == nil || household.OrgID != surge.OrgID {
			continue
		}
		codes, err := warning.Evaluate(household, surge)
		if err != nil {
			return nil, err
		}
		out = append(out, surgedomain.HouseholdWarnings{HouseholdID: householdID, Warnings: codes})
	}
	return out, nil
}

func (s *Service) save(ctx context.Context, surge *surgedomain.Surge) error {
	surge.UpdatedAt = s.clock.Now()
	return s.repo.Update(ctx, s.db, surge)
}

func (s *Service) deleteObjects(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.storage.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			s.log.Warn("surge.object.delete_failed", zap.String("key", key), zap.Error(err))
		}
	}
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return 0, surgedomain.ErrOrganizationNeeded
	}
	return orgID, nil
}

func normalizeReportTypes(types []reportdomain.ReportType) ([]reportdomain.ReportType, error) {
	seen := make(map[reportdomain.ReportType]struct{}, len(types))
	out := make([]reportdomain.ReportType, 0, len(types))
	for _, t := range types {
		t = reportdomain.ReportType(strings.ToUpper(strings.TrimSpace(string(t))))
		if !t.Valid() {
			return nil, surgedomain.ErrInvalidReportType
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

// completeOrder normalizes tokens against the surge and appends every enabled
// source they do not mention, in default order.
func completeOrder(surge *surgedomain.Surge, tokens []string) []string {
	order := surge.NormalizeOrder(tokens)
	present := make(map[string]struct{}, len(order))
	for _, token := range order {
		present[token] = struct{}{}
	}
	for _, token := range surge.DefaultOrder() {
		if _, ok := present[token]; !ok {
			order = append(order, token)
		}
	}
	return order
}
