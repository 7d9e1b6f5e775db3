package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirsync/backend/internal/cache"
	"kasirsync/backend/internal/domain"
	"kasirsync/backend/internal/inventory"
	"kasirsync/backend/internal/logger"
	"kasirsync/backend/internal/network"
	"kasirsync/backend/internal/offlinequeue"
	"kasirsync/backend/internal/order"
	"kasirsync/backend/internal/reconciliation"
	"kasirsync/backend/internal/session"
	"kasirsync/backend/internal/store"
	"kasirsync/backend/internal/syncer"
)

// Connectivity is the part of the network monitor checkout needs.
type Connectivity interface {
	IsOnline() bool
	State() network.State
}

type Options struct {
	Provider session.Provider
	// DeviceID is used when the caller's identity carries no device.
	DeviceID   string
	Queue      offlinequeue.Queue
	Cache      cache.SummaryCache
	SummaryTTL time.Duration
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Service is the single entry point the HTTP layer talks to. It resolves who
// is acting, picks online or offline checkout from the network state and
// forwards to the ledger, factory, coordinator and auditor.
type Service struct {
	repo        store.Repository
	ledger      *inventory.Ledger
	factory     *order.Factory
	coordinator *syncer.Coordinator
	auditor     *reconciliation.Auditor
	network     Connectivity

	provider   session.Provider
	deviceID   string
	queue      offlinequeue.Queue
	cache      cache.SummaryCache
	summaryTTL time.Duration
	log        *zap.Logger
	now        func() time.Time
}

func New(repo store.Repository, ledger *inventory.Ledger, factory *order.Factory, coordinator *syncer.Coordinator, auditor *reconciliation.Auditor, conn Connectivity, opts Options) *Service {
	if opts.Provider == nil {
		opts.Provider = session.ContextProvider{}
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopSummaryCache{}
	}
	if opts.SummaryTTL <= 0 {
		opts.SummaryTTL = 10 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:        repo,
		ledger:      ledger,
		factory:     factory,
		coordinator: coordinator,
		auditor:     auditor,
		network:     conn,
		provider:    opts.Provider,
		deviceID:    opts.DeviceID,
		queue:       opts.Queue,
		cache:       opts.Cache,
		summaryTTL:  opts.SummaryTTL,
		log:         logger.OrNop(opts.Logger).Named("service"),
		now:         opts.Clock,
	}
}

func (s *Service) operationContext(ctx context.Context) (domain.OperationContext, error) {
	return session.Resolve(ctx, s.provider, s.deviceID)
}

func (s *Service) Health(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Service) NetworkState() network.State {
	if s.network == nil {
		return network.StateConnected
	}
	return s.network.State()
}

func (s *Service) online() bool {
	return s.network == nil || s.network.IsOnline()
}

func (s *Service) ReceiveBatch(ctx context.Context, req domain.ReceiveBatchRequest) (domain.InventoryBatch, error) {
	oc, err := s.operationContext(ctx)
	if err != nil {
		return domain.InventoryBatch{}, err
	}
	return s.ledger.ReceiveBatch(ctx, req, oc)
}

func (s *Service) ListBatches(ctx context.Context, productID string) ([]domain.InventoryBatch, error) {
	if _, err := s.operationContext(ctx); err != nil {
		return nil, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, fmt.Errorf("%w: product_id is required", domain.ErrInvalidRequest)
	}
	return s.ledger.ActiveBatches(ctx, productID)
}

func (s *Service) RetireBatch(ctx context.Context, batchID string, status domain.BatchStatus) (domain.InventoryBatch, error) {
	if _, err := s.operationContext(ctx); err != nil {
		return domain.InventoryBatch{}, err
	}
	return s.ledger.RetireBatch(ctx, batchID, status)
}

func (s *Service) ValidateStock(ctx context.Context, productID string, qty decimal.Decimal) (domain.StockValidation, error) {
	if _, err := s.operationContext(ctx); err != nil {
		return domain.StockValidation{}, err
	}
	return s.ledger.ValidateStock(ctx, productID, qty)
}

// ProductSummary reads the denormalised stock and price, cache first.
func (s *Service) ProductSummary(ctx context.Context, productID string) (domain.Product, error) {
	cached, ok, err := s.cache.Get(ctx, productID)
	if err != nil {
		s.log.Warn("summary cache read failed", zap.String("product_id", productID), zap.Error(err))
	}
	if ok && cached != nil {
		return *cached, nil
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if err := s.cache.Set(ctx, *product, s.summaryTTL); err != nil {
		s.log.Warn("summary cache write failed", zap.String("product_id", productID), zap.Error(err))
	}
	return *product, nil
}

// Checkout deducts stock immediately while the link is confirmed and stages
// the order on the device queue otherwise. An online attempt that finds the
// store unreachable is retried offline.
func (s *Service) Checkout(ctx context.Context, cart []domain.CartItem) (domain.Order, error) {
	oc, err := s.operationContext(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	if !s.online() {
		return s.factory.CreateOfflineOrder(ctx, cart, oc)
	}

	o, err := s.factory.CreateOnlineOrder(ctx, cart, oc)
	if errors.Is(err, store.ErrUnavailable) && oc.DeviceID != "" {
		s.log.Warn("store unreachable at checkout, staging offline", zap.String("device_id", oc.DeviceID), zap.Error(err))
		return s.factory.CreateOfflineOrder(ctx, cart, oc)
	}
	return o, err
}

// GetOrder looks in the store first and then in the caller's device queue,
// where offline orders live until their first remote write.
func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	oc, err := s.operationContext(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	o, err := s.repo.GetOrder(ctx, orderID)
	if err == nil {
		return *o, nil
	}
	if s.queue == nil || oc.DeviceID == "" || (!errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrUnavailable)) {
		return domain.Order{}, err
	}
	queued, qerr := s.queue.Get(ctx, oc.DeviceID, orderID)
	if qerr != nil {
		return domain.Order{}, err
	}
	return *queued, nil
}

// ReturnOrder puts every outstanding deduction of a synced order back into
// its batch and cancels the order's sales tracking.
func (s *Service) ReturnOrder(ctx context.Context, orderID string, reason string) ([]domain.ReversalRecord, error) {
	oc, err := s.operationContext(ctx)
	if err != nil {
		return nil, err
	}
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.SyncStatus == domain.SyncStatusPending {
		return nil, fmt.Errorf("%w: order %s has not been synced", domain.ErrInvalidRequest, orderID)
	}
	if strings.TrimSpace(reason) == "" {
		reason = "return"
	}

	reversals, err := s.ledger.ReverseOrder(ctx, orderID, oc.ActorID, reason)
	if err != nil {
		return reversals, err
	}

	now := s.now()
	o.UpdatedAt = now
	ws := store.WriteSet{
		Orders:   []domain.Order{*o},
		Tracking: order.TrackingEntries(*o, domain.TrackingCancelled, now),
	}
	if err := s.repo.CommitWrites(ctx, ws); err != nil {
		// Stock is already back; a stale tracking row only shows up in the next audit.
		s.log.Warn("cancel tracking after return failed", zap.String("order_id", orderID), zap.Error(err))
	}
	s.log.Info("order returned",
		zap.String("order_id", orderID),
		zap.Int("reversals", len(reversals)),
		zap.String("actor_id", oc.ActorID))
	return reversals, nil
}

func (s *Service) TriggerSync(ctx context.Context) (domain.SyncSummary, error) {
	oc, err := s.operationContext(ctx)
	if err != nil {
		return domain.SyncSummary{}, err
	}
	if !s.online() {
		return domain.SyncSummary{}, domain.ErrNetworkOffline
	}
	return s.coordinator.TriggerAutoSync(ctx, oc)
}

func (s *Service) ResolveOrder(ctx context.Context, orderID string, resolutions []domain.ItemResolution) (domain.Order, error) {
	oc, err := s.operationContext(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	return s.coordinator.ManuallyResolveOrder(ctx, orderID, resolutions, oc)
}

func (s *Service) FindDiscrepancies(ctx context.Context, start time.Time, end time.Time) ([]domain.ReconciliationDiscrepancy, error) {
	oc, err := s.operationContext(ctx)
	if err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end must be after start", domain.ErrInvalidRequest)
	}
	return s.auditor.FindDiscrepancies(ctx, oc.StoreID, start, end)
}

// ExportDiscrepancies writes the same report as FindDiscrepancies as xlsx.
func (s *Service) ExportDiscrepancies(ctx context.Context, w io.Writer, start time.Time, end time.Time) error {
	found, err := s.FindDiscrepancies(ctx, start, end)
	if err != nil {
		return err
	}
	return reconciliation.WriteWorkbook(w, found)
}

func (s *Service) ReprocessInventory(ctx context.Context, orderID string) (reconciliation.ReprocessResult, error) {
	oc, err := s.operationContext(ctx)
	if err != nil {
		return reconciliation.ReprocessResult{}, err
	}
	return s.auditor.ReprocessInventory(ctx, orderID, oc)
}

func (s *Service) CreateMissingLedger(ctx context.Context, orderID string) (domain.LedgerEntry, error) {
	oc, err := s.operationContext(ctx)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	return s.auditor.CreateMissingLedger(ctx, orderID, oc)
}

func (s *Service) MarkAsReconciled(ctx context.Context, orderID string) error {
	oc, err := s.operationContext(ctx)
	if err != nil {
		return err
	}
	return s.auditor.MarkAsReconciled(ctx, orderID, oc)
}

func (s *Service) ReconciliationAudit(ctx context.Context, orderID string) ([]domain.ReconciliationAuditEntry, error) {
	if _, err := s.operationContext(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListReconciliationAudit(ctx, orderID)
}
