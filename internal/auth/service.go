// Package auth enrolls and verifies faces against the identity store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/facegate/internal/config"
	"github.com/hyperjump/facegate/internal/embedding"
	"github.com/hyperjump/facegate/internal/metrics"
	"github.com/hyperjump/facegate/internal/models"
	"github.com/hyperjump/facegate/internal/storage"
	"github.com/hyperjump/facegate/internal/vector"
)

var (
	// ErrInvalidUserID is returned for an empty or oversized identity key.
	ErrInvalidUserID = errors.New("invalid user ID")
	// ErrUserExists is returned when the identity key is already enrolled.
	ErrUserExists = errors.New("user ID already exists")
	// ErrDuplicateFace is returned when the face is already enrolled under another key.
	ErrDuplicateFace = errors.New("face already registered")
)

// DuplicateFaceError names the enrolled identity that the new face matched.
type DuplicateFaceError struct {
	UserID   string
	Distance float64
}

func (e *DuplicateFaceError) Error() string {
	return fmt.Sprintf("face already registered as %q (distance %.4f)", e.UserID, e.Distance)
}

// Is matches ErrDuplicateFace.
func (e *DuplicateFaceError) Is(target error) bool {
	return target == ErrDuplicateFace
}

// Enrollment statuses recorded in metrics.
const (
	statusRegistered = "registered"
	statusExists     = "exists"
	statusInvalid    = "invalid"
	statusNoFace     = "no_face"
	statusDuplicate  = "duplicate"
	statusError      = "error"
)

// Service runs enrollment and verification decisions.
type Service struct {
	store     storage.Storage
	extractor embedding.Extractor
	matcher   vector.Matcher
	policy    config.MatchConfig
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	// enrollMu serializes the duplicate scan and the insert that follows it.
	enrollMu sync.Mutex
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger used for decision and enrollment events.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithMetrics records decisions and enrollments on m.
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the enrollment timestamp source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a service over store and extractor. policy holds the verification and
// duplicate thresholds and the number of scan workers.
func NewService(store storage.Storage, extractor embedding.Extractor, policy config.MatchConfig, opts ...ServiceOption) *Service {
	s := &Service{
		store:     store,
		extractor: extractor,
		matcher:   vector.Matcher{Workers: policy.Workers},
		policy:    policy,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Register enrolls req.UserID with the face in the base64 encoded req.Image.
func (s *Service) Register(ctx context.Context, req *models.RegisterRequest) (*models.Identity, error) {
	userID, err := s.checkNewUserID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	data, err := embedding.DecodeBase64Image(req.Image)
	if err != nil {
		s.metrics.IncrementEnrollment(statusInvalid)
		return nil, err
	}
	return s.enroll(ctx, userID, data, req.Metadata)
}

// Enroll registers userID with the face in the raw image bytes.
func (s *Service) Enroll(ctx context.Context, userID string, image []byte, metadata map[string]interface{}) (*models.Identity, error) {
	userID, err := s.checkNewUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := embedding.CheckImage(image); err != nil {
		s.metrics.IncrementEnrollment(statusInvalid)
		return nil, err
	}
	return s.enroll(ctx, userID, image, metadata)
}

func (s *Service) checkNewUserID(ctx context.Context, raw string) (string, error) {
	userID, err := models.ValidateUserID(raw)
	if err != nil {
		s.metrics.IncrementEnrollment(statusInvalid)
		return "", fmt.Errorf("%w: %v", ErrInvalidUserID, err)
	}
	exists, err := s.store.ExistsIdentity(ctx, userID)
	if err != nil {
		s.metrics.IncrementEnrollment(statusError)
		return "", fmt.Errorf("failed to check user ID: %w", err)
	}
	if exists {
		s.metrics.IncrementEnrollment(statusExists)
		return "", ErrUserExists
	}
	return userID, nil
}

func (s *Service) enroll(ctx context.Context, userID string, image []byte, metadata map[string]interface{}) (*models.Identity, error) {
	emb, err := s.extract(ctx, image)
	if err != nil {
		return nil, err
	}

	s.enrollMu.Lock()
	defer s.enrollMu.Unlock()

	decision, err := s.decide(ctx, models.PolicyDuplicate, emb)
	if err != nil {
		s.metrics.IncrementEnrollment(statusError)
		return nil, err
	}
	if decision.Result.Matched {
		s.metrics.IncrementEnrollment(statusDuplicate)
		s.logger.Info("enrollment rejected: duplicate face",
			zap.String("user_id", userID),
			zap.String("matched_user_id", decision.Result.IdentityKey),
			zap.Float64("distance", decision.Result.Distance),
		)
		return nil, &DuplicateFaceError{UserID: decision.Result.IdentityKey, Distance: decision.Result.Distance}
	}

	id := &models.Identity{
		UserID:    userID,
		Embedding: emb,
		Metadata:  metadata,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateIdentity(ctx, id); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			s.metrics.IncrementEnrollment(statusExists)
			return nil, ErrUserExists
		}
		s.metrics.IncrementEnrollment(statusError)
		return nil, fmt.Errorf("failed to store identity: %w", err)
	}
	s.metrics.IncrementEnrollment(statusRegistered)
	s.logger.Info("identity enrolled", zap.String("user_id", userID), zap.Int("dimensions", len(emb)))
	return id, nil
}

func (s *Service) extract(ctx context.Context, image []byte) ([]float32, error) {
	emb, err := s.extractor.Extract(ctx, image)
	if err != nil {
		switch {
		case errors.Is(err, embedding.ErrNoFaceDetected):
			s.metrics.IncrementEnrollment(statusNoFace)
		case errors.Is(err, embedding.ErrInvalidImage):
			s.metrics.IncrementEnrollment(statusInvalid)
		default:
			s.metrics.IncrementEnrollment(statusError)
		}
		return nil, err
	}
	return emb, nil
}

// Verify finds the enrolled identity behind the face in a base64 encoded image.
func (s *Service) Verify(ctx context.Context, image string) (*models.Decision, error) {
	data, err := embedding.DecodeBase64Image(image)
	if err != nil {
		return nil, err
	}
	return s.VerifyImage(ctx, data)
}

// VerifyImage finds the enrolled identity behind the face in the raw image bytes. A face that
// matches nobody is a decision with Result.Matched false, not an error.
func (s *Service) VerifyImage(ctx context.Context, image []byte) (*models.Decision, error) {
	emb, err := s.extractor.Extract(ctx, image)
	if err != nil {
		return nil, err
	}
	return s.decide(ctx, models.PolicyVerify, emb)
}

func (s *Service) threshold(p models.Policy) float64 {
	if p == models.PolicyDuplicate {
		return s.policy.DuplicateThreshold
	}
	return s.policy.VerifyThreshold
}

func (s *Service) decide(ctx context.Context, policy models.Policy, query []float32) (*models.Decision, error) {
	id := uuid.NewString()
	threshold := s.threshold(policy)
	start := time.Now()

	result, err := s.matcher.Match(ctx, query, s.store.ScanIdentities(ctx), threshold, vector.WithLogger(s.logger))
	if err != nil {
		s.metrics.IncrementDecisionError(string(policy))
		s.logger.Error("decision failed",
			zap.String("decision_id", id),
			zap.String("policy", string(policy)),
			zap.Error(err),
		)
		return nil, err
	}

	outcome := "no_match"
	if result.Matched {
		outcome = "match"
	}
	s.metrics.ObserveDecision(string(policy), outcome, result.Distance, result.Scanned, result.Skipped, time.Since(start))
	s.logger.Info("decision",
		zap.String("decision_id", id),
		zap.String("policy", string(policy)),
		zap.Bool("matched", result.Matched),
		zap.String("identity_key", result.IdentityKey),
		zap.Float64("distance", result.Distance),
		zap.Int("scanned", result.Scanned),
		zap.Int("skipped", result.Skipped),
	)
	return &models.Decision{ID: id, Policy: policy, Result: *result}, nil
}

// Get returns the identity enrolled under userID.
func (s *Service) Get(ctx context.Context, userID string) (*models.Identity, error) {
	return s.store.GetIdentity(ctx, models.NormalizeUserID(userID))
}

// Delete removes the identity enrolled under userID.
func (s *Service) Delete(ctx context.Context, userID string) error {
	userID = models.NormalizeUserID(userID)
	if err := s.store.DeleteIdentity(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("identity deleted", zap.String("user_id", userID))
	return nil
}

// Stats summarizes the enrolled population and the active thresholds.
type Stats struct {
	Identities         int64   `json:"identities"`
	Dimensions         int     `json:"dimensions"`
	VerifyThreshold    float64 `json:"verify_threshold"`
	DuplicateThreshold float64 `json:"duplicate_threshold"`
	Workers            int     `json:"workers"`
}

// Status reports the identity count and decision settings.
func (s *Service) Status(ctx context.Context) (*Stats, error) {
	n, err := s.store.CountIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count identities: %w", err)
	}
	return &Stats{
		Identities:         n,
		Dimensions:         s.extractor.Dimensions(),
		VerifyThreshold:    s.policy.VerifyThreshold,
		DuplicateThreshold: s.policy.DuplicateThreshold,
		Workers:            s.matcher.Workers,
	}, nil
}

// Ping checks that the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
