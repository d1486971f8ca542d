package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
	"github.com/abiolaogu/VoxGuard-sub001/internal/metrics"
)

// BlacklistService manages manual entries and the expiry cleanup.
type BlacklistService struct {
	repo domain.BlacklistRepository
	bus  domain.EventBus
	now  func() time.Time
}

// NewBlacklistService creates the service.
func NewBlacklistService(repo domain.BlacklistRepository, bus domain.EventBus, now func() time.Time) *BlacklistService {
	if now == nil {
		now = time.Now
	}
	return &BlacklistService{repo: repo, bus: bus, now: now}
}

// Add blocks value (an IP address or phone number) for d.
func (s *BlacklistService) Add(ctx context.Context, value, reason string, d time.Duration) (*domain.BlacklistEntry, error) {
	normalized, err := normalizeBlacklistValue(value)
	if err != nil {
		return nil, err
	}
	if d <= 0 {
		return nil, fmt.Errorf("%w: blacklist duration must be positive", domain.ErrInvalidInput)
	}

	now := s.now()
	entry := domain.NewBlacklistEntry(normalized, reason, "", now, d)
	if err := s.repo.SaveBlacklistEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to save blacklist entry: %w", err)
	}
	if s.bus != nil {
		_ = s.bus.Publish(ctx, domain.NewGatewayBlacklistedEvent(entry, now))
	}
	return entry, nil
}

// Get returns the entry for value, expired or not.
func (s *BlacklistService) Get(ctx context.Context, value string) (*domain.BlacklistEntry, error) {
	normalized, err := normalizeBlacklistValue(value)
	if err != nil {
		return nil, err
	}
	return s.repo.FindBlacklistByValue(ctx, normalized)
}

// IsBlacklisted ignores expired entries.
func (s *BlacklistService) IsBlacklisted(ctx context.Context, value string) (bool, error) {
	normalized, err := normalizeBlacklistValue(value)
	if err != nil {
		return false, err
	}
	return s.repo.IsBlacklisted(ctx, normalized)
}

// Remove deletes an entry by id.
func (s *BlacklistService) Remove(ctx context.Context, id string) error {
	return s.repo.DeleteBlacklistEntry(ctx, id)
}

// CleanupExpired physically removes expired entries.
func (s *BlacklistService) CleanupExpired(ctx context.Context) (int, error) {
	n, err := s.repo.CleanupExpired(ctx)
	if err != nil {
		return 0, err
	}
	metrics.BlacklistCleaned.Add(float64(n))
	return n, nil
}

// normalizeBlacklistValue accepts an IP address or a phone number.
func normalizeBlacklistValue(value string) (string, error) {
	if ip, err := domain.NewIPAddress(value); err == nil {
		return ip.String(), nil
	}
	n, err := domain.NewPhoneNumber(value)
	if err != nil {
		return "", fmt.Errorf("%w: %q is neither an ip address nor a phone number", domain.ErrInvalidInput, value)
	}
	return n.String(), nil
}
