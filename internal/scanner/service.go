package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/tallygate/service-attendance-go/internal/entry"
)

var (
	ErrBadCredentials = errors.New("invalid credentials")
	ErrDisabled       = errors.New("scanner disabled")
	ErrInvalidToken   = errors.New("invalid token")
)

// SecretHasher defines minimal hashing interface (abstract so we can swap to
// argon2 later).
type SecretHasher interface {
	Hash(secret string) (string, error)
	Verify(hash, secret string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(secret string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// Store is the persistence surface the auth service needs.
// GetByEmail returns nil when the scanner is unknown.
type Store interface {
	GetByEmail(ctx context.Context, email string) (*Scanner, error)
}

type AuthConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

// AuthConfigFromEnv reads token settings from env vars.
func AuthConfigFromEnv() AuthConfig {
	secret := os.Getenv("SCANNER_TOKEN_SECRET")
	if secret == "" {
		secret = "dev-only-secret"
	}
	ttl := 12 * time.Hour
	if s := os.Getenv("SCANNER_TOKEN_TTL_HOURS"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			ttl = time.Duration(v) * time.Hour
		}
	}
	issuer := os.Getenv("SCANNER_TOKEN_ISSUER")
	if issuer == "" {
		issuer = "tallygate-attendance"
	}
	return AuthConfig{Secret: []byte(secret), Issuer: issuer, TTL: ttl}
}

// AuthService authenticates scanner devices and issues/verifies their sync
// tokens. It also implements entry.ScannerDirectory, the narrow identity
// contract the ingestion side consumes.
type AuthService struct {
	store  Store
	hasher SecretHasher
	cfg    AuthConfig
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewAuthService(store Store, hasher SecretHasher, cfg AuthConfig, logger *zap.SugaredLogger) *AuthService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	return &AuthService{
		store:  store,
		hasher: hasher,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Authenticate verifies a device secret and issues an HS256 token carrying
// the scanner's identity and organization.
func (s *AuthService) Authenticate(ctx context.Context, email, secret string) (string, error) {
	sc, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("lookup scanner: %w", err)
	}
	if sc == nil {
		// avoid scanner enumeration
		return "", ErrBadCredentials
	}
	if sc.Status == "disabled" {
		return "", ErrDisabled
	}
	if !s.hasher.Verify(sc.SecretHash, secret) {
		s.logger.Debugw("scanner secret mismatch", "email", email)
		return "", ErrBadCredentials
	}

	now := s.now()
	claims := jwt.MapClaims{
		"iss":   s.cfg.Issuer,
		"sub":   strconv.FormatInt(sc.ID, 10),
		"org":   sc.OrganizationID,
		"email": sc.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(s.cfg.TTL).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken parses and validates a scanner token.
func (s *AuthService) VerifyToken(tokenString string) (*Claims, error) {
	tok, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.cfg.Secret, nil
	}, jwt.WithIssuer(s.cfg.Issuer), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}

	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	sub, err := mc.GetSubject()
	if err != nil {
		return nil, ErrInvalidToken
	}
	scannerID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}
	org, ok := mc["org"].(float64)
	if !ok {
		return nil, ErrInvalidToken
	}
	email, _ := mc["email"].(string)

	return &Claims{
		ScannerID:      scannerID,
		OrganizationID: int64(org),
		Email:          email,
	}, nil
}

// FindScannerAuth implements entry.ScannerDirectory.
func (s *AuthService) FindScannerAuth(ctx context.Context, email string) (*entry.ScannerAuth, error) {
	sc, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if sc == nil || sc.Status == "disabled" {
		return nil, nil
	}
	return &entry.ScannerAuth{ScannerID: sc.ID, OrganizationID: sc.OrganizationID}, nil
}
