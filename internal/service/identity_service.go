package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"med-eval/internal/domain"
	"med-eval/internal/repository"
)

var (
	ErrDuplicateUsername = errors.New("username already registered")
	ErrNotFound          = errors.New("evaluator not found")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrInvalidUsername   = errors.New("invalid username")
	ErrInvalidProfile    = errors.New("invalid profile")
	ErrRateLimited       = errors.New("rate limited")
	ErrProfileRequired   = errors.New("profile required to register")
)

// SessionRevoker cierra las sesiones abiertas de un evaluador.
type SessionRevoker interface {
	RevokeSubject(subjectID string) error
}

// IdentityService registra y autentica evaluadores y administra su perfil.
type IdentityService struct {
	logger     *zap.Logger
	evaluators repository.EvaluatorRepository
	limiter    LoginLimiter
	sessions   SessionRevoker
	now        func() time.Time
}

func NewIdentityService(logger *zap.Logger, evaluators repository.EvaluatorRepository, limiter LoginLimiter) *IdentityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limiter == nil {
		limiter = NewLoginLimiter(10*time.Minute, 10)
	}
	return &IdentityService{
		logger:     logger,
		evaluators: evaluators,
		limiter:    limiter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithSessionRevoker hace que borrar un evaluador o cambiar su credencial cierre sus sesiones.
func (s *IdentityService) WithSessionRevoker(r SessionRevoker) *IdentityService {
	s.sessions = r
	return s
}

// Register crea un evaluador. El username se compara de forma exacta (sensible a mayúsculas).
func (s *IdentityService) Register(ctx context.Context, username, credential string, profile domain.ProfileInput) (domain.Evaluator, error) {
	if s.evaluators == nil {
		return domain.Evaluator{}, errors.New("identity service not configured")
	}
	if strings.TrimSpace(username) == "" {
		return domain.Evaluator{}, ErrInvalidUsername
	}
	if credential == "" {
		return domain.Evaluator{}, ErrInvalidCredential
	}
	if err := validateProfile(profile.Role, profile.ExperienceYears); err != nil {
		return domain.Evaluator{}, err
	}

	if _, err := s.evaluators.GetByUsername(ctx, username); err == nil {
		return domain.Evaluator{}, ErrDuplicateUsername
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Evaluator{}, err
	}

	hash, err := hashCredential(credential)
	if err != nil {
		return domain.Evaluator{}, err
	}

	experience := 0
	if profile.ExperienceYears != nil {
		experience = *profile.ExperienceYears
	}
	evaluator := domain.Evaluator{
		ID:              uuid.NewString(),
		Username:        username,
		CredentialHash:  hash,
		DisplayName:     strings.TrimSpace(profile.DisplayName),
		Role:            profile.Role,
		Specialty:       trimOptional(profile.Specialty),
		ExperienceYears: experience,
		CreatedAt:       s.now(),
	}

	if err := s.evaluators.Create(ctx, evaluator); err != nil {
		// Dos registros simultáneos pueden pasar el chequeo previo; la constraint decide.
		if repository.IsUniqueViolation(err) {
			return domain.Evaluator{}, ErrDuplicateUsername
		}
		return domain.Evaluator{}, err
	}

	s.logger.Info("evaluator registered", zap.String("evaluator_id", evaluator.ID), zap.String("role", string(evaluator.Role)))
	return evaluator, nil
}

// Authenticate distingue ErrNotFound de ErrInvalidCredential para que el cliente
// pueda ofrecer el registro.
func (s *IdentityService) Authenticate(ctx context.Context, username, credential string) (domain.Evaluator, error) {
	if s.evaluators == nil {
		return domain.Evaluator{}, errors.New("identity service not configured")
	}
	if strings.TrimSpace(username) == "" {
		return domain.Evaluator{}, ErrInvalidUsername
	}
	if !s.limiter.Allow(username) {
		return domain.Evaluator{}, ErrRateLimited
	}

	evaluator, err := s.evaluators.GetByUsername(ctx, username)
	if err != nil {
		// Un username inexistente no consume intentos.
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Evaluator{}, ErrNotFound
		}
		return domain.Evaluator{}, err
	}
	if credential == "" || evaluator.CredentialHash == "" {
		s.limiter.RecordFailure(username)
		return domain.Evaluator{}, ErrInvalidCredential
	}
	if err := bcrypt.CompareHashAndPassword([]byte(evaluator.CredentialHash), []byte(credential)); err != nil {
		s.limiter.RecordFailure(username)
		return domain.Evaluator{}, ErrInvalidCredential
	}
	return evaluator, nil
}

// AuthenticateOrRegister es el camino del guardado: autentica si el username existe
// y, si no, lo registra con el perfil recibido. created indica un alta nueva.
func (s *IdentityService) AuthenticateOrRegister(ctx context.Context, username, credential string, profile *domain.ProfileInput) (evaluator domain.Evaluator, created bool, err error) {
	evaluator, err = s.Authenticate(ctx, username, credential)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return evaluator, false, err
	}
	if profile == nil {
		return domain.Evaluator{}, false, ErrProfileRequired
	}
	evaluator, err = s.Register(ctx, username, credential, *profile)
	if errors.Is(err, ErrDuplicateUsername) {
		// Otro guardado registró el mismo username entre ambos pasos.
		evaluator, err = s.Authenticate(ctx, username, credential)
		return evaluator, false, err
	}
	if err != nil {
		return domain.Evaluator{}, false, err
	}
	return evaluator, true, nil
}

func (s *IdentityService) GetByID(ctx context.Context, id string) (domain.Evaluator, error) {
	id, ok := normalizeEvaluatorID(id)
	if !ok {
		return domain.Evaluator{}, ErrNotFound
	}
	evaluator, err := s.evaluators.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Evaluator{}, ErrNotFound
		}
		return domain.Evaluator{}, err
	}
	return evaluator, nil
}

// UpdateProfile aplica un patch parcial; username y credencial no se tocan.
func (s *IdentityService) UpdateProfile(ctx context.Context, id string, patch domain.ProfilePatch) (domain.Evaluator, error) {
	evaluator, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Evaluator{}, err
	}

	patch.Apply(&evaluator)
	evaluator.DisplayName = strings.TrimSpace(evaluator.DisplayName)
	evaluator.Specialty = trimOptional(evaluator.Specialty)
	years := evaluator.ExperienceYears
	if err := validateProfile(evaluator.Role, &years); err != nil {
		return domain.Evaluator{}, err
	}

	if err := s.evaluators.UpdateProfile(ctx, evaluator); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Evaluator{}, ErrNotFound
		}
		return domain.Evaluator{}, err
	}
	return evaluator, nil
}

func (s *IdentityService) GetByUsername(ctx context.Context, username string) (domain.Evaluator, error) {
	evaluator, err := s.evaluators.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Evaluator{}, ErrNotFound
		}
		return domain.Evaluator{}, err
	}
	return evaluator, nil
}

func (s *IdentityService) RotateCredential(ctx context.Context, id, credential string) error {
	id, ok := normalizeEvaluatorID(id)
	if !ok {
		return ErrNotFound
	}
	if credential == "" {
		return ErrInvalidCredential
	}
	hash, err := hashCredential(credential)
	if err != nil {
		return err
	}
	if err := s.evaluators.UpdateCredential(ctx, id, hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	s.revokeSessions(id)
	return nil
}

// DeleteEvaluator borra al evaluador junto con todos sus registros y puntajes.
func (s *IdentityService) DeleteEvaluator(ctx context.Context, id string) error {
	id, ok := normalizeEvaluatorID(id)
	if !ok {
		return ErrNotFound
	}
	if err := s.evaluators.Delete(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	s.revokeSessions(id)
	s.logger.Info("evaluator deleted", zap.String("evaluator_id", id))
	return nil
}

func (s *IdentityService) revokeSessions(id string) {
	if s.sessions == nil {
		return
	}
	if err := s.sessions.RevokeSubject(id); err != nil {
		s.logger.Warn("revoke sessions failed", zap.String("evaluator_id", id), zap.Error(err))
	}
}

// normalizeEvaluatorID devuelve el UUID en forma canónica. Un id que no es UUID
// no puede existir en la tabla evaluators.
func normalizeEvaluatorID(id string) (string, bool) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}

func hashCredential(credential string) (string, error) {
	hashBytes, err := bcrypt.GenerateFromPassword([]byte(credential), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
		}
		return "", err
	}
	return string(hashBytes), nil
}

func validateProfile(role domain.Role, experienceYears *int) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidProfile, role)
	}
	if experienceYears != nil && *experienceYears < 0 {
		return fmt.Errorf("%w: negative experience", ErrInvalidProfile)
	}
	return nil
}

func trimOptional(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
