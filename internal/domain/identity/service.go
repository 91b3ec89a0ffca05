package identity

import (
	"context"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/errsx"
	"github.com/rs/zerolog"

	"github.com/medqr/medqr/internal/domain/hospital"
	"github.com/medqr/medqr/internal/domain/patient"
	"github.com/medqr/medqr/internal/platform/access"
	"github.com/medqr/medqr/internal/platform/apperr"
	"github.com/medqr/medqr/internal/platform/auth"
	"github.com/medqr/medqr/internal/platform/events"
	"github.com/medqr/medqr/internal/platform/middleware"
	"github.com/medqr/medqr/pkg/password"
	"github.com/medqr/medqr/pkg/phone"
)

type HospitalLookup interface {
	Lookup(ctx context.Context, id uuid.UUID) (*hospital.Hospital, error)
}

type PatientLookup interface {
	Lookup(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

// TokenIssuer signs access tokens for authenticated users.
type TokenIssuer interface {
	Issue(sub auth.Subject) (string, time.Time, error)
}

type Service struct {
	repo      Repository
	hospitals HospitalLookup
	patients  PatientLookup
	tokens    TokenIssuer
	params    password.Params
	events    events.Publisher
	logger    zerolog.Logger

	dummyOnce sync.Once
	dummyHash string
}

func NewService(repo Repository, hospitals HospitalLookup, patients PatientLookup, tokens TokenIssuer) *Service {
	return &Service{
		repo:      repo,
		hospitals: hospitals,
		patients:  patients,
		tokens:    tokens,
		params:    password.DefaultParams,
		logger:    zerolog.Nop(),
	}
}

// SetHashParams overrides the Argon2id cost used for new hashes.
func (s *Service) SetHashParams(p password.Params) {
	s.params = p
}

// SetEvents attaches the publisher domain events are sent to.
func (s *Service) SetEvents(p events.Publisher, logger zerolog.Logger) {
	s.events = p
	s.logger = logger
}

// Login checks credentials and issues an access token. Unknown emails and
// wrong passwords fail the same way; a deactivated account is only
// reported once the password has been verified.
func (s *Service) Login(ctx context.Context, email, plain string) (*LoginResult, error) {
	u, err := s.repo.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if !apperr.IsNotFound(err) {
			return nil, err
		}
		// Spend the same time as a real check.
		_, _ = password.Verify(plain, s.dummy())
		return nil, apperr.ErrInvalidCredentials
	}

	ok, err := password.Verify(plain, u.PasswordHash)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", u.ID.String()).Msg("stored password hash unreadable")
		return nil, apperr.ErrInvalidCredentials
	}
	if !ok {
		return nil, apperr.ErrInvalidCredentials
	}
	if !u.Active {
		return nil, apperr.ErrAccountDisabled
	}

	if password.NeedsRehash(u.PasswordHash, s.params) {
		if hash, err := password.Hash(plain, s.params); err == nil {
			if err := s.repo.SetPassword(ctx, u.ID, hash); err != nil {
				s.logger.Warn().Err(err).Str("user_id", u.ID.String()).Msg("rehash password failed")
			}
		}
	}
	if err := s.repo.TouchLogin(ctx, u.ID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", u.ID.String()).Msg("record login time failed")
	}

	token, exp, err := s.tokens.Issue(auth.Subject{ID: u.ID, Role: u.Role})
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, ExpiresAt: exp, User: u}, nil
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = password.Hash(uuid.NewString(), s.params)
	})
	return s.dummyHash
}

// ResolveCaller loads the current state of the user named by claims. It
// runs on every authenticated request, so deactivating a user or their
// hospital takes effect on the next request.
func (s *Service) ResolveCaller(ctx context.Context, claims auth.Claims) (access.Caller, error) {
	u, err := s.repo.GetByID(ctx, claims.SubjectID())
	if err != nil {
		return access.Caller{}, err
	}
	c := access.Caller{SubjectID: u.ID, Role: u.Role, Active: u.Active}

	switch u.Role {
	case access.RoleMedicalPersonnel:
		if u.HospitalID == nil {
			break
		}
		c.HospitalID = *u.HospitalID
		h, err := s.hospitals.Lookup(ctx, *u.HospitalID)
		switch {
		case err == nil:
			c.HospitalActive = h.Active()
		case !apperr.IsNotFound(err):
			return access.Caller{}, err
		}
	case access.RolePatient:
		if u.PatientID != nil {
			c.PatientID = *u.PatientID
		}
	}
	return c, nil
}

// Me returns the caller's own user.
func (s *Service) Me(ctx context.Context, caller access.Caller) (*User, error) {
	if !caller.Active {
		return nil, apperr.ErrAccountDisabled
	}
	return s.repo.GetByID(ctx, caller.SubjectID)
}

// ChangePassword replaces the caller's password after checking the
// current one.
func (s *Service) ChangePassword(ctx context.Context, caller access.Caller, current, next string) error {
	u, err := s.Me(ctx, caller)
	if err != nil {
		return err
	}
	var errs errsx.Map
	if ok, _ := password.Verify(current, u.PasswordHash); !ok {
		errs.Set("current_password", "is incorrect")
	}
	if len(next) < password.MinLength {
		errs.Set("new_password", "is too short")
	} else if next == current {
		errs.Set("new_password", "must differ from the current password")
	}
	if err := apperr.Validation(errs); err != nil {
		return err
	}

	hash, err := password.Hash(next, s.params)
	if err != nil {
		return err
	}
	return s.repo.SetPassword(ctx, u.ID, hash)
}

// CreateUser adds an identity. Medical personnel must belong to an active
// hospital and patient users must link an existing patient that has no
// account yet.
func (s *Service) CreateUser(ctx context.Context, caller access.Caller, in NewUser) (*User, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}

	var errs errsx.Map
	in.Email = strings.TrimSpace(in.Email)
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		errs.Set("email", "is not a valid address")
	} else {
		in.Email = strings.ToLower(in.Email)
	}
	if len(in.Password) < password.MinLength {
		errs.Set("password", "is too short")
	}
	in.FirstName = middleware.SanitizeString(in.FirstName)
	in.LastName = middleware.SanitizeString(in.LastName)
	if p, err := phone.Normalize(in.Phone); err != nil {
		errs.Set("phone", err)
	} else {
		in.Phone = p
	}

	switch in.Role {
	case access.RoleAdmin:
		in.HospitalID, in.PatientID = nil, nil
	case access.RoleMedicalPersonnel:
		in.PatientID = nil
		if in.HospitalID == nil {
			errs.Set("hospital_id", "is required for medical personnel")
		} else if h, err := s.hospitals.Lookup(ctx, *in.HospitalID); err != nil {
			if !apperr.IsNotFound(err) {
				return nil, err
			}
			errs.Set("hospital_id", "unknown hospital")
		} else if !h.Active() {
			errs.Set("hospital_id", "hospital is not active")
		}
	case access.RolePatient:
		in.HospitalID = nil
		if in.PatientID == nil {
			errs.Set("patient_id", "is required for patient users")
		} else if _, err := s.patients.Lookup(ctx, *in.PatientID); err != nil {
			if !apperr.IsNotFound(err) {
				return nil, err
			}
			errs.Set("patient_id", "unknown patient")
		}
	default:
		errs.Set("role", "must be admin, medical_personnel or patient")
	}
	if err := apperr.Validation(errs); err != nil {
		return nil, err
	}

	hash, err := password.Hash(in.Password, s.params)
	if err != nil {
		return nil, err
	}
	u := &User{
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Phone:        in.Phone,
		HospitalID:   in.HospitalID,
		PatientID:    in.PatientID,
		Active:       true,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, caller access.Caller, rawID string) (*User, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, apperr.NotFound("user")
	}
	return s.repo.GetByID(ctx, id)
}

// FindByEmail is used by the seeder and the admin CLI.
func (s *Service) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.repo.GetByEmail(ctx, email)
}

func (s *Service) ListUsers(ctx context.Context, caller access.Caller, f Filter, limit, offset int) ([]*User, int, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, 0, err
	}
	if f.Role != "" && !f.Role.Valid() {
		return nil, 0, apperr.Invalid("unknown role filter")
	}
	return s.repo.List(ctx, f, limit, offset)
}

// SetActive activates or deactivates a user. Admins cannot deactivate
// themselves.
func (s *Service) SetActive(ctx context.Context, caller access.Caller, rawID string, active bool) (*User, error) {
	u, err := s.GetUser(ctx, caller, rawID)
	if err != nil {
		return nil, err
	}
	if !active && u.ID == caller.SubjectID {
		return nil, apperr.Invalid("you cannot deactivate your own account")
	}
	if u.Active == active {
		return u, nil
	}
	if err := s.repo.SetActive(ctx, u.ID, active); err != nil {
		return nil, err
	}
	u.Active = active
	if !active {
		events.Emit(ctx, s.events, s.logger, events.New(events.UserDeactivated, u.ID, caller.SubjectID, map[string]any{
			"role": string(u.Role),
		}))
	}
	return u, nil
}

func requireAdmin(caller access.Caller) error {
	if caller.Role != access.RoleAdmin {
		return apperr.ErrForbidden
	}
	if !caller.Active {
		return apperr.ErrAccountDisabled
	}
	return nil
}
