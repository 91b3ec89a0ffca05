package hospital

import (
	"context"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/hengadev/errsx"

	"github.com/medqr/medqr/internal/platform/access"
	"github.com/medqr/medqr/internal/platform/apperr"
	"github.com/medqr/medqr/internal/platform/middleware"
	"github.com/medqr/medqr/pkg/phone"
)

type Service struct {
	repo  Repository
	authz *access.Authorizer
}

func NewService(repo Repository, authz *access.Authorizer) *Service {
	return &Service{repo: repo, authz: authz}
}

// Lookup loads a hospital without an access check. Other domains use it to
// resolve references they have already been authorized for.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Create(ctx context.Context, caller access.Caller, in Input) (*Hospital, error) {
	if _, err := s.authz.Check(caller, access.Create(access.KindHospital), access.Class(access.KindHospital)); err != nil {
		return nil, err
	}
	if err := normalize(&in); err != nil {
		return nil, err
	}
	h := &Hospital{
		Name:        in.Name,
		Address:     in.Address,
		Phone:       in.Phone,
		Email:       in.Email,
		Partnership: in.Partnership,
		Status:      StatusActive,
	}
	if err := s.repo.Create(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

// Get resolves rawID and returns the hospital if caller may read it.
// Malformed and unknown ids are both reported as not found.
func (s *Service) Get(ctx context.Context, caller access.Caller, rawID string) (*Hospital, error) {
	return s.load(ctx, caller, access.Read(access.KindHospital), rawID)
}

func (s *Service) List(ctx context.Context, caller access.Caller, f Filter, limit, offset int) ([]*Hospital, int, error) {
	if _, err := s.authz.Check(caller, access.List(access.KindHospital), access.Class(access.KindHospital)); err != nil {
		return nil, 0, err
	}
	if f.Status != "" && !ValidStatus(f.Status) {
		return nil, 0, apperr.Invalid("unknown status filter")
	}
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) Update(ctx context.Context, caller access.Caller, rawID string, in Input) (*Hospital, error) {
	h, err := s.load(ctx, caller, access.Update(access.KindHospital), rawID)
	if err != nil {
		return nil, err
	}
	if err := normalize(&in); err != nil {
		return nil, err
	}
	h.Name = in.Name
	h.Address = in.Address
	h.Phone = in.Phone
	h.Email = in.Email
	h.Partnership = in.Partnership
	if err := s.repo.Update(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

// SetStatus activates, deactivates or suspends a hospital. Medical
// personnel of a hospital that is not active lose access on their next
// request.
func (s *Service) SetStatus(ctx context.Context, caller access.Caller, rawID, status string) (*Hospital, error) {
	h, err := s.load(ctx, caller, access.Update(access.KindHospital), rawID)
	if err != nil {
		return nil, err
	}
	if !ValidStatus(status) {
		var errs errsx.Map
		errs.Set("status", "must be one of active, inactive, suspended")
		return nil, apperr.Validation(errs)
	}
	if err := s.repo.SetStatus(ctx, h.ID, status); err != nil {
		return nil, err
	}
	h.Status = status
	return h, nil
}

// Stats counts hospitals per status.
func (s *Service) Stats(ctx context.Context, caller access.Caller) (map[string]int, error) {
	if _, err := s.authz.Check(caller, access.List(access.KindHospital), access.Class(access.KindHospital)); err != nil {
		return nil, err
	}
	return s.repo.CountByStatus(ctx)
}

func (s *Service) load(ctx context.Context, caller access.Caller, action access.Action, rawID string) (*Hospital, error) {
	target := access.Missing(access.KindHospital)
	var h *Hospital
	if id, err := uuid.Parse(rawID); err == nil {
		found, err := s.repo.GetByID(ctx, id)
		switch {
		case err == nil:
			h = found
			target = h.Target()
		case !apperr.IsNotFound(err):
			return nil, err
		}
	}
	if _, err := s.authz.Check(caller, action, target); err != nil {
		return nil, err
	}
	return h, nil
}

func normalize(in *Input) error {
	var errs errsx.Map
	in.Name = middleware.SanitizeString(in.Name)
	a := &in.Address
	for _, f := range []*string{&a.Street, &a.City, &a.State, &a.Country, &a.PostalCode} {
		*f = middleware.SanitizeString(*f)
	}
	in.Partnership.Tier = middleware.SanitizeString(in.Partnership.Tier)
	if in.Name == "" {
		errs.Set("name", "is required")
	} else if len(in.Name) > 200 {
		errs.Set("name", "must be at most 200 characters")
	}
	if in.Email != "" {
		addr, err := mail.ParseAddress(in.Email)
		if err != nil {
			errs.Set("email", "is not a valid address")
		} else {
			in.Email = strings.ToLower(addr.Address)
		}
	}
	if p, err := phone.Normalize(in.Phone); err != nil {
		errs.Set("phone", err)
	} else {
		in.Phone = p
	}
	return apperr.Validation(errs)
}
