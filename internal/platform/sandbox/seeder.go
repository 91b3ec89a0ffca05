// Package sandbox loads demo and bootstrap data from a YAML file. Seeding
// goes through the domain services as the system caller, so every row it
// writes passes the same validation as an API request. Hospitals are keyed
// by name and identities by email; running the same file twice creates
// nothing new.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/medqr/medqr/internal/domain/hospital"
	"github.com/medqr/medqr/internal/domain/identity"
	"github.com/medqr/medqr/internal/domain/patient"
	"github.com/medqr/medqr/internal/platform/access"
	"github.com/medqr/medqr/internal/platform/apperr"
)

// File is the root of a seed document.
type File struct {
	Hospitals []HospitalSeed `yaml:"hospitals"`
	Users     []UserSeed     `yaml:"users"`
	Patients  []PatientSeed  `yaml:"patients"`
	Generate  *Generation  `yaml:"generate"`
}

type HospitalSeed struct {
	Name    string `yaml:"name"`
	Phone   string `yaml:"phone"`
	Email   string `yaml:"email"`
	Street  string `yaml:"street"`
	City    string `yaml:"city"`
	State   string `yaml:"state"`
	Country string `yaml:"country"`
	Partner bool   `yaml:"partner"`
	Tier    string `yaml:"tier"`
}

// UserSeed declares a staff identity. Hospital is a hospital name from the
// same file or already in the store.
type UserSeed struct {
	Email     string `yaml:"email"`
	Password  string `yaml:"password"`
	Role      string `yaml:"role"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	Phone     string `yaml:"phone"`
	Hospital  string `yaml:"hospital"`
}

// PatientSeed declares a patient together with the account they log in
// with. The account email is what makes re-seeding idempotent.
type PatientSeed struct {
	FirstName   string       `yaml:"first_name"`
	LastName    string       `yaml:"last_name"`
	DateOfBirth string       `yaml:"date_of_birth"`
	Gender      string       `yaml:"gender"`
	BloodGroup  string       `yaml:"blood_group"`
	Genotype    string       `yaml:"genotype"`
	Phone       string       `yaml:"phone"`
	Hospital    string       `yaml:"hospital"`
	AccessLevel string       `yaml:"access_level"`
	Allergies   []string     `yaml:"allergies"`
	Contact     *ContactSeed `yaml:"emergency_contact"`
	Account     AccountSeed  `yaml:"account"`
}

type ContactSeed struct {
	Name         string `yaml:"name"`
	Relationship string `yaml:"relationship"`
	Phone        string `yaml:"phone"`
}

type AccountSeed struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// Generation asks for synthetic patients at one hospital.
type Generation struct {
	Patients int    `yaml:"patients"`
	Hospital string `yaml:"hospital"`
	Seed     int64  `yaml:"seed"`
	Password string `yaml:"password"`
}

// Result counts what a run created and what it found already present.
type Result struct {
	HospitalsCreated int `json:"hospitals_created"`
	HospitalsFound   int `json:"hospitals_found"`
	UsersCreated     int `json:"users_created"`
	UsersFound       int `json:"users_found"`
	PatientsCreated  int `json:"patients_created"`
	PatientsFound    int `json:"patients_found"`
}

// Load decodes a seed document. Unknown keys are rejected so typos do not
// silently drop data.
func Load(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	return &f, nil
}

func LoadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return Load(fh)
}

type HospitalService interface {
	Create(ctx context.Context, caller access.Caller, in hospital.Input) (*hospital.Hospital, error)
	List(ctx context.Context, caller access.Caller, f hospital.Filter, limit, offset int) ([]*hospital.Hospital, int, error)
}

type UserService interface {
	FindByEmail(ctx context.Context, email string) (*identity.User, error)
	CreateUser(ctx context.Context, caller access.Caller, in identity.NewUser) (*identity.User, error)
}

type PatientService interface {
	Create(ctx context.Context, caller access.Caller, in patient.Input) (*patient.Patient, error)
}

type Seeder struct {
	hospitals HospitalService
	users     UserService
	patients  PatientService
	logger    zerolog.Logger

	byName map[string]uuid.UUID
}

func NewSeeder(hospitals HospitalService, users UserService, patients PatientService, logger zerolog.Logger) *Seeder {
	return &Seeder{hospitals: hospitals, users: users, patients: patients, logger: logger}
}

// Seed applies f. It stops at the first failure; everything written before
// that stays, and a rerun picks up where it left off.
func (s *Seeder) Seed(ctx context.Context, f *File) (*Result, error) {
	s.byName = make(map[string]uuid.UUID)
	res := &Result{}

	for _, h := range f.Hospitals {
		if err := s.seedHospital(ctx, h, res); err != nil {
			return res, fmt.Errorf("hospital %q: %w", h.Name, err)
		}
	}
	for _, u := range f.Users {
		if err := s.seedUser(ctx, u, res); err != nil {
			return res, fmt.Errorf("user %q: %w", u.Email, err)
		}
	}
	for _, p := range f.Patients {
		if err := s.seedPatient(ctx, p, res); err != nil {
			return res, fmt.Errorf("patient %q: %w", p.Account.Email, err)
		}
	}
	if g := f.Generate; g != nil && g.Patients > 0 {
		gen := NewDataGenerator(g.Seed)
		password := g.Password
		if password == "" {
			password = DefaultPassword
		}
		for i := 0; i < g.Patients; i++ {
			p := gen.PatientSeed(g.Hospital, password)
			if err := s.seedPatient(ctx, p, res); err != nil {
				return res, fmt.Errorf("generated patient %d: %w", i+1, err)
			}
		}
	}
	return res, nil
}

func (s *Seeder) seedHospital(ctx context.Context, seed HospitalSeed, res *Result) error {
	if id, err := s.findHospital(ctx, seed.Name); err == nil {
		s.byName[key(seed.Name)] = id
		res.HospitalsFound++
		return nil
	} else if !apperr.IsNotFound(err) {
		return err
	}

	h, err := s.hospitals.Create(ctx, access.System, hospital.Input{
		Name:  seed.Name,
		Phone: seed.Phone,
		Email: seed.Email,
		Address: hospital.Address{
			Street:  seed.Street,
			City:    seed.City,
			State:   seed.State,
			Country: seed.Country,
		},
		Partnership: hospital.Partnership{IsPartner: seed.Partner, Tier: seed.Tier},
	})
	if err != nil {
		return err
	}
	s.byName[key(h.Name)] = h.ID
	res.HospitalsCreated++
	s.logger.Info().Str("hospital_id", h.ID.String()).Str("name", h.Name).Msg("seeded hospital")
	return nil
}

// findHospital resolves a hospital by exact name, case-insensitively.
func (s *Seeder) findHospital(ctx context.Context, name string) (uuid.UUID, error) {
	if id, ok := s.byName[key(name)]; ok {
		return id, nil
	}
	items, _, err := s.hospitals.List(ctx, access.System, hospital.Filter{Name: strings.TrimSpace(name)}, 100, 0)
	if err != nil {
		return uuid.Nil, err
	}
	for _, h := range items {
		if key(h.Name) == key(name) {
			s.byName[key(name)] = h.ID
			return h.ID, nil
		}
	}
	return uuid.Nil, apperr.NotFound("hospital " + name)
}

func (s *Seeder) hospitalRef(ctx context.Context, name string) (*uuid.UUID, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil
	}
	id, err := s.findHospital(ctx, name)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (s *Seeder) seedUser(ctx context.Context, seed UserSeed, res *Result) error {
	role := access.Role(seed.Role)
	if role == access.RolePatient {
		return apperr.Invalid("patient accounts belong under patients")
	}
	found, err := s.exists(ctx, seed.Email)
	if err != nil {
		return err
	}
	if found {
		res.UsersFound++
		return nil
	}
	hospitalID, err := s.hospitalRef(ctx, seed.Hospital)
	if err != nil {
		return err
	}
	u, err := s.users.CreateUser(ctx, access.System, identity.NewUser{
		Email:      seed.Email,
		Password:   seed.Password,
		Role:       role,
		FirstName:  seed.FirstName,
		LastName:   seed.LastName,
		Phone:      seed.Phone,
		HospitalID: hospitalID,
	})
	if err != nil {
		return err
	}
	res.UsersCreated++
	s.logger.Info().Str("user_id", u.ID.String()).Str("role", string(u.Role)).Msg("seeded user")
	return nil
}

func (s *Seeder) seedPatient(ctx context.Context, seed PatientSeed, res *Result) error {
	if seed.Account.Email == "" {
		return apperr.Invalid("account email is required")
	}
	found, err := s.exists(ctx, seed.Account.Email)
	if err != nil {
		return err
	}
	if found {
		res.PatientsFound++
		return nil
	}
	hospitalID, err := s.hospitalRef(ctx, seed.Hospital)
	if err != nil {
		return err
	}

	in := patient.Input{
		Biodata: patient.Biodata{
			FirstName:   seed.FirstName,
			LastName:    seed.LastName,
			DateOfBirth: seed.DateOfBirth,
			Gender:      seed.Gender,
			BloodGroup:  seed.BloodGroup,
			Genotype:    seed.Genotype,
			Phone:       seed.Phone,
			Email:       seed.Account.Email,
		},
		PrimaryHospitalID: hospitalID,
		AccessLevel:       seed.AccessLevel,
	}
	for _, a := range seed.Allergies {
		in.MedicalHistory.Allergies = append(in.MedicalHistory.Allergies, patient.Allergy{Allergen: a})
	}
	if c := seed.Contact; c != nil {
		in.EmergencyContact = patient.EmergencyContact{Name: c.Name, Relationship: c.Relationship, Phone: c.Phone}
	}

	p, err := s.patients.Create(ctx, access.System, in)
	if err != nil {
		return err
	}
	// A failure here leaves a patient without an account; the rerun creates
	// a second patient. Seed files are for fresh environments.
	if _, err := s.users.CreateUser(ctx, access.System, identity.NewUser{
		Email:     seed.Account.Email,
		Password:  seed.Account.Password,
		Role:      access.RolePatient,
		FirstName: seed.FirstName,
		LastName:  seed.LastName,
		PatientID: &p.ID,
	}); err != nil {
		return err
	}
	res.PatientsCreated++
	s.logger.Info().Str("patient_id", p.ID.String()).Str("patient_number", p.PatientNumber).Msg("seeded patient")
	return nil
}

func (s *Seeder) exists(ctx context.Context, email string) (bool, error) {
	_, err := s.users.FindByEmail(ctx, strings.TrimSpace(email))
	switch {
	case err == nil:
		return true, nil
	case apperr.IsNotFound(err):
		return false, nil
	}
	return false, err
}

func key(name string) string { return strings.ToLower(strings.TrimSpace(name)) }
