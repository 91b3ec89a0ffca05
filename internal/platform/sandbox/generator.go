package sandbox

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// DefaultPassword is given to generated patient accounts when the seed
// file names none.
const DefaultPassword = "sandbox-patient"

// DataGenerator produces reproducible synthetic patients.
type DataGenerator struct {
	rng     *rand.Rand
	counter int
}

// NewDataGenerator returns a generator seeded for reproducibility. If seed is
// 0 a time-based seed is chosen.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) randomDate(minYear, maxYear int) string {
	y := minYear + g.rng.Intn(maxYear-minYear+1)
	m := 1 + g.rng.Intn(12)
	d := 1 + g.rng.Intn(28) // safe for all months
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

// randomPhone returns a Nigerian mobile number in E.164 form.
func (g *DataGenerator) randomPhone() string {
	return fmt.Sprintf("+234%s%07d", g.pick(mobilePrefixes), g.rng.Intn(10000000))
}

// PatientSeed produces one patient registered at hospital. Account emails
// carry a counter so a run never collides with itself, and the same seed
// yields the same emails, which keeps reruns idempotent.
func (g *DataGenerator) PatientSeed(hospital, password string) PatientSeed {
	g.counter++
	gender := "female"
	first := g.pick(firstNamesFemale)
	if g.rng.Intn(2) == 0 {
		gender = "male"
		first = g.pick(firstNamesMale)
	}
	last := g.pick(lastNames)

	p := PatientSeed{
		FirstName:   first,
		LastName:    last,
		DateOfBirth: g.randomDate(1940, 2015),
		Gender:      gender,
		BloodGroup:  g.pick(bloodGroups),
		Genotype:    g.pick(genotypes),
		Phone:       g.randomPhone(),
		Hospital:    hospital,
		AccessLevel: g.pick(accessLevels),
		Contact: &ContactSeed{
			Name:         g.pick(firstNamesFemale) + " " + last,
			Relationship: g.pick(relationships),
			Phone:        g.randomPhone(),
		},
		Account: AccountSeed{
			Email:    fmt.Sprintf("%s.%s.%04d@patients.example.com", strings.ToLower(first), strings.ToLower(last), g.counter),
			Password: password,
		},
	}
	for i, n := 0, g.rng.Intn(3); i < n; i++ {
		p.Allergies = append(p.Allergies, g.pick(allergens))
	}
	return p
}

var (
	firstNamesMale   = []string{"Chinedu", "Emeka", "Tunde", "Ibrahim", "Segun", "Musa", "Obinna", "Kelechi", "Yusuf", "Femi"}
	firstNamesFemale = []string{"Ngozi", "Amaka", "Funke", "Aisha", "Zainab", "Chioma", "Yetunde", "Halima", "Ifeoma", "Bisi"}
	lastNames        = []string{"Okafor", "Adeyemi", "Bello", "Eze", "Ogunleye", "Abubakar", "Nwosu", "Balogun", "Okonkwo", "Danjuma"}
	mobilePrefixes   = []string{"803", "806", "813", "816", "703", "706", "810", "814", "903"}
	bloodGroups      = []string{"O+", "O-", "A+", "A-", "B+", "B-", "AB+", "AB-"}
	genotypes        = []string{"AA", "AA", "AA", "AS", "AS", "SS", "AC"}
	accessLevels     = []string{"full", "full", "limited", "emergency_only"}
	relationships    = []string{"spouse", "sibling", "parent", "child", "friend"}
	allergens        = []string{"penicillin", "sulfonamides", "peanuts", "shellfish", "latex", "aspirin", "chloroquine"}
)
