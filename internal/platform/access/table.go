package access

// scope is the rule a table cell applies once the role/kind/verb matched.
type scope int

const (
	// scopeAll allows every instance.
	scopeAll scope = iota + 1
	// scopeCallerHospital restricts instances to the caller's hospital and
	// filters lists to it.
	scopeCallerHospital
	// scopeOwnPatient restricts instances to the caller's linked patient and
	// filters lists to it.
	scopeOwnPatient
)

type rules map[Kind]map[Verb]scope

// table is the complete authorization surface. Anything absent is denied.
var table = map[Role]rules{
	RoleAdmin: {
		KindHospital:      allVerbs(scopeAll),
		KindPatient:       allVerbs(scopeAll),
		KindMedicalRecord: allVerbs(scopeAll),
	},
	RoleMedicalPersonnel: {
		KindHospital: {
			VerbRead: scopeAll,
			VerbList: scopeAll,
		},
		KindPatient: {
			VerbRead:   scopeAll,
			VerbCreate: scopeAll,
			VerbUpdate: scopeAll,
			VerbList:   scopeCallerHospital,
		},
		KindMedicalRecord: {
			VerbCreate:  scopeCallerHospital,
			VerbRead:    scopeCallerHospital,
			VerbUpdate:  scopeCallerHospital,
			VerbArchive: scopeCallerHospital,
			VerbList:    scopeCallerHospital,
		},
	},
	RolePatient: {
		KindPatient: {
			VerbRead: scopeOwnPatient,
		},
		KindMedicalRecord: {
			VerbRead: scopeOwnPatient,
			VerbList: scopeOwnPatient,
		},
	},
}

func allVerbs(s scope) map[Verb]scope {
	return map[Verb]scope{
		VerbRead:    s,
		VerbList:    s,
		VerbCreate:  s,
		VerbUpdate:  s,
		VerbArchive: s,
	}
}

func lookup(r Role, a Action) (scope, bool) {
	kinds, ok := table[r]
	if !ok {
		return 0, false
	}
	s, ok := kinds[a.Kind][a.Verb]
	return s, ok
}
