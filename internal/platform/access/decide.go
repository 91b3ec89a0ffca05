package access

import "github.com/google/uuid"

// Decide evaluates one action by caller against target. It is pure and
// performs no I/O; the caller and target must already be loaded.
//
// Checks run in a fixed order: account state, profile completeness, the
// role table, then the per-instance predicate. A denial on a patient or
// medical record that the caller could not read anyway is reported as
// not_found so the response does not reveal that the entity exists.
func Decide(caller Caller, action Action, target Target) Decision {
	d := Decision{Action: action}

	if !caller.Active {
		return d.deny(ReasonAccountDeactivated)
	}
	if !profileComplete(caller) {
		return d.deny(ReasonIncompleteProfile)
	}

	s, ok := lookup(caller.Role, action)
	if !ok {
		return d.deny(guard(caller, action, target, ReasonForbidden))
	}

	if action.Verb == VerbList {
		switch s {
		case scopeCallerHospital:
			d.HospitalScope = caller.HospitalID
		case scopeOwnPatient:
			d.PatientScope = caller.PatientID
		}
		d.Allowed = true
		return d
	}

	if action.Verb == VerbCreate {
		return d.decideCreate(caller, s, target)
	}

	if !target.Found {
		return d.deny(ReasonNotFound)
	}
	if target.Kind == KindPatient && !target.Active && caller.Role != RoleAdmin {
		return d.deny(ReasonNotFound)
	}
	if !inScope(caller, s, target) {
		return d.deny(guard(caller, action, target, ReasonForbidden))
	}
	if target.Kind == KindMedicalRecord && target.Status == "archived" &&
		action.Verb != VerbRead && caller.Role != RoleAdmin {
		return d.deny(ReasonForbidden)
	}

	d.Allowed = true
	return d
}

func (d Decision) deny(r Reason) Decision {
	d.Allowed = false
	d.Reason = r
	d.HospitalScope = uuid.Nil
	d.PatientScope = uuid.Nil
	return d
}

func (d Decision) decideCreate(caller Caller, s scope, target Target) Decision {
	if target.Kind != KindMedicalRecord {
		d.Allowed = true
		return d
	}
	if !target.Found {
		return d.deny(ReasonNotFound)
	}
	if !target.Active && caller.Role != RoleAdmin {
		return d.deny(ReasonNotFound)
	}
	if !target.HospitalActive {
		return d.deny(ReasonNotFound)
	}
	if !inScope(caller, s, target) {
		return d.deny(ReasonForbidden)
	}
	d.Allowed = true
	return d
}

func profileComplete(c Caller) bool {
	switch c.Role {
	case RoleMedicalPersonnel:
		return c.HospitalID != uuid.Nil && c.HospitalActive
	case RolePatient:
		return c.PatientID != uuid.Nil
	}
	return true
}

func inScope(c Caller, s scope, t Target) bool {
	switch s {
	case scopeAll:
		return true
	case scopeCallerHospital:
		return t.HospitalID != uuid.Nil && t.HospitalID == c.HospitalID
	case scopeOwnPatient:
		return t.PatientID != uuid.Nil && t.PatientID == c.PatientID
	}
	return false
}

// canRead reports whether caller would be allowed to read target.
func canRead(c Caller, t Target) bool {
	if !t.Found {
		return false
	}
	if t.Kind == KindPatient && !t.Active && c.Role != RoleAdmin {
		return false
	}
	s, ok := lookup(c.Role, Read(t.Kind))
	return ok && inScope(c, s, t)
}

// guard rewrites an instance-level denial on a patient or medical record
// into not_found unless the caller may read the target. Hospital denials
// and class-level denials pass through.
func guard(c Caller, a Action, t Target, r Reason) Reason {
	if !a.Verb.instanceLevel() || a.Kind == KindHospital {
		return r
	}
	if !canRead(c, t) {
		return ReasonNotFound
	}
	return r
}
