package access

// Observer is notified of every decision an Authorizer makes.
type Observer func(caller Caller, d Decision)

// Authorizer wraps Decide for services and reports each outcome to the
// configured observers (metrics, debug logging).
type Authorizer struct {
	observers []Observer
}

// NewAuthorizer creates an Authorizer. Observers are optional.
func NewAuthorizer(observers ...Observer) *Authorizer {
	return &Authorizer{observers: observers}
}

// Check decides and returns the decision together with its error form.
// A nil Authorizer behaves like one with no observers.
func (a *Authorizer) Check(caller Caller, action Action, target Target) (Decision, error) {
	d := Decide(caller, action, target)
	if a != nil {
		for _, o := range a.observers {
			o(caller, d)
		}
	}
	return d, d.Err()
}
