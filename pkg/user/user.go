package user

// User is a RADIUS account. Properties prefixed with "reply:" or "control:"
// are copied into the matching attribute list on authorize, "check:" ones
// must match the request.
type User struct {
	ID         string            `json:"id,omitempty" bson:"id"`
	Realm      string            `json:"realm,omitempty" bson:"realm,omitempty"`
	Properties map[string]string `json:"properties,omitempty" bson:"properties,omitempty"`
}

type Password struct {
	Password string `json:"password,omitempty"`
}

type ValidatePasswordResult struct {
	Valid bool `json:"valid,omitempty"`
}

func (u *User) SetProperty(prop, val string) {
	if u.Properties == nil {
		u.Properties = make(map[string]string)
	}
	u.Properties[prop] = val
}
